package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/tasklink/pkg/router"
)

const updatesJSON = `{"ok":true,"result":[
  {"update_id":1,"message":{"message_id":10,"date":0,"from":{"id":7,"is_bot":false,"first_name":"Ann"},"chat":{"id":42,"type":"private"},"text":". Buy milk"}},
  {"update_id":2,"message":{"message_id":11,"date":0,"from":{"id":7,"is_bot":false,"first_name":"Ann"},"chat":{"id":42,"type":"private"},"text":". Pay bill","reply_to_message":{"message_id":10,"date":0,"chat":{"id":42,"type":"private"}}}},
  {"update_id":3,"edited_message":{"message_id":10,"date":0,"edit_date":5,"from":{"id":7,"is_bot":false,"first_name":"Ann"},"chat":{"id":42,"type":"private"},"text":". Buy oat milk"}}
]}`

// fakeBotAPI serves just enough of the Bot API for polling and sending.
type fakeBotAPI struct {
	polls atomic.Int32

	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/botTOKEN/getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"tasklink","username":"tasklink_bot"}}`))
	case "/botTOKEN/getUpdates":
		if f.polls.Add(1) == 1 {
			_, _ = w.Write([]byte(updatesJSON))
			return
		}
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	case "/botTOKEN/sendMessage":
		_ = r.ParseForm()
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{"chat_id": r.FormValue("chat_id"), "text": r.FormValue("text")})
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":100,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		http.NotFound(w, r)
	}
}

func TestRunDeliversMessagesAndEdits(t *testing.T) {
	api := &fakeBotAPI{}
	ts := httptest.NewServer(api)
	defer ts.Close()

	b := New(Config{Token: "TOKEN", Endpoint: ts.URL + "/bot%s/%s", Logger: zerolog.Nop()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var events []router.Event
	sink := func(_ context.Context, ev router.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
		if len(events) == 3 {
			cancel()
		}
	}

	require.NoError(t, b.Run(ctx, sink))

	require.Len(t, events, 3)
	assert.Equal(t, router.NewMessage{MessageID: "42:10", Sender: "7", Chat: "42", Text: ". Buy milk"}, events[0])
	assert.Equal(t, router.NewMessage{MessageID: "42:11", Sender: "7", Chat: "42", ReplyTo: "42:10", Text: ". Pay bill"}, events[1])
	assert.Equal(t, router.EditedMessage{MessageID: "42:10@5", Sender: "7", Chat: "42", OriginalID: "42:10", Text: ". Buy oat milk"}, events[2])

	require.NoError(t, b.Notify(context.Background(), "42", "Could not create task"))
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sent, 1)
	assert.Equal(t, map[string]string{"chat_id": "42", "text": "Could not create task"}, api.sent[0])
}

// doublingBackOff doubles from base and records every delay it hands out.
type doublingBackOff struct {
	base time.Duration

	mu     sync.Mutex
	next   time.Duration
	delays []time.Duration
	resets int
}

func (d *doublingBackOff) NextBackOff() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next == 0 {
		d.next = d.base
	}
	delay := d.next
	d.delays = append(d.delays, delay)
	d.next *= 2
	return delay
}

func (d *doublingBackOff) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next = d.base
	d.resets++
}

// idleBotAPI holds every poll open past the stall timeout. When perSession
// is set, the first poll of each session returns one message.
func idleBotAPI(perSession bool) (*httptest.Server, *atomic.Int32) {
	var sessions, nextID atomic.Int32
	var pending atomic.Bool
	api := &fakeBotAPI{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/botTOKEN/getMe":
			sessions.Add(1)
			pending.Store(perSession)
		case "/botTOKEN/getUpdates":
			if pending.CompareAndSwap(true, false) {
				id := nextID.Add(1)
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprintf(w, `{"ok":true,"result":[{"update_id":%d,"message":{"message_id":%d,"date":0,"from":{"id":7,"is_bot":false,"first_name":"Ann"},"chat":{"id":42,"type":"private"},"text":"hi"}}]}`, id, id)
				return
			}
			select {
			case <-r.Context().Done():
			case <-time.After(200 * time.Millisecond):
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
			return
		}
		api.ServeHTTP(w, r)
	}))
	return ts, &sessions
}

func TestRunBacksOffWhileStalled(t *testing.T) {
	ts, sessions := idleBotAPI(false)
	defer ts.Close()

	bo := &doublingBackOff{base: 10 * time.Millisecond}
	b := New(Config{Token: "TOKEN", Endpoint: ts.URL + "/bot%s/%s", StallTimeout: 20 * time.Millisecond, Backoff: bo, Logger: zerolog.Nop()})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, b.Run(ctx, func(context.Context, router.Event) {}))

	bo.mu.Lock()
	defer bo.mu.Unlock()
	require.GreaterOrEqual(t, len(bo.delays), 2)
	assert.Equal(t, 10*time.Millisecond, bo.delays[0])
	assert.Equal(t, 20*time.Millisecond, bo.delays[1])
	assert.Zero(t, bo.resets, "sessions without updates keep growing the backoff")
	assert.GreaterOrEqual(t, int(sessions.Load()), len(bo.delays))
}

func TestRunResetsBackoffAfterDelivery(t *testing.T) {
	ts, sessions := idleBotAPI(true)
	defer ts.Close()

	bo := &doublingBackOff{base: 10 * time.Millisecond}
	b := New(Config{Token: "TOKEN", Endpoint: ts.URL + "/bot%s/%s", StallTimeout: 20 * time.Millisecond, Backoff: bo, Logger: zerolog.Nop()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var delivered atomic.Int32
	sink := func(context.Context, router.Event) {
		if delivered.Add(1) == 3 {
			cancel()
		}
	}
	require.NoError(t, b.Run(ctx, sink))

	assert.Equal(t, int32(3), delivered.Load())
	assert.Equal(t, int32(3), sessions.Load())

	bo.mu.Lock()
	defer bo.mu.Unlock()
	require.Len(t, bo.delays, 2)
	for _, d := range bo.delays {
		assert.Equal(t, 10*time.Millisecond, d, "a session that delivered updates starts the backoff over")
	}
	assert.Equal(t, 2, bo.resets)
}

func TestNotifyBeforeRun(t *testing.T) {
	b := New(Config{Token: "TOKEN", Logger: zerolog.Nop()})
	assert.Error(t, b.Notify(context.Background(), "42", "hi"))
}

func TestToEventIgnoresOtherUpdates(t *testing.T) {
	_, ok := toEvent(tgbotapi.Update{UpdateID: 1})
	assert.False(t, ok)

	_, ok = toEvent(tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: 1}}})
	assert.False(t, ok, "messages without a sender are skipped")
}
