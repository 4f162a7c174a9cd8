package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/harrisonrobin/tasklink/pkg/router"
)

// bridge is a fake chat bridge. script runs once per accepted connection,
// numbered from 1.
type bridge struct {
	conns  atomic.Int32
	script func(ctx context.Context, n int32, conn *websocket.Conn)
}

func (b *bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer secret" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	b.script(r.Context(), b.conns.Add(1), conn)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

type recorder struct {
	mu     sync.Mutex
	events []router.Event
	states []State
}

func (r *recorder) sink(_ context.Context, ev router.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) onState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func TestRunReconnectsUntilLoggedOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := &bridge{script: func(ctx context.Context, n int32, conn *websocket.Conn) {
		switch n {
		case 1:
			_ = wsjson.Write(ctx, conn, frame{Type: "ready", Self: "94771234567@s.whatsapp.net"})
			_ = wsjson.Write(ctx, conn, frame{Type: "message", ID: "m1", From: "94771234567@s.whatsapp.net", Chat: "c1", Text: ". Buy milk"})
			_ = conn.Write(ctx, websocket.MessageText, []byte("not json"))
			_ = wsjson.Write(ctx, conn, frame{Type: "reaction", ID: "r1", From: "94771234567@s.whatsapp.net", Target: "m1", Emoji: "👍"})
			conn.Close(websocket.StatusGoingAway, "restarting")
		default:
			_ = wsjson.Write(ctx, conn, frame{Type: "delete", ID: "d1", From: "94771234567@s.whatsapp.net", Target: "m1"})
			conn.Close(StatusLoggedOut, "logged out")
		}
	}}
	ts := httptest.NewServer(b)
	defer ts.Close()

	rec := &recorder{}
	var self atomic.Value
	c := New(Config{
		URL:     wsURL(ts),
		Token:   "secret",
		Backoff: backoff.NewConstantBackOff(5 * time.Millisecond),
		OnState: rec.onState,
		OnReady: func(s string) { self.Store(s) },
		Logger:  zerolog.Nop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx, rec.sink)

	require.ErrorIs(t, err, ErrLoggedOut)
	assert.Equal(t, int32(2), b.conns.Load())
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, "94771234567@s.whatsapp.net", self.Load())

	require.Len(t, rec.events, 3)
	assert.Equal(t, router.NewMessage{MessageID: "m1", Sender: "94771234567@s.whatsapp.net", Chat: "c1", Text: ". Buy milk"}, rec.events[0])
	assert.Equal(t, router.Reaction{MessageID: "r1", Sender: "94771234567@s.whatsapp.net", TargetID: "m1", Emoji: "👍"}, rec.events[1])
	assert.Equal(t, router.Deletion{MessageID: "d1", Sender: "94771234567@s.whatsapp.net", TargetID: "m1"}, rec.events[2])

	assert.Equal(t, []State{Connecting, Open, Closed, Connecting, Open, Closed}, rec.states)
}

func TestRunLoggedOutFrame(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := &bridge{script: func(ctx context.Context, _ int32, conn *websocket.Conn) {
		_ = wsjson.Write(ctx, conn, frame{Type: "logged_out"})
		_, _, _ = conn.Read(ctx)
	}}
	ts := httptest.NewServer(b)
	defer ts.Close()

	c := New(Config{URL: wsURL(ts), Token: "secret", Backoff: backoff.NewConstantBackOff(time.Millisecond), Logger: zerolog.Nop()})
	err := c.Run(context.Background(), func(context.Context, router.Event) {})

	assert.ErrorIs(t, err, ErrLoggedOut)
	assert.Equal(t, int32(1), b.conns.Load())
}

func TestRunRetriesFailedDials(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := &bridge{script: func(ctx context.Context, _ int32, conn *websocket.Conn) {
		conn.Close(StatusLoggedOut, "logged out")
	}}
	ts := httptest.NewServer(b)
	defer ts.Close()

	// A wrong token is rejected at the handshake; the client keeps trying
	// until the context ends.
	c := New(Config{URL: wsURL(ts), Token: "wrong", Backoff: backoff.NewConstantBackOff(5 * time.Millisecond), Logger: zerolog.Nop()})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, func(context.Context, router.Event) {})

	assert.NoError(t, err)
	assert.Equal(t, int32(0), b.conns.Load())
	assert.Equal(t, Closed, c.State())
}

func TestNotify(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	replies := make(chan frame, 1)
	b := &bridge{script: func(ctx context.Context, _ int32, conn *websocket.Conn) {
		_ = wsjson.Write(ctx, conn, frame{Type: "ready", Self: "1"})
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err == nil {
			replies <- f
		}
		conn.Close(StatusLoggedOut, "done")
	}}
	ts := httptest.NewServer(b)
	defer ts.Close()

	var c *Client
	notifyErr := make(chan error, 1)
	c = New(Config{
		URL:   wsURL(ts),
		Token: "secret",
		OnReady: func(string) {
			go func() { notifyErr <- c.Notify(context.Background(), "chat-1", "Could not create task") }()
		},
		Logger: zerolog.Nop(),
	})

	err := c.Run(context.Background(), func(context.Context, router.Event) {})
	require.ErrorIs(t, err, ErrLoggedOut)
	require.NoError(t, <-notifyErr)

	select {
	case f := <-replies:
		assert.Equal(t, frame{Type: "reply", Chat: "chat-1", Text: "Could not create task"}, f)
	default:
		t.Fatal("bridge did not receive the reply frame")
	}

	assert.Error(t, c.Notify(context.Background(), "chat-1", "late"))
}
