// Package socket connects to a realtime chat bridge over WebSocket and keeps
// the connection alive until the session is logged out.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harrisonrobin/tasklink/pkg/metrics"
	"github.com/harrisonrobin/tasklink/pkg/router"
	"github.com/harrisonrobin/tasklink/pkg/transport"
)

// StatusLoggedOut is the close code the bridge uses when the chat session was
// revoked. It is terminal.
const StatusLoggedOut websocket.StatusCode = 4401

// ErrLoggedOut is returned by Run once the session has been logged out.
// Re-authenticating on the bridge is the only way forward.
var ErrLoggedOut = errors.New("chat session logged out")

const maxFrameSize = 1 << 20

// State is the connection lifecycle.
type State int32

const (
	Closed State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	}
	return "closed"
}

type Config struct {
	URL   string
	Token string
	// Backoff spaces out reconnects. Nil means exponential with the package defaults.
	Backoff backoff.BackOff
	// OnState is called on every state change.
	OnState func(State)
	// OnReady receives the bridge's own account id once a session is ready.
	OnReady func(self string)
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// frame is one JSON message on the bridge connection, in either direction.
type frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	From    string `json:"from,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
	Chat    string `json:"chat,omitempty"`
	Text    string `json:"text,omitempty"`
	Target  string `json:"target,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
	Self    string `json:"self,omitempty"`
}

// Client is a transport.Source and a router.Notifier.
type Client struct {
	cfg     Config
	backoff backoff.BackOff
	log     zerolog.Logger

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
}

func New(cfg Config) *Client {
	b := cfg.Backoff
	if b == nil {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = time.Second
		exp.MaxInterval = 30 * time.Second
		b = exp
	}
	return &Client{
		cfg:     cfg,
		backoff: b,
		log:     cfg.Logger.With().Str("component", "socket").Logger(),
	}
}

func (c *Client) Name() string { return "socket" }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed {
		c.log.Debug().Stringer("state", s).Msg("connection state changed")
		if c.cfg.OnState != nil {
			c.cfg.OnState(s)
		}
	}
}

// Run connects and reconnects until ctx ends or the session is logged out.
// It returns nil on cancellation and ErrLoggedOut on logout.
func (c *Client) Run(ctx context.Context, sink transport.Sink) error {
	for {
		c.setState(Connecting)
		err := c.session(ctx, sink)
		c.setState(Closed)

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrLoggedOut) {
			c.log.Error().Msg("chat session logged out, not reconnecting")
			return ErrLoggedOut
		}

		delay := c.backoff.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("giving up on %s: %w", c.cfg.URL, err)
		}
		c.log.Warn().Err(err).Dur("backoff", delay).Msg("connection lost, reconnecting")
		c.cfg.Metrics.RecordReconnect(ctx, c.Name())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection from dial to close.
func (c *Client) session(ctx context.Context, sink transport.Sink) error {
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if c.cfg.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	sessionID := uuid.NewString()
	opts.HTTPHeader.Set("X-Session-Id", sessionID)

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, opts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	log := c.log.With().Str("session", sessionID).Logger()
	c.setState(Open)
	c.backoff.Reset()
	log.Info().Str("url", c.cfg.URL).Msg("connected to chat bridge")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == StatusLoggedOut {
				return ErrLoggedOut
			}
			return fmt.Errorf("read: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Msg("skipping malformed frame")
			continue
		}

		switch f.Type {
		case "ready":
			log.Info().Str("self", f.Self).Msg("chat session ready")
			if c.cfg.OnReady != nil && f.Self != "" {
				c.cfg.OnReady(f.Self)
			}
		case "logged_out":
			conn.Close(websocket.StatusNormalClosure, "logged out")
			return ErrLoggedOut
		default:
			ev, ok := f.event()
			if !ok {
				log.Debug().Str("type", f.Type).Msg("ignoring frame")
				continue
			}
			sink(ctx, ev)
		}
	}
}

func (f frame) event() (router.Event, bool) {
	switch f.Type {
	case "message":
		return router.NewMessage{MessageID: f.ID, Sender: f.From, ReplyTo: f.ReplyTo, Chat: f.Chat, Text: f.Text}, true
	case "edit":
		return router.EditedMessage{MessageID: f.ID, Sender: f.From, Chat: f.Chat, OriginalID: f.Target, Text: f.Text}, true
	case "reaction":
		return router.Reaction{MessageID: f.ID, Sender: f.From, Chat: f.Chat, TargetID: f.Target, Emoji: f.Emoji}, true
	case "delete":
		return router.Deletion{MessageID: f.ID, Sender: f.From, Chat: f.Chat, TargetID: f.Target}, true
	}
	return nil, false
}

// Notify sends a text to a chat through the bridge.
func (c *Client) Notify(ctx context.Context, chat, text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	return wsjson.Write(ctx, conn, frame{Type: "reply", Chat: chat, Text: text})
}
