// Package webhook receives chat events pushed over HTTPS in the WhatsApp
// Cloud API format.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harrisonrobin/tasklink/pkg/dedupe"
	"github.com/harrisonrobin/tasklink/pkg/transport"
)

const maxBodySize = 1 << 20

type Config struct {
	Addr        string
	Path        string
	VerifyToken string
	// DedupeWindow is how many recent message ids are remembered to drop
	// redeliveries.
	DedupeWindow int
	Logger       zerolog.Logger
}

// Server is a transport.Source backed by an HTTP listener.
type Server struct {
	cfg    Config
	window *dedupe.Window
	log    zerolog.Logger
}

func New(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	return &Server{
		cfg:    cfg,
		window: dedupe.NewWindow(cfg.DedupeWindow),
		log:    cfg.Logger.With().Str("component", "webhook").Logger(),
	}
}

func (s *Server) Name() string { return "webhook" }

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context, sink transport.Sink) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(ctx, sink),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Str("path", s.cfg.Path).Msg("webhook listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP handler. Events are passed to sink with ctx, not
// with the request context, since processing outlives the request.
func (s *Server) Handler(ctx context.Context, sink transport.Sink) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.Path, s.verify)
	mux.HandleFunc("POST "+s.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		s.deliver(ctx, sink, w, r)
	})
	return mux
}

// verify answers the subscription handshake. Only the token decides; the
// mode is logged but not checked.
func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := firstOf(q.Get("hub.mode"), q.Get("mode"))
	token := firstOf(q.Get("hub.verify_token"), q.Get("verify_token"))
	challenge := firstOf(q.Get("hub.challenge"), q.Get("challenge"))

	if s.cfg.VerifyToken == "" || token != s.cfg.VerifyToken {
		s.log.Warn().Str("mode", mode).Msg("webhook verification rejected")
		w.WriteHeader(http.StatusForbidden)
		return
	}
	s.log.Info().Str("mode", mode).Msg("webhook verified")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// deliver always acknowledges with 200; problems are only logged.
func (s *Server) deliver(ctx context.Context, sink transport.Sink, w http.ResponseWriter, r *http.Request) {
	log := s.log.With().Str("delivery", uuid.NewString()).Logger()
	defer w.WriteHeader(http.StatusOK)

	var env envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&env); err != nil {
		log.Warn().Err(err).Msg("ignoring malformed delivery")
		return
	}

	for _, msg := range env.messages() {
		ev, ok := msg.event()
		if !ok {
			log.Debug().Str("type", msg.Type).Str("message_id", msg.ID).Msg("ignoring unsupported message")
			continue
		}
		if !s.window.Observe(ev.ID()) {
			log.Debug().Str("message_id", ev.ID()).Msg("duplicate delivery dropped")
			continue
		}
		sink(ctx, ev)
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
