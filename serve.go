package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/tasklink/pkg/config"
	"github.com/harrisonrobin/tasklink/pkg/google"
	"github.com/harrisonrobin/tasklink/pkg/index"
	"github.com/harrisonrobin/tasklink/pkg/logging"
	"github.com/harrisonrobin/tasklink/pkg/metrics"
	"github.com/harrisonrobin/tasklink/pkg/parser"
	"github.com/harrisonrobin/tasklink/pkg/router"
	"github.com/harrisonrobin/tasklink/pkg/transport"
	"github.com/harrisonrobin/tasklink/pkg/transport/socket"
	"github.com/harrisonrobin/tasklink/pkg/transport/telegram"
	"github.com/harrisonrobin/tasklink/pkg/transport/webhook"
)

const (
	flushSchedule   = "@every 1m"
	summarySchedule = "@every 5m"
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	var transportKind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine on the configured transport",
		Long: `Run the sync engine until interrupted.

Examples:
  tasklink serve
  tasklink serve --transport telegram`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if transportKind != "" {
				cfg.Transport.Kind = transportKind
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log, closer, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repo, err := google.NewClient(ctx, google.Config{
				DefaultList:      cfg.Store.DefaultList,
				DefaultWorkspace: cfg.Parser.DefaultWorkspace,
				Logger:           log,
			})
			if err != nil {
				return fmt.Errorf("error creating Google Tasks client: %w", err)
			}
			return serve(ctx, cfg, repo, log)
		},
	}
	cmd.Flags().StringVarP(&transportKind, "transport", "t", "", "transport to use (socket, webhook, telegram)")
	return cmd
}

// serve runs the engine until ctx ends or the transport gives up. In-flight
// events finish and the links are flushed before it returns.
func serve(ctx context.Context, cfg *config.Config, repo router.Repository, log zerolog.Logger) error {
	provider := metrics.Init(cfg.Metrics)
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("metrics shutdown failed")
		}
	}()
	m, err := metrics.NewMetrics(provider.Meter)
	if err != nil {
		return err
	}

	persister, err := openPersister(ctx, cfg.Links)
	if err != nil {
		return err
	}
	links := index.Open(ctx, persister, log)
	defer func() {
		if err := links.Close(); err != nil {
			log.Warn().Err(err).Msg("closing links failed")
		}
	}()

	p, err := newParser(cfg.Parser)
	if err != nil {
		return err
	}

	r := router.New(repo, links, p, router.Config{
		Marker:           cfg.Parser.Marker,
		Owner:            cfg.Transport.Owner,
		DefaultWorkspace: cfg.Parser.DefaultWorkspace,
		Timeout:          cfg.Store.Timeout,
		Metrics:          m,
		Logger:           log,
	})
	d := router.NewDispatcher(r, log)
	src := newSource(cfg, r, m, log)

	jobs := cron.New()
	if _, err := jobs.AddFunc(flushSchedule, func() {
		if !links.Dirty() {
			return
		}
		if err := links.Flush(ctx); err != nil {
			log.Warn().Err(err).Msg("retrying links flush failed")
			return
		}
		log.Info().Msg("pending links flushed")
	}); err != nil {
		return fmt.Errorf("failed to schedule flush: %w", err)
	}
	if cfg.Metrics.Enabled {
		if _, err := jobs.AddFunc(summarySchedule, func() { logSummary(ctx, provider, log) }); err != nil {
			return fmt.Errorf("failed to schedule metrics summary: %w", err)
		}
	}

	// Event handling outlives the transport so that shutdown can drain it.
	work := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("transport", src.Name()).Msg("tasklink serving")
		return src.Run(gctx, func(_ context.Context, ev router.Event) {
			d.Dispatch(work, ev)
		})
	})
	g.Go(func() error {
		jobs.Start()
		<-gctx.Done()
		<-jobs.Stop().Done()
		return nil
	})
	runErr := g.Wait()

	log.Info().Msg("shutting down, waiting for in-flight events")
	d.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := links.Flush(flushCtx); err != nil {
		log.Error().Err(err).Msg("final links flush failed")
	}
	if cfg.Metrics.Enabled {
		logSummary(flushCtx, provider, log)
	}
	return runErr
}

func newParser(cfg config.ParserConfig) (*parser.Parser, error) {
	return parser.New(parser.Options{
		Locale:          cfg.Locale,
		Timezone:        cfg.Timezone,
		LookbackMonths:  cfg.LookbackMonths,
		LookaheadMonths: cfg.LookaheadMonths,
	})
}

func openPersister(ctx context.Context, cfg config.LinksConfig) (index.Persister, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return index.OpenSQLite(ctx, cfg.Path)
	case config.BackendRedis:
		url := cfg.RedisURL
		if url == "" {
			url = index.DefaultRedisURL
		}
		return index.OpenRedis(ctx, url, cfg.RedisKey)
	case config.BackendFile, "":
		return index.NewFilePersister(cfg.Path), nil
	}
	return nil, fmt.Errorf("unknown links backend '%s'", cfg.Backend)
}

// newSource builds the configured transport and registers it as the
// router's notifier where it can reply.
func newSource(cfg *config.Config, r *router.Router, m *metrics.Metrics, log zerolog.Logger) transport.Source {
	tc := cfg.Transport
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.Reconnect.Initial
	exp.MaxInterval = cfg.Reconnect.Max
	switch tc.Kind {
	case config.TransportSocket:
		c := socket.New(socket.Config{
			URL:     tc.SocketURL,
			Token:   tc.SocketToken,
			Backoff: exp,
			OnReady: func(self string) {
				if self != "" {
					r.SetOwner(self)
				}
			},
			Metrics: m,
			Logger:  log,
		})
		r.SetNotifier(c)
		return c
	case config.TransportTelegram:
		b := telegram.New(telegram.Config{
			Token:   tc.TelegramToken,
			Backoff: exp,
			Metrics: m,
			Logger:  log,
		})
		r.SetNotifier(b)
		return b
	}
	return webhook.New(webhook.Config{
		Addr:         tc.WebhookAddr,
		Path:         tc.WebhookPath,
		VerifyToken:  tc.VerifyToken,
		DedupeWindow: tc.DedupeWindow,
		Logger:       log,
	})
}

func logSummary(ctx context.Context, provider *metrics.Provider, log zerolog.Logger) {
	summary, err := provider.Summary(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not collect metrics")
		return
	}
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	e := log.Info()
	for _, name := range names {
		e = e.Float64(name, summary[name])
	}
	e.Msg("metrics summary")
}
