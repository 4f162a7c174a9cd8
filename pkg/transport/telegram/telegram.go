// Package telegram reads chat events from a Telegram bot by long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/harrisonrobin/tasklink/pkg/metrics"
	"github.com/harrisonrobin/tasklink/pkg/router"
	"github.com/harrisonrobin/tasklink/pkg/transport"
)

const defaultStallTimeout = 150 * time.Second

type Config struct {
	Token string
	// Endpoint overrides the Bot API URL format, e.g. for a local Bot API server.
	Endpoint string
	// StallTimeout is how long a poll may go without any update before it
	// is treated as disconnected.
	StallTimeout time.Duration
	// Backoff spaces out reconnects. Nil means exponential from one second
	// up to thirty.
	Backoff backoff.BackOff
	Metrics *metrics.Metrics
	Logger       zerolog.Logger
}

// Bot is a transport.Source and a router.Notifier.
type Bot struct {
	cfg     Config
	backoff backoff.BackOff
	log     zerolog.Logger

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	offset int
}

func New(cfg Config) *Bot {
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = defaultStallTimeout
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	b := cfg.Backoff
	if b == nil {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = time.Second
		exp.MaxInterval = 30 * time.Second
		b = exp
	}
	return &Bot{
		cfg:     cfg,
		backoff: b,
		log:     cfg.Logger.With().Str("component", "telegram").Logger(),
	}
}

func (b *Bot) Name() string { return "telegram" }

// Run polls for updates and reconnects with backoff until ctx ends. A fresh
// API client is built for every attempt because a stopped client cannot poll
// again. The backoff starts over after any session that delivered updates.
func (b *Bot) Run(ctx context.Context, sink transport.Sink) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		delivered, pollErr := b.session(ctx, sink)
		if pollErr == nil {
			return nil
		}
		if delivered {
			b.backoff.Reset()
		}

		delay := b.backoff.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("telegram reconnect gave up: %w", pollErr)
		}
		b.log.Warn().Err(pollErr).Dur("backoff", delay).Msg("telegram poll disconnected, reconnecting")
		b.cfg.Metrics.RecordReconnect(ctx, b.Name())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session reports whether any update arrived before it ended.
func (b *Bot) session(ctx context.Context, sink transport.Sink) (bool, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(b.cfg.Token, b.cfg.Endpoint)
	if err != nil {
		return false, fmt.Errorf("telegram init failed: %w", err)
	}
	b.mu.Lock()
	b.bot = bot
	offset := b.offset
	b.mu.Unlock()

	b.log.Info().Str("user", bot.Self.UserName).Int("offset", offset).Msg("telegram bot polling")

	u := tgbotapi.NewUpdate(offset)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)
	defer bot.StopReceivingUpdates()

	return b.poll(ctx, updates, sink)
}

// poll returns a nil error when ctx ends and an error when the update stream
// closes or stalls.
func (b *Bot) poll(ctx context.Context, updates tgbotapi.UpdatesChannel, sink transport.Sink) (bool, error) {
	timer := time.NewTimer(b.cfg.StallTimeout)
	defer timer.Stop()

	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, nil
		case update, ok := <-updates:
			if !ok {
				return delivered, errors.New("update channel closed")
			}
			delivered = true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(b.cfg.StallTimeout)

			b.mu.Lock()
			b.offset = update.UpdateID + 1
			b.mu.Unlock()

			if ev, ok := toEvent(update); ok {
				sink(ctx, ev)
			}
		case <-timer.C:
			return delivered, fmt.Errorf("no updates received for %v", b.cfg.StallTimeout)
		}
	}
}

func toEvent(u tgbotapi.Update) (router.Event, bool) {
	switch {
	case u.Message != nil && u.Message.From != nil && u.Message.Chat != nil:
		m := u.Message
		ev := router.NewMessage{
			MessageID: messageID(m.Chat.ID, m.MessageID),
			Sender:    strconv.FormatInt(m.From.ID, 10),
			Chat:      strconv.FormatInt(m.Chat.ID, 10),
			Text:      m.Text,
		}
		if m.ReplyToMessage != nil {
			ev.ReplyTo = messageID(m.Chat.ID, m.ReplyToMessage.MessageID)
		}
		return ev, true
	case u.EditedMessage != nil && u.EditedMessage.From != nil && u.EditedMessage.Chat != nil:
		m := u.EditedMessage
		id := messageID(m.Chat.ID, m.MessageID)
		return router.EditedMessage{
			MessageID:  fmt.Sprintf("%s@%d", id, m.EditDate),
			Sender:     strconv.FormatInt(m.From.ID, 10),
			Chat:       strconv.FormatInt(m.Chat.ID, 10),
			OriginalID: id,
			Text:       m.Text,
		}, true
	}
	return nil, false
}

func messageID(chat int64, msg int) string {
	return fmt.Sprintf("%d:%d", chat, msg)
}

// Notify sends a text message to chat, given as a numeric chat id.
func (b *Bot) Notify(_ context.Context, chat, text string) error {
	b.mu.Lock()
	bot := b.bot
	b.mu.Unlock()
	if bot == nil {
		return errors.New("telegram bot not started")
	}

	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id '%s': %w", chat, err)
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}
