// Package router classifies inbound chat events and turns them into task
// store calls, using the correlation index as its only memory.
package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harrisonrobin/tasklink/pkg/index"
	"github.com/harrisonrobin/tasklink/pkg/metrics"
	"github.com/harrisonrobin/tasklink/pkg/model"
	"github.com/harrisonrobin/tasklink/pkg/parser"
	"github.com/harrisonrobin/tasklink/pkg/status"
)

// Repository is the external task store.
type Repository interface {
	CreateTask(ctx context.Context, task model.TaskDescriptor) (string, error)
	// UpdateTask applies the non-empty fields of patch.
	UpdateTask(ctx context.Context, id string, patch model.TaskDescriptor) error
	ArchiveTask(ctx context.Context, id string) error
}

// Notifier sends a text back to the chat an event came from.
type Notifier interface {
	Notify(ctx context.Context, chat, text string) error
}

// Config holds the router settings and optional collaborators.
type Config struct {
	// Marker must prefix a message for it to become a task.
	Marker string
	// Owner is the account whose messages are acted on.
	Owner string
	// DefaultWorkspace is filed on new tasks that name neither a project nor a workspace.
	DefaultWorkspace string
	// Timeout bounds every repository call. Zero means no limit.
	Timeout time.Duration

	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Router is safe for concurrent use.
type Router struct {
	repo     Repository
	links    *index.Store
	parser   *parser.Parser
	marker   string
	defaultW string
	timeout  time.Duration
	notifier Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger

	ownerMu sync.RWMutex
	owner   string

	creating *inflight
}

func New(repo Repository, links *index.Store, p *parser.Parser, cfg Config) *Router {
	return &Router{
		repo:     repo,
		links:    links,
		parser:   p,
		marker:   cfg.Marker,
		defaultW: cfg.DefaultWorkspace,
		timeout:  cfg.Timeout,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		log:      cfg.Logger.With().Str("component", "router").Logger(),
		owner:    cfg.Owner,
		creating: newInflight(),
	}
}

// SetOwner replaces the account identifier, for transports that only learn
// it after connecting.
func (r *Router) SetOwner(owner string) {
	r.ownerMu.Lock()
	defer r.ownerMu.Unlock()
	r.owner = owner
}

// SetNotifier sets the channel used to report failed creations.
func (r *Router) SetNotifier(n Notifier) {
	r.notifier = n
}

func (r *Router) currentOwner() string {
	r.ownerMu.RLock()
	defer r.ownerMu.RUnlock()
	return r.owner
}

var accountRegex = regexp.MustCompile(`^\d+`)

// SameAccount reports whether two transport identifiers belong to the same
// account by comparing their leading digits.
func SameAccount(a, b string) bool {
	na, nb := accountRegex.FindString(a), accountRegex.FindString(b)
	return na != "" && na == nb
}

// Handle classifies one event and performs its side effects.
func (r *Router) Handle(ctx context.Context, ev Event) (Outcome, error) {
	release := r.reserve(ev)
	defer release()
	return r.handle(ctx, ev)
}

// reserve registers a task creation before the event is processed, so that
// edits, reactions and deletions dispatched after it wait for its link.
func (r *Router) reserve(ev Event) func() {
	if e, ok := ev.(NewMessage); ok && r.inScope(e) {
		if _, marked := parser.StripMarker(e.Text, r.marker); marked {
			return r.creating.begin(e.MessageID)
		}
	}
	return func() {}
}

func (r *Router) inScope(ev Event) bool {
	return SameAccount(ev.From(), r.currentOwner())
}

func (r *Router) handle(ctx context.Context, ev Event) (Outcome, error) {
	log := r.log.With().Str("message_id", ev.ID()).Logger()

	if !r.inScope(ev) {
		log.Debug().Str("sender", ev.From()).Msg("ignoring event from another account")
		return r.done(ctx, Unrecognized), nil
	}

	var (
		outcome Outcome
		err     error
	)
	switch e := ev.(type) {
	case NewMessage:
		outcome, err = r.handleNew(ctx, log, e)
	case EditedMessage:
		outcome, err = r.handleEdit(ctx, log, e)
	case Reaction:
		outcome, err = r.handleReaction(ctx, log, e)
	case Deletion:
		outcome, err = r.handleDeletion(ctx, log, e)
	default:
		log.Warn().Str("type", fmt.Sprintf("%T", ev)).Msg("unknown event type")
		outcome = Unrecognized
	}
	if err != nil {
		log.Error().Err(err).Stringer("outcome", outcome).Msg("event failed")
		return outcome, err
	}
	return r.done(ctx, outcome), nil
}

func (r *Router) done(ctx context.Context, o Outcome) Outcome {
	r.metrics.RecordEvent(ctx, o.String())
	return o
}

func (r *Router) handleNew(ctx context.Context, log zerolog.Logger, e NewMessage) (Outcome, error) {
	text, ok := parser.StripMarker(e.Text, r.marker)
	if !ok {
		return Unrecognized, nil
	}

	task := r.parser.Parse(text)
	if task.Project == "" && task.Workspace == "" {
		task.Workspace = r.defaultW
	}

	outcome := Created
	if e.ReplyTo != "" {
		if err := r.creating.wait(ctx, e.ReplyTo); err != nil {
			return Unrecognized, err
		}
		if parentID, ok := r.links.Get(e.ReplyTo); ok {
			task.ParentTask = parentID
			outcome = Reply
		}
	}

	var taskID string
	err := r.call(ctx, "create", func(ctx context.Context) error {
		var err error
		taskID, err = r.repo.CreateTask(ctx, task)
		return err
	})
	if err != nil {
		r.report(ctx, log, e.Chat, fmt.Sprintf("Could not create task %q: %v", task.Title, err))
		return outcome, fmt.Errorf("create task: %w", err)
	}
	log = log.With().Str("task_id", taskID).Logger()

	if err := r.links.Put(ctx, e.MessageID, taskID); err != nil {
		if errors.Is(err, index.ErrAlreadyLinked) {
			log.Warn().Msg("message was already linked, keeping the first task")
			return outcome, nil
		}
		// The link is held in memory and the periodic flush retries the write.
		log.Error().Err(err).Msg("task created but link not persisted")
	}

	log.Info().
		Str("title", task.Title).
		Str("project", task.Project).
		Str("workspace", task.Workspace).
		Str("parent", task.ParentTask).
		Stringer("outcome", outcome).
		Msg("task created")
	return outcome, nil
}

func (r *Router) handleEdit(ctx context.Context, log zerolog.Logger, e EditedMessage) (Outcome, error) {
	taskID, ok, err := r.lookup(ctx, e.OriginalID)
	if err != nil || !ok {
		return Unrecognized, err
	}

	text, _ := parser.StripMarker(e.Text, r.marker)
	parsed := r.parser.Parse(text)
	patch := model.TaskDescriptor{
		Title:     parsed.Title,
		Project:   parsed.Project,
		Workspace: parsed.Workspace,
		Date:      parsed.Date,
	}

	if err := r.update(ctx, taskID, patch); err != nil {
		return Edited, err
	}
	log.Info().Str("task_id", taskID).Str("title", patch.Title).Msg("task edited")
	return Edited, nil
}

func (r *Router) handleReaction(ctx context.Context, log zerolog.Logger, e Reaction) (Outcome, error) {
	st, mapped := status.FromReaction(e.Emoji)
	if !mapped {
		return Unrecognized, nil
	}
	taskID, ok, err := r.lookup(ctx, e.TargetID)
	if err != nil || !ok {
		return Unrecognized, err
	}

	if err := r.update(ctx, taskID, model.TaskDescriptor{Status: &st}); err != nil {
		return StatusChanged, err
	}
	log.Info().Str("task_id", taskID).Str("status", string(st)).Msg("task status changed")
	return StatusChanged, nil
}

func (r *Router) handleDeletion(ctx context.Context, log zerolog.Logger, e Deletion) (Outcome, error) {
	taskID, ok, err := r.lookup(ctx, e.TargetID)
	if err != nil || !ok {
		return Unrecognized, err
	}

	err = r.call(ctx, "archive", func(ctx context.Context) error {
		return r.repo.ArchiveTask(ctx, taskID)
	})
	if err != nil {
		return Deleted, fmt.Errorf("archive task %s: %w", taskID, err)
	}
	if err := r.links.Remove(ctx, e.TargetID); err != nil {
		log.Error().Err(err).Msg("task archived but link removal not persisted")
	}
	log.Info().Str("task_id", taskID).Msg("task archived")
	return Deleted, nil
}

// lookup waits for any creation still running for messageID, then resolves
// its task.
func (r *Router) lookup(ctx context.Context, messageID string) (string, bool, error) {
	if err := r.creating.wait(ctx, messageID); err != nil {
		return "", false, err
	}
	taskID, ok := r.links.Get(messageID)
	return taskID, ok, nil
}

func (r *Router) update(ctx context.Context, taskID string, patch model.TaskDescriptor) error {
	err := r.call(ctx, "update", func(ctx context.Context) error {
		return r.repo.UpdateTask(ctx, taskID, patch)
	})
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	return nil
}

// call runs one repository operation under the configured timeout.
func (r *Router) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	r.metrics.ObserveStoreCall(ctx, op, start, err)
	return err
}

func (r *Router) report(ctx context.Context, log zerolog.Logger, chat, text string) {
	if r.notifier == nil || chat == "" {
		return
	}
	if err := r.notifier.Notify(ctx, chat, text); err != nil {
		log.Warn().Err(err).Msg("failed to notify chat")
	}
}
