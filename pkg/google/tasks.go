package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/tasklink/pkg/model"
)

// DefaultList is the Google Tasks alias for the user's default list.
const DefaultList = "@default"

type Config struct {
	// DefaultList is the title of the list used for tasks that name neither
	// a project nor a workspace. Empty means the account's default list.
	DefaultList string
	// DefaultWorkspace is resolved in place of a missing grouping.
	DefaultWorkspace string
	Logger           zerolog.Logger
}

// TasksClient is a Google Tasks backed task repository. Projects and
// workspaces are task lists.
type TasksClient struct {
	srv              *tasks.Service
	defaultList      string
	defaultWorkspace string
	log              zerolog.Logger

	mu        sync.Mutex
	lists     []*tasks.TaskList
	locations map[string]string
}

// NewTasksClient creates a repository on top of an authorized service.
func NewTasksClient(srv *tasks.Service, cfg Config) *TasksClient {
	return &TasksClient{
		srv:              srv,
		defaultList:      cfg.DefaultList,
		defaultWorkspace: cfg.DefaultWorkspace,
		log:              cfg.Logger.With().Str("component", "google").Logger(),
		locations:        make(map[string]string),
	}
}

// CreateTask inserts a task and returns its id. Subtasks go into their
// parent's list.
func (c *TasksClient) CreateTask(ctx context.Context, d model.TaskDescriptor) (string, error) {
	var (
		listID string
		err    error
	)
	if d.ParentTask != "" {
		listID, err = c.locate(ctx, d.ParentTask)
		if err != nil {
			return "", fmt.Errorf("parent task: %w", err)
		}
	} else {
		listID, err = c.resolve(ctx, d)
		if err != nil {
			return "", err
		}
	}

	call := c.srv.Tasks.Insert(listID, ConvertDescriptorToTask(d)).Context(ctx)
	if d.ParentTask != "" {
		call = call.Parent(d.ParentTask)
	}
	created, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("unable to insert task: %w", err)
	}
	c.remember(created.Id, listID)

	c.log.Debug().Str("task_id", created.Id).Str("list", listID).Msg("task inserted")
	return created.Id, nil
}

// UpdateTask applies the non-empty fields of patch. A changed project or
// workspace moves the task to the matching list.
func (c *TasksClient) UpdateTask(ctx context.Context, id string, patch model.TaskDescriptor) error {
	listID, err := c.locate(ctx, id)
	if err != nil {
		return err
	}
	existing, err := c.srv.Tasks.Get(listID, id).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to get task %s: %w", id, err)
	}

	if kind, _ := patch.Grouping(); kind != "" {
		dst, err := c.resolve(ctx, patch)
		if err != nil {
			return err
		}
		if dst != listID {
			if _, err := c.srv.Tasks.Move(listID, id).DestinationTasklist(dst).Context(ctx).Do(); err != nil {
				return fmt.Errorf("unable to move task %s: %w", id, err)
			}
			c.remember(id, dst)
			listID = dst
		}
	}

	p := TaskNeedsUpdate(existing, applyPatch(existing, patch))
	if p == nil {
		return nil
	}
	if _, err := c.srv.Tasks.Patch(listID, id, p).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to patch task %s: %w", id, err)
	}
	return nil
}

// ArchiveTask deletes the task. Google keeps deleted tasks recoverable.
func (c *TasksClient) ArchiveTask(ctx context.Context, id string) error {
	listID, err := c.locate(ctx, id)
	if err != nil {
		return err
	}
	if err := c.srv.Tasks.Delete(listID, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to delete task %s: %w", id, err)
	}
	c.mu.Lock()
	delete(c.locations, id)
	c.mu.Unlock()
	return nil
}

// resolve finds the list a descriptor is filed under. A project must match;
// without one the workspace, then the default workspace, is used.
func (c *TasksClient) resolve(ctx context.Context, d model.TaskDescriptor) (string, error) {
	kind, name := d.Grouping()
	if kind == "" {
		if c.defaultWorkspace == "" {
			return c.defaultListID(ctx)
		}
		kind, name = model.GroupWorkspace, c.defaultWorkspace
	}

	id, err := c.findList(ctx, func(l *tasks.TaskList) bool {
		return strings.Contains(strings.ToLower(l.Title), strings.ToLower(name))
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", &model.ResolutionError{Kind: kind, Name: name}
	}
	return id, nil
}

func (c *TasksClient) defaultListID(ctx context.Context) (string, error) {
	if c.defaultList == "" {
		return DefaultList, nil
	}
	return c.ListID(ctx, c.defaultList)
}

// ListID returns the id of the list titled exactly title.
func (c *TasksClient) ListID(ctx context.Context, title string) (string, error) {
	id, err := c.findList(ctx, func(l *tasks.TaskList) bool { return l.Title == title })
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("task list '%s': %w", title, model.ErrNotFound)
	}
	return id, nil
}

// findList matches against the cached lists first and refetches them once
// on a miss.
func (c *TasksClient) findList(ctx context.Context, match func(*tasks.TaskList) bool) (string, error) {
	c.mu.Lock()
	cached := c.lists
	c.mu.Unlock()
	for _, l := range cached {
		if match(l) {
			return l.Id, nil
		}
	}

	lists, err := c.TaskLists(ctx)
	if err != nil {
		return "", err
	}
	for _, l := range lists {
		if match(l) {
			return l.Id, nil
		}
	}
	return "", nil
}

// TaskLists fetches all task lists and refreshes the cache.
func (c *TasksClient) TaskLists(ctx context.Context) ([]*tasks.TaskList, error) {
	var lists []*tasks.TaskList
	err := c.srv.Tasklists.List().MaxResults(100).Pages(ctx, func(page *tasks.TaskLists) error {
		lists = append(lists, page.Items...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve task lists: %w", err)
	}
	c.mu.Lock()
	c.lists = lists
	c.mu.Unlock()
	return lists, nil
}

// locate returns the list holding a task, scanning every list when the
// location is not cached.
func (c *TasksClient) locate(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	listID, ok := c.locations[id]
	c.mu.Unlock()
	if ok {
		return listID, nil
	}

	lists, err := c.TaskLists(ctx)
	if err != nil {
		return "", err
	}
	for _, l := range lists {
		_, err := c.srv.Tasks.Get(l.Id, id).Context(ctx).Do()
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("unable to get task %s: %w", id, err)
		}
		c.remember(id, l.Id)
		return l.Id, nil
	}
	return "", fmt.Errorf("task %s: %w", id, model.ErrNotFound)
}

func (c *TasksClient) remember(taskID, listID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locations[taskID] = listID
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
