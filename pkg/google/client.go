package google

import (
	"context"
	"fmt"

	"github.com/harrisonrobin/tasklink/pkg/auth"
)

// NewClient creates a Google Tasks client using the stored OAuth token and
// checks that the configured default list exists.
func NewClient(ctx context.Context, cfg Config) (*TasksClient, error) {
	srv, err := auth.GetTasksService(ctx, cfg.Logger)
	if err != nil {
		return nil, err
	}

	c := NewTasksClient(srv, cfg)
	if cfg.DefaultList != "" {
		if _, err := c.ListID(ctx, cfg.DefaultList); err != nil {
			return nil, fmt.Errorf("unable to use default list: %w", err)
		}
	}
	return c, nil
}
