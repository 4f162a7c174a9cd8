// Package transport defines how chat transports feed events into the router.
package transport

import (
	"context"

	"github.com/harrisonrobin/tasklink/pkg/router"
)

// Sink receives every event a transport decodes. It must not block for long.
type Sink func(ctx context.Context, ev router.Event)

// Source is a chat transport. Run blocks until ctx ends or the transport
// stops for good.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}
