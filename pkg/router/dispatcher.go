package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Dispatcher hands events to a Router without blocking the transport. Each
// event runs in its own goroutine.
type Dispatcher struct {
	router *Router
	log    zerolog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(r *Router, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		router: r,
		log:    log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch starts processing ev and returns immediately. Creations are
// registered before it returns, so later events for the same message wait
// for them.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.log.Debug().Str("message_id", ev.ID()).Str("type", fmt.Sprintf("%T", ev)).Msg("dispatching event")
	release := d.router.reserve(ev)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer release()
		// Errors are logged by the router.
		_, _ = d.router.handle(ctx, ev)
	}()
}

// Wait blocks until every dispatched event has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
