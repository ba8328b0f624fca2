package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marcelsud/webhook-outbox/event"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/rs/zerolog"
)

/* Dispatcher drains the event bus and fans each event out to every
 * matching subscription. Each delivery runs on its own goroutine so a
 * slow or retrying subscriber never stalls the consume loop or the
 * other subscribers of the same event
 *
 * Explicit lifecycle: constructed once by the process entry point,
 * started with Start, stopped with Stop. No ambient globals
 */
type Dispatcher struct {
	bus    *event.Bus
	subs   subscription.UseCase
	engine *Engine
	logger zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// NewDispatcher creates a dispatcher with dependency injection
func NewDispatcher(bus *event.Bus, subs subscription.UseCase, engine *Engine, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:    bus,
		subs:   subs,
		engine: engine,
		logger: logger,
	}
}

// Start launches the background consume loop
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return errors.New("dispatcher already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.loopDone = make(chan struct{})

	go d.loop(ctx)

	d.logger.Info().Msg("dispatcher started")
	return nil
}

/* Stop cancels the consume loop and waits for it plus every in-flight
 * delivery to finish. The given context bounds the wait only: delivery
 * goroutines themselves run to completion regardless
 */
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return errors.New("dispatcher not running")
	}
	cancel := d.cancel
	loopDone := d.loopDone
	d.cancel = nil
	d.mu.Unlock()

	cancel()

	select {
	case <-loopDone:
	case <-ctx.Done():
		return fmt.Errorf("waiting for consume loop: %w", ctx.Err())
	}

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info().Msg("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight deliveries: %w", ctx.Err())
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.loopDone)

	for {
		evt, err := d.bus.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, event.ErrClosed) {
				return
			}
			d.logger.Error().Err(err).Msg("consuming event")
			return
		}

		d.dispatch(ctx, evt)
	}
}

// dispatch fans one event out to every matching active subscription
func (d *Dispatcher) dispatch(ctx context.Context, evt event.Event) {
	subs, err := d.subs.List(ctx, subscription.Filter{})
	if err != nil {
		d.logger.Error().Err(err).
			Str("event_id", evt.EventID).
			Msg("resolving subscriptions")
		return
	}

	matched := 0
	for _, sub := range subs {
		if !sub.Matches(evt.EventType) {
			continue
		}
		matched++

		/* Deliveries outlive the consume loop's context: a shutdown
		 * stops new events from being started but lets dispatched
		 * sequences run to completion
		 */
		d.inflight.Add(1)
		go func(sub subscription.Subscription) {
			defer d.inflight.Done()
			d.engine.Deliver(context.WithoutCancel(ctx), sub, evt)
		}(sub)
	}

	if matched == 0 {
		d.logger.Info().
			Str("event_id", evt.EventID).
			Str("event_type", evt.EventType).
			Msg("no subscribers for event")
		return
	}

	d.logger.Debug().
		Str("event_id", evt.EventID).
		Str("event_type", evt.EventType).
		Int("subscribers", matched).
		Msg("event dispatched")
}
