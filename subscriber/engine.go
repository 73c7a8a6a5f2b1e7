// Package subscriber runs pull/acknowledge worker loops against registered
// topic/subscription pairs.
//
// The engine owns nothing but its registrations and a running flag. Each
// registration gets a configurable number of worker goroutines; every worker
// independently cycles pull -> handle -> acknowledge. Failures are contained
// per loop: a pull error, handler error, or acknowledge error is logged and
// the loop carries on. The engine's bias is availability over fail-fast,
// matching the service's at-least-once redelivery model.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crosswire/crosswire-go/client"
	"github.com/crosswire/crosswire-go/internal/events"
	"github.com/crosswire/crosswire-go/internal/log"
)

// DefaultBackoff is how long a worker loop sleeps after an empty or failed
// pull. Successful cycles proceed to the next pull without delay.
const DefaultBackoff = time.Second

// ErrAlreadyRunning is returned by Start when the engine is already running.
// Double-start is a programmer mistake and is surfaced rather than ignored.
var ErrAlreadyRunning = errors.New("subscriber engine is already running")

type registration struct {
	topic        string
	subscription string
	handler      Handler
}

// Engine runs worker loops for registered subscriptions.
type Engine struct {
	transport  Transport
	logger     *slog.Logger
	hub        *events.Hub
	processors int
	backoff    time.Duration

	mu            sync.Mutex
	registrations []registration

	// running is the only mutable state shared across worker loops. Loops
	// poll it once per iteration; staleness of a single iteration is fine.
	running atomic.Bool
	wg      sync.WaitGroup
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithProcessors sets how many parallel worker loops each registration gets.
// Values below 1 are clamped to 1.
func WithProcessors(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.processors = n
	}
}

// WithBackoff sets the idle/error backoff interval.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.backoff = d
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithHub attaches a telemetry hub. Without one the engine only logs.
func WithHub(h *events.Hub) Option {
	return func(e *Engine) {
		e.hub = h
	}
}

// New creates an Engine pulling through the given transport.
func New(transport Transport, opts ...Option) *Engine {
	e := &Engine{
		transport:  transport,
		logger:     log.WithComponent("subscriber"),
		processors: 1,
		backoff:    DefaultBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers a handler for a topic/subscription pair. Registrations
// are append-only and must all happen before Start; subscribing while the
// engine runs is rejected.
func (e *Engine) Subscribe(topic, subscription string, handler Handler) error {
	if topic == "" {
		return fmt.Errorf("topic is empty")
	}
	if subscription == "" {
		return fmt.Errorf("subscription is empty")
	}
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}
	if e.running.Load() {
		return fmt.Errorf("cannot subscribe while the engine is running")
	}

	e.mu.Lock()
	e.registrations = append(e.registrations, registration{
		topic:        topic,
		subscription: subscription,
		handler:      handler,
	})
	e.mu.Unlock()
	return nil
}

// Start launches every worker loop and blocks until they have all exited,
// which happens after Stop is called (or ctx is cancelled) and each loop
// finishes its current cycle. It is the engine's main run call.
//
// Starting an already-running engine returns ErrAlreadyRunning without
// disturbing the running loops.
func (e *Engine) Start(ctx context.Context) error {
	if e.transport == nil {
		return fmt.Errorf("transport is nil")
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	e.mu.Lock()
	regs := make([]registration, len(e.registrations))
	copy(regs, e.registrations)
	e.mu.Unlock()

	if len(regs) == 0 {
		e.running.Store(false)
		return fmt.Errorf("no subscriptions registered")
	}

	e.logger.Info("engine starting",
		"registrations", len(regs),
		"processors", e.processors,
		"backoff", e.backoff,
	)
	e.publish(events.TypeEngineStarted, map[string]any{
		"registrations": len(regs),
		"processors":    e.processors,
	})

	for _, reg := range regs {
		for i := 0; i < e.processors; i++ {
			e.wg.Add(1)
			go e.runLoop(ctx, reg, i)
		}
	}

	e.wg.Wait()
	e.running.Store(false)

	e.logger.Info("engine stopped")
	e.publish(events.TypeEngineStopped, nil)

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Stop flips the running flag. It does not interrupt in-flight pulls or
// handlers: each loop observes the flag at its next iteration boundary and
// exits after finishing its current cycle. Callers wanting to know the
// engine has fully drained wait on the outstanding Start call.
//
// Stop is idempotent and safe to call on an engine that never started.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Running reports whether the engine currently has live worker loops.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// runLoop is one worker. Every iteration is a full pull/handle/ack cycle;
// no state survives between iterations.
func (e *Engine) runLoop(ctx context.Context, reg registration, processor int) {
	defer e.wg.Done()

	logger := e.logger.With(
		"topic", reg.topic,
		"subscription", reg.subscription,
		"processor", processor,
	)
	logger.Debug("worker loop started")
	defer logger.Debug("worker loop stopped")

	for e.running.Load() {
		if ctx.Err() != nil {
			return
		}

		ev, err := e.transport.Pull(ctx, reg.topic, reg.subscription)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("pull failed", "error", err)
			e.publish(events.TypePullError, map[string]any{
				"topic":        reg.topic,
				"subscription": reg.subscription,
				"error":        err.Error(),
			})
			e.sleep(ctx)
			continue
		}

		if ev == nil {
			// Nothing to do; only idle and failed pulls back off.
			e.sleep(ctx)
			continue
		}

		if err := reg.handler(ctx, ev); err != nil {
			// Leave the event unacknowledged; the service redelivers it.
			logger.Error("handler failed", "event_id", ev.ID, "error", err)
			e.publish(events.TypeHandlerError, map[string]any{
				"topic":        reg.topic,
				"subscription": reg.subscription,
				"event_id":     ev.ID,
				"error":        err.Error(),
			})
			continue
		}

		if err := e.transport.Acknowledge(ctx, reg.topic, reg.subscription, ev.ID); err != nil {
			logger.Error("acknowledge failed", "event_id", ev.ID, "error", err)
			e.publish(events.TypeAckError, map[string]any{
				"topic":        reg.topic,
				"subscription": reg.subscription,
				"event_id":     ev.ID,
				"error":        err.Error(),
			})
			continue
		}

		logger.Debug("event processed", "event_id", ev.ID)
		e.publish(events.TypeCycleProcessed, map[string]any{
			"topic":        reg.topic,
			"subscription": reg.subscription,
			"event_id":     ev.ID,
		})
	}
}

// sleep waits one backoff interval, returning early only on context
// cancellation. The stop flag is observed at the next iteration boundary.
func (e *Engine) sleep(ctx context.Context) {
	timer := time.NewTimer(e.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (e *Engine) publish(eventType string, data any) {
	if e.hub != nil {
		e.hub.Publish(eventType, data)
	}
}

// compile-time check that the concrete client satisfies Transport.
var _ Transport = (*client.Client)(nil)
