// Package bridge routes messages and commands between gateways and drives
// their periodic connection maintenance.
package bridge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/retrobridge/internal/message"
)

// DefaultTickInterval is the cadence of the maintenance loop.
const DefaultTickInterval = time.Second

// Hub is the view of the bridge handed to every source.
type Hub interface {
	// Publish fans msg out to every observer.
	Publish(ctx context.Context, origin string, msg message.Message)
	// Dispatch returns the first observer answer to cmd, or nil.
	Dispatch(ctx context.Context, origin string, cmd message.Command) *message.CommandResult
}

// Source produces traffic and needs periodic maintenance.
type Source interface {
	// Name is the origin stamped on everything the source publishes.
	Name() string
	// Attach hands the source the hub it publishes to.
	Attach(hub Hub)
	// Tick runs one maintenance step; elapsed is measured from bridge start.
	Tick(ctx context.Context, elapsed time.Duration) error
	// Ready reports whether the source's connection is up.
	Ready() bool
}

// Observer consumes published traffic.
type Observer interface {
	// Name identifies the observer in logs and origin checks.
	Name() string
	// OnMessage handles a message published by origin.
	OnMessage(ctx context.Context, origin string, msg message.Message) error
	// OnCommand answers cmd, or returns nil when it does not own the command.
	OnCommand(ctx context.Context, origin string, cmd message.Command) (*message.CommandResult, error)
}

// Gateway is both a Source and an Observer.
type Gateway interface {
	Source
	Observer
}

// Bridge connects sources to observers. Both lists are fixed at construction
// and read without locking.
type Bridge struct {
	sources   []Source
	observers []Observer
	interval  time.Duration
	logger    *zap.Logger

	// ready holds the last readiness seen per source; touched only by the tick loop.
	ready map[string]bool
}

// New builds a Bridge over gateways, each registered as both source and
// observer in the given order, and attaches itself to every source.
//
// Precondition: interval must be > 0; logger must be non-nil.
// Postcondition: Every gateway has been attached to the returned Bridge.
func New(interval time.Duration, logger *zap.Logger, gateways ...Gateway) *Bridge {
	sources := make([]Source, 0, len(gateways))
	observers := make([]Observer, 0, len(gateways))
	for _, g := range gateways {
		sources = append(sources, g)
		observers = append(observers, g)
	}
	return NewWith(interval, logger, sources, observers)
}

// NewWith builds a Bridge over independent source and observer lists.
//
// Precondition: interval must be > 0; logger must be non-nil.
// Postcondition: Every source has been attached to the returned Bridge.
func NewWith(interval time.Duration, logger *zap.Logger, sources []Source, observers []Observer) *Bridge {
	if interval <= 0 {
		panic("bridge.NewWith: interval must be > 0")
	}
	b := &Bridge{
		sources:   append([]Source(nil), sources...),
		observers: append([]Observer(nil), observers...),
		interval:  interval,
		logger:    logger,
		ready:     make(map[string]bool, len(sources)),
	}
	for _, s := range b.sources {
		s.Attach(b)
	}
	return b
}

// Publish delivers msg to every observer in registration order. Observer
// errors and panics are logged and never stop the fan-out.
func (b *Bridge) Publish(ctx context.Context, origin string, msg message.Message) {
	for _, o := range b.observers {
		if err := b.notify(ctx, o, origin, msg); err != nil {
			b.logger.Error("observer failed",
				zap.String("method", "OnMessage"),
				zap.String("observer", o.Name()),
				zap.String("origin", origin),
				zap.Error(err),
			)
		}
	}
}

func (b *Bridge) notify(ctx context.Context, o Observer, origin string, msg message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.OnMessage(ctx, origin, msg)
}

// Dispatch asks observers in registration order to answer cmd and returns the
// first non-nil result. Later observers are not consulted. An observer error
// is logged and counts as no answer.
func (b *Bridge) Dispatch(ctx context.Context, origin string, cmd message.Command) *message.CommandResult {
	for _, o := range b.observers {
		result, err := o.OnCommand(ctx, origin, cmd)
		if err != nil {
			b.logger.Error("observer failed",
				zap.String("method", "OnCommand"),
				zap.String("observer", o.Name()),
				zap.String("command", cmd.Name),
				zap.Error(err),
			)
			continue
		}
		if result != nil {
			return result
		}
	}
	return nil
}

// Run ticks every source once per interval until ctx is cancelled. A tick
// that outlasts the interval delays the next one; missed ticks are dropped.
//
// Postcondition: Returns nil once ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	start := time.Now()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("bridge running",
		zap.Int("sources", len(b.sources)),
		zap.Int("observers", len(b.observers)),
		zap.Duration("interval", b.interval),
	)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge stopped", zap.Duration("uptime", time.Since(start)))
			return nil
		case now := <-ticker.C:
			b.tick(ctx, now.Sub(start))
		}
	}
}

// tick runs one maintenance cycle over every source, sequentially.
func (b *Bridge) tick(ctx context.Context, elapsed time.Duration) {
	for _, s := range b.sources {
		if err := s.Tick(ctx, elapsed); err != nil {
			b.logger.Warn("source tick failed",
				zap.String("source", s.Name()),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
		}
		ready := s.Ready()
		if prev, seen := b.ready[s.Name()]; !seen || prev != ready {
			b.ready[s.Name()] = ready
			b.logger.Info("source readiness changed",
				zap.String("source", s.Name()),
				zap.Bool("ready", ready),
			)
		}
	}
}
