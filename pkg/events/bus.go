// Package events provides the in-process event bus that decouples webhook
// and timer producers from the trigger rule engine and the state projector.
package events

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/metrics"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

// Subscriber handles one event. Errors returned here are logged and isolated
// by the bus; they never reach the publisher or sibling subscribers.
type Subscriber func(ctx context.Context, event *models.Event) error

type subscription struct {
	name string
	fn   Subscriber
}

// Bus is an in-process publish/subscribe bus keyed by event kind.
type Bus struct {
	mu       sync.RWMutex
	subs     map[models.EventKind][]subscription
	wildcard []subscription
	logger   ectologger.Logger
}

// NewBus creates a new event bus
func NewBus(logger ectologger.Logger) *Bus {
	return &Bus{
		subs:   make(map[models.EventKind][]subscription),
		logger: logger,
	}
}

// Subscribe registers a subscriber for a single event kind. Multiple
// subscribers per kind are allowed; no ordering is guaranteed among them.
func (b *Bus) Subscribe(kind models.EventKind, name string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], subscription{name: name, fn: fn})
}

// SubscribeAll registers a subscriber that receives every published event
// regardless of kind. Used by the state projector, the event log recorder,
// and the audit emitter so no activity is silently dropped.
func (b *Bus) SubscribeAll(name string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, subscription{name: name, fn: fn})
}

// Publish fans the event out to every subscriber of its kind concurrently and
// blocks until all of them have settled. A subscriber's failure (error or
// panic) is logged and never affects siblings or the publisher. Publishing a
// kind with zero subscribers is a no-op.
func (b *Bus) Publish(ctx context.Context, event *models.Event) {
	ctx, span := tracing.StartSpan(ctx, "Bus.Publish")
	defer span.End()

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[event.Kind])+len(b.wildcard))
	targets = append(targets, b.subs[event.Kind]...)
	targets = append(targets, b.wildcard...)
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(event.Kind)).Inc()

	if len(targets) == 0 {
		b.logger.WithContext(ctx).Debugf("No subscribers for event kind %s", event.Kind)
		return
	}

	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			_ = Isolate(b.logger, sub.name, sub.fn)(ctx, event)
		}(sub)
	}
	wg.Wait()
}
