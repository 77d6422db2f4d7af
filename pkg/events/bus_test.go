package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/c7lavinder/gunner-backend/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testEvent(kind models.EventKind) *models.Event {
	return &models.Event{
		Kind:      kind,
		TenantID:  "t1",
		ContactID: "c1",
	}
}

func TestPublish_FansOutToAllSubscribersOfKind(t *testing.T) {
	bus := NewBus(testLogger())

	var calls int32
	bus.Subscribe(models.EventKindContactCreated, "first", func(ctx context.Context, event *models.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	bus.Subscribe(models.EventKindContactCreated, "second", func(ctx context.Context, event *models.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	bus.Subscribe(models.EventKindStageChanged, "other-kind", func(ctx context.Context, event *models.Event) error {
		atomic.AddInt32(&calls, 100)
		return nil
	})

	bus.Publish(context.Background(), testEvent(models.EventKindContactCreated))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPublish_BlocksUntilSubscribersSettle(t *testing.T) {
	bus := NewBus(testLogger())

	var mu sync.Mutex
	settled := false
	bus.Subscribe(models.EventKindInboundMessage, "slow", func(ctx context.Context, event *models.Event) error {
		mu.Lock()
		settled = true
		mu.Unlock()
		return nil
	})

	bus.Publish(context.Background(), testEvent(models.EventKindInboundMessage))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, settled)
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	bus := NewBus(testLogger())

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), testEvent(models.EventKindCallCompleted))
	})
}

func TestPublish_SubscriberErrorDoesNotAffectSiblings(t *testing.T) {
	bus := NewBus(testLogger())

	var succeeded int32
	bus.Subscribe(models.EventKindContactCreated, "failing", func(ctx context.Context, event *models.Event) error {
		return errors.New("downstream unavailable")
	})
	bus.Subscribe(models.EventKindContactCreated, "healthy", func(ctx context.Context, event *models.Event) error {
		atomic.AddInt32(&succeeded, 1)
		return nil
	})

	bus.Publish(context.Background(), testEvent(models.EventKindContactCreated))

	assert.Equal(t, int32(1), atomic.LoadInt32(&succeeded))
}

func TestPublish_SubscriberPanicIsContained(t *testing.T) {
	bus := NewBus(testLogger())

	var succeeded int32
	bus.Subscribe(models.EventKindContactCreated, "panicking", func(ctx context.Context, event *models.Event) error {
		panic("boom")
	})
	bus.Subscribe(models.EventKindContactCreated, "healthy", func(ctx context.Context, event *models.Event) error {
		atomic.AddInt32(&succeeded, 1)
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), testEvent(models.EventKindContactCreated))
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&succeeded))
}

func TestSubscribeAll_ReceivesEveryKind(t *testing.T) {
	bus := NewBus(testLogger())

	var calls int32
	bus.SubscribeAll("wildcard", func(ctx context.Context, event *models.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	bus.Publish(context.Background(), testEvent(models.EventKindContactCreated))
	bus.Publish(context.Background(), testEvent(models.EventKindStageChanged))
	bus.Publish(context.Background(), testEvent(models.EventKindUnknown))

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
