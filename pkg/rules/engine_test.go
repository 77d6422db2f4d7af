package rules

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/c7lavinder/gunner-backend/pkg/agents"
	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/events"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/toggles"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fixture struct {
	bus     *events.Bus
	agents  *agents.Registry
	toggles *toggles.Registry
	engine  *Engine
	invoked map[string]*int32
}

func newFixture() *fixture {
	logger := testLogger()
	bus := events.NewBus(logger)
	agentRegistry := agents.NewRegistry()
	toggleRegistry := toggles.NewRegistry(nil, logger)
	dispatcher := NewDispatcher(agentRegistry, toggleRegistry, logger)

	return &fixture{
		bus:     bus,
		agents:  agentRegistry,
		toggles: toggleRegistry,
		engine:  NewEngine(bus, dispatcher, toggleRegistry, logger),
		invoked: make(map[string]*int32),
	}
}

func (f *fixture) registerCounting(handlerID string) {
	var count int32
	f.invoked[handlerID] = &count
	f.agents.Register(handlerID, agents.HandlerFunc(func(ctx context.Context, event *models.Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	}))
}

func (f *fixture) invocations(handlerID string) int32 {
	return atomic.LoadInt32(f.invoked[handlerID])
}

func stageEvent(stageID string) *models.Event {
	return &models.Event{
		Kind:      models.EventKindStageChanged,
		TenantID:  "t1",
		ContactID: "c1",
		StageID:   &stageID,
		Payload:   database.NewJSONB(map[string]any{}),
	}
}

func TestBind_RejectsRuleWithoutID(t *testing.T) {
	f := newFixture()

	err := f.engine.Bind([]Rule{{EventKind: models.EventKindContactCreated, HandlerIDs: []string{"h"}}})
	assert.Error(t, err)
}

func TestBind_RejectsRuleWithoutHandlers(t *testing.T) {
	f := newFixture()

	err := f.engine.Bind([]Rule{{ID: "empty", EventKind: models.EventKindContactCreated}})
	assert.Error(t, err)
}

func TestBind_RejectsInvalidPredicate(t *testing.T) {
	f := newFixture()

	err := f.engine.Bind([]Rule{{
		ID:         "bad-when",
		EventKind:  models.EventKindStageChanged,
		When:       "stage_id ==",
		HandlerIDs: []string{"h"},
	}})
	assert.Error(t, err)
}

func TestPublish_MatchingRuleInvokesHandler(t *testing.T) {
	f := newFixture()
	f.registerCounting("notify")

	assert.NoError(t, f.engine.Bind([]Rule{{
		ID:         "on-stage-change",
		EventKind:  models.EventKindStageChanged,
		HandlerIDs: []string{"notify"},
	}}))

	f.bus.Publish(context.Background(), stageEvent("won"))

	assert.Equal(t, int32(1), f.invocations("notify"))
}

func TestPublish_PredicateFalseSkipsHandler(t *testing.T) {
	f := newFixture()
	f.registerCounting("notify")

	assert.NoError(t, f.engine.Bind([]Rule{{
		ID:         "only-won",
		EventKind:  models.EventKindStageChanged,
		When:       "stage_id == 'won'",
		HandlerIDs: []string{"notify"},
	}}))

	f.bus.Publish(context.Background(), stageEvent("lost"))
	assert.Equal(t, int32(0), f.invocations("notify"))

	f.bus.Publish(context.Background(), stageEvent("won"))
	assert.Equal(t, int32(1), f.invocations("notify"))
}

func TestPublish_GoPredicateGatesInvocation(t *testing.T) {
	f := newFixture()
	f.registerCounting("notify")

	assert.NoError(t, f.engine.Bind([]Rule{{
		ID:        "tenant-gate",
		EventKind: models.EventKindStageChanged,
		Predicate: func(event *models.Event) bool {
			return event.TenantID == "t2"
		},
		HandlerIDs: []string{"notify"},
	}}))

	f.bus.Publish(context.Background(), stageEvent("won"))

	assert.Equal(t, int32(0), f.invocations("notify"))
}

func TestPublish_DisabledHandlerIsSkipped(t *testing.T) {
	f := newFixture()
	f.registerCounting("notify")

	assert.NoError(t, f.engine.Bind([]Rule{{
		ID:         "on-stage-change",
		EventKind:  models.EventKindStageChanged,
		HandlerIDs: []string{"notify"},
	}}))

	f.toggles.SetEnabled(context.Background(), "notify", false)
	f.bus.Publish(context.Background(), stageEvent("won"))
	assert.Equal(t, int32(0), f.invocations("notify"))

	f.toggles.SetEnabled(context.Background(), "notify", true)
	f.bus.Publish(context.Background(), stageEvent("won"))
	assert.Equal(t, int32(1), f.invocations("notify"))
}

func TestPublish_RuleDisabledByDefaultRegistersToggledOff(t *testing.T) {
	f := newFixture()
	f.registerCounting("experimental")

	assert.NoError(t, f.engine.Bind([]Rule{{
		ID:         "experiment",
		EventKind:  models.EventKindInboundMessage,
		HandlerIDs: []string{"experimental"},
		Disabled:   true,
	}}))

	f.bus.Publish(context.Background(), &models.Event{
		Kind:      models.EventKindInboundMessage,
		TenantID:  "t1",
		ContactID: "c1",
	})

	assert.Equal(t, int32(0), f.invocations("experimental"))
	assert.False(t, f.toggles.IsEnabled("experimental"))
}

func TestPublish_FailingHandlerDoesNotBlockSiblingRule(t *testing.T) {
	f := newFixture()
	f.registerCounting("healthy")
	f.agents.Register("failing", agents.HandlerFunc(func(ctx context.Context, event *models.Event) error {
		return errors.New("crm unavailable")
	}))

	assert.NoError(t, f.engine.Bind([]Rule{
		{ID: "rule-a", EventKind: models.EventKindStageChanged, HandlerIDs: []string{"failing"}},
		{ID: "rule-b", EventKind: models.EventKindStageChanged, HandlerIDs: []string{"healthy"}},
	}))

	f.bus.Publish(context.Background(), stageEvent("won"))

	assert.Equal(t, int32(1), f.invocations("healthy"))
}

func TestInvoke_UnresolvedHandlerIsSkipped(t *testing.T) {
	f := newFixture()

	assert.NoError(t, f.engine.Bind([]Rule{{
		ID:         "dangling",
		EventKind:  models.EventKindStageChanged,
		HandlerIDs: []string{"not-registered"},
	}}))

	assert.NotPanics(t, func() {
		f.bus.Publish(context.Background(), stageEvent("won"))
	})
}
