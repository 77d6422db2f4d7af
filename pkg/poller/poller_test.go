package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/c7lavinder/gunner-backend/pkg/agents"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/rules"
	"github.com/c7lavinder/gunner-backend/pkg/toggles"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeScanner serves canned matches for the stale-stage query and nothing for
// the rest.
type fakeScanner struct {
	stale []models.LeadState
	err   error
}

func (f *fakeScanner) ListSpeedToLead(ctx context.Context, stages []string, threshold time.Duration, limit int) ([]models.LeadState, error) {
	return nil, nil
}

func (f *fakeScanner) ListGhosted(ctx context.Context, minOutreach int, silentFor time.Duration, excludeTag string, limit int) ([]models.LeadState, error) {
	return nil, nil
}

func (f *fakeScanner) ListStaleStage(ctx context.Context, staleFor time.Duration, terminalStages []string, limit int) ([]models.LeadState, error) {
	return f.stale, f.err
}

func (f *fakeScanner) ListWarmNoCall(ctx context.Context, stages []string, threshold time.Duration, limit int) ([]models.LeadState, error) {
	return nil, nil
}

type fakeRecorder struct {
	allow   bool
	err     error
	inserts int32
}

func (f *fakeRecorder) InsertIfAbsent(ctx context.Context, firing *models.TriggerFiring, cooldown time.Duration) (bool, error) {
	atomic.AddInt32(&f.inserts, 1)
	return f.allow, f.err
}

func staleRule(handlerIDs ...string) PollRule {
	return PollRule{
		ID:          "stale-stage",
		Description: "stage unchanged for too long",
		Cooldown:    24 * time.Hour,
		HandlerIDs:  handlerIDs,
		Find: func(ctx context.Context, scanner StateScanner, limit int) ([]models.LeadState, error) {
			return scanner.ListStaleStage(ctx, 48*time.Hour, []string{"won", "lost"}, limit)
		},
	}
}

func staleState() models.LeadState {
	stage := "qualified"
	entered := time.Now().Add(-72 * time.Hour)
	return models.LeadState{
		TenantID:       "t1",
		ContactID:      "c1",
		CurrentStage:   &stage,
		StageEnteredAt: &entered,
	}
}

type pollerFixture struct {
	scanner  *fakeScanner
	recorder *fakeRecorder
	poller   *Poller
	invoked  int32
	last     atomic.Pointer[models.Event]
}

func newPollerFixture(t *testing.T, rule PollRule) *pollerFixture {
	t.Helper()
	logger := testLogger()

	f := &pollerFixture{
		scanner:  &fakeScanner{},
		recorder: &fakeRecorder{allow: true},
	}

	agentRegistry := agents.NewRegistry()
	toggleRegistry := toggles.NewRegistry(nil, logger)
	for _, handlerID := range rule.HandlerIDs {
		toggleRegistry.Register(handlerID, true)
		agentRegistry.Register(handlerID, agents.HandlerFunc(func(ctx context.Context, event *models.Event) error {
			atomic.AddInt32(&f.invoked, 1)
			f.last.Store(event)
			return nil
		}))
	}
	dispatcher := rules.NewDispatcher(agentRegistry, toggleRegistry, logger)

	f.poller = New([]PollRule{rule}, f.scanner, f.recorder, dispatcher, nil, Config{
		Interval:     50 * time.Millisecond,
		InitialDelay: 0,
		BatchSize:    10,
	}, logger)
	return f
}

func (f *pollerFixture) startAndWait(t *testing.T, cond func() bool) {
	t.Helper()
	assert.NoError(t, f.poller.Start(context.Background()))
	defer func() {
		assert.NoError(t, f.poller.Stop(context.Background()))
	}()
	assert.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_MatchFiresHandlersWithSyntheticEvent(t *testing.T) {
	f := newPollerFixture(t, staleRule("create-followup-task"))
	f.scanner.stale = []models.LeadState{staleState()}

	f.startAndWait(t, func() bool {
		return atomic.LoadInt32(&f.invoked) >= 1
	})

	event := f.last.Load()
	assert.NotNil(t, event)
	assert.Equal(t, models.EventKindAnomaly, event.Kind)
	assert.Equal(t, "t1", event.TenantID)
	assert.Equal(t, "c1", event.ContactID)
	assert.Equal(t, "qualified", *event.StageID)
	assert.Equal(t, "stale-stage", event.Payload.GetValue()["rule_id"])
}

func TestPoller_CooldownSuppressesInvocation(t *testing.T) {
	f := newPollerFixture(t, staleRule("create-followup-task"))
	f.scanner.stale = []models.LeadState{staleState()}
	f.recorder.allow = false

	f.startAndWait(t, func() bool {
		return atomic.LoadInt32(&f.recorder.inserts) >= 1
	})

	assert.Equal(t, int32(0), atomic.LoadInt32(&f.invoked))
}

func TestPoller_RecorderErrorSuppressesInvocation(t *testing.T) {
	f := newPollerFixture(t, staleRule("create-followup-task"))
	f.scanner.stale = []models.LeadState{staleState()}
	f.recorder.err = errors.New("db down")

	f.startAndWait(t, func() bool {
		return atomic.LoadInt32(&f.recorder.inserts) >= 1
	})

	assert.Equal(t, int32(0), atomic.LoadInt32(&f.invoked))
}

func TestPoller_ScanErrorDoesNotStopLoop(t *testing.T) {
	f := newPollerFixture(t, staleRule("create-followup-task"))
	f.scanner.err = errors.New("query timeout")

	assert.NoError(t, f.poller.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.True(t, f.poller.IsRunning())
	assert.NoError(t, f.poller.Stop(context.Background()))
}

func TestPoller_NoMatchesNoFirings(t *testing.T) {
	f := newPollerFixture(t, staleRule("create-followup-task"))

	assert.NoError(t, f.poller.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.NoError(t, f.poller.Stop(context.Background()))

	assert.Equal(t, int32(0), atomic.LoadInt32(&f.recorder.inserts))
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.invoked))
}

func TestPoller_StartTwiceFails(t *testing.T) {
	f := newPollerFixture(t, staleRule("create-followup-task"))

	assert.NoError(t, f.poller.Start(context.Background()))
	assert.Equal(t, ErrPollerAlreadyRunning, f.poller.Start(context.Background()))
	assert.NoError(t, f.poller.Stop(context.Background()))
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	f := newPollerFixture(t, staleRule("create-followup-task"))

	assert.NoError(t, f.poller.Start(context.Background()))
	assert.NoError(t, f.poller.Stop(context.Background()))
	assert.NoError(t, f.poller.Stop(context.Background()))
	assert.False(t, f.poller.IsRunning())
}
