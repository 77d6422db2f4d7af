package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/c7lavinder/gunner-backend/pkg/context"
	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/metrics"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/redis"
	"github.com/c7lavinder/gunner-backend/pkg/rules"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

var (
	// ErrPollerAlreadyRunning is returned when trying to start a running poller
	ErrPollerAlreadyRunning = errors.New("poller already running")
)

const (
	// DefaultInterval is the default time between scan ticks
	DefaultInterval = 60 * time.Second

	// DefaultInitialDelay lets projections settle after boot before the
	// first scan
	DefaultInitialDelay = 30 * time.Second

	// DefaultBatchSize is the maximum matches fetched per rule per tick
	DefaultBatchSize = 200

	// DefaultLockTTL is the TTL on the distributed tick lock
	DefaultLockTTL = 55 * time.Second

	// tickLockKey is the lock key keeping ticks single-flight across replicas
	tickLockKey = "poller:tick"
)

// FiringRecorder persists trigger firings with atomic cooldown dedup.
type FiringRecorder interface {
	InsertIfAbsent(ctx context.Context, firing *models.TriggerFiring, cooldown time.Duration) (bool, error)
}

// Config holds poller configuration
type Config struct {
	// Interval is how often to scan the projection
	Interval time.Duration

	// InitialDelay is the wait before the first scan after boot
	InitialDelay time.Duration

	// BatchSize is the maximum matches fetched per rule per tick
	BatchSize int

	// LockTTL is how long to hold the tick lock
	LockTTL time.Duration
}

// DefaultConfig returns the default poller configuration
func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		InitialDelay: DefaultInitialDelay,
		BatchSize:    DefaultBatchSize,
		LockTTL:      DefaultLockTTL,
	}
}

// Poller scans the projection on a fixed tick and fires deduplicated
// triggers through the same dispatch path the rule engine uses.
type Poller struct {
	rules      []PollRule
	scanner    StateScanner
	firings    FiringRecorder
	dispatcher *rules.Dispatcher
	locker     *redis.Locker
	config     Config
	logger     ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex

	// ticking guards against overlapping scans: two concurrent scans of the
	// same stale row could race past the cooldown check before either
	// records its firing.
	ticking sync.Mutex
}

// New creates a new poller. locker may be nil for single-instance
// deployments.
func New(
	pollRules []PollRule,
	scanner StateScanner,
	firings FiringRecorder,
	dispatcher *rules.Dispatcher,
	locker *redis.Locker,
	config Config,
	logger ectologger.Logger,
) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = DefaultInitialDelay
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	return &Poller{
		rules:      pollRules,
		scanner:    scanner,
		firings:    firings,
		dispatcher: dispatcher,
		locker:     locker,
		config:     config,
		logger:     logger,
		stopCh:     make(chan struct{}),
		stoppedC:   make(chan struct{}),
	}
}

// Start starts the scan loop
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	p.logger.WithContext(ctx).Infof("Starting anomaly poller: interval=%s initial_delay=%s rules=%d",
		p.config.Interval, p.config.InitialDelay, len(p.rules))

	go p.scanLoop(ctx)

	return nil
}

// Stop stops the scan loop gracefully
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Anomaly poller stopped")
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Anomaly poller shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the poller is running
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Poller) scanLoop(ctx context.Context) {
	defer close(p.stoppedC)

	// Let the projector settle incoming state before the first scan.
	select {
	case <-p.stopCh:
		return
	case <-time.After(p.config.InitialDelay):
	}

	p.tick(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debug("Poller scan loop stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one scan cycle. Overlapping ticks are dropped, and when a locker
// is configured the tick is additionally single-flight across replicas.
func (p *Poller) tick(ctx context.Context) {
	if !p.ticking.TryLock() {
		p.logger.WithContext(ctx).Warn("Previous poller tick still running, skipping")
		metrics.PollerTicks.WithLabelValues("overlap").Inc()
		return
	}
	defer p.ticking.Unlock()

	if p.locker != nil {
		err := p.locker.WithLock(ctx, tickLockKey, p.config.LockTTL, func() error {
			p.scan(ctx)
			return nil
		})
		if errors.Is(err, redis.ErrLockNotAcquired) {
			p.logger.WithContext(ctx).Debug("Another instance holds the poller tick lock")
			metrics.PollerTicks.WithLabelValues("lock_held").Inc()
			return
		}
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).Error("Poller tick lock failed")
			metrics.PollerTicks.WithLabelValues("error").Inc()
		}
		return
	}

	p.scan(ctx)
}

func (p *Poller) scan(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Poller.scan")
	defer span.End()

	start := time.Now()
	fired := 0

	for _, rule := range p.rules {
		fired += p.scanRule(ctx, rule)
	}

	metrics.PollerTicks.WithLabelValues("success").Inc()
	p.logger.WithContext(ctx).Infof("Poller tick completed: rules=%d fired=%d duration=%s",
		len(p.rules), fired, time.Since(start))
}

// scanRule evaluates one rule against the projection. A rule's failure never
// blocks its siblings or future ticks.
func (p *Poller) scanRule(ctx context.Context, rule PollRule) int {
	ctx, span := tracing.StartSpan(ctx, "Poller.scanRule")
	defer span.End()

	matches, err := rule.Find(ctx, p.scanner, p.config.BatchSize)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Errorf("Poll rule %s scan failed", rule.ID)
		return 0
	}

	if len(matches) == 0 {
		return 0
	}

	fired := 0
	for _, state := range matches {
		if p.fire(ctx, rule, state) {
			fired++
		}
	}

	p.logger.WithContext(ctx).Debugf("Poll rule %s: matches=%d fired=%d", rule.ID, len(matches), fired)
	return fired
}

// fire records the firing and invokes the rule's handlers. The insert is the
// dedup: when a firing inside the cooldown window exists, nothing runs.
func (p *Poller) fire(ctx context.Context, rule PollRule, state models.LeadState) bool {
	ctx = appctx.SetTenantID(ctx, state.TenantID)
	ctx = appctx.SetContactID(ctx, state.ContactID)

	firing := &models.TriggerFiring{
		TenantID:  state.TenantID,
		ContactID: state.ContactID,
		RuleID:    rule.ID,
		Metadata: database.NewJSONB(map[string]any{
			"description": rule.Description,
		}),
	}

	inserted, err := p.firings.InsertIfAbsent(ctx, firing, rule.Cooldown)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to record firing for rule %s contact %s",
			rule.ID, state.ContactID)
		return false
	}
	if !inserted {
		return false
	}

	metrics.PollerFirings.WithLabelValues(rule.ID).Inc()

	event := p.syntheticEvent(rule, state)
	p.dispatcher.InvokeAll(ctx, rule.ID, rule.HandlerIDs, event)
	return true
}

// syntheticEvent describes the anomaly match for the rule's handlers.
func (p *Poller) syntheticEvent(rule PollRule, state models.LeadState) *models.Event {
	payload := map[string]any{
		"rule_id":     rule.ID,
		"description": rule.Description,
	}
	if state.CurrentStage != nil {
		payload["current_stage"] = *state.CurrentStage
	}
	if state.StageEnteredAt != nil {
		payload["stage_entered_at"] = state.StageEnteredAt.Format(time.RFC3339)
	}
	if state.LastActivityAt != nil {
		payload["last_activity_at"] = state.LastActivityAt.Format(time.RFC3339)
	}

	return &models.Event{
		ID:            uuid.New(),
		Kind:          models.EventKindAnomaly,
		TenantID:      state.TenantID,
		ContactID:     state.ContactID,
		OpportunityID: state.OpportunityID,
		StageID:       state.CurrentStage,
		Payload:       database.NewJSONB(payload),
		ReceivedAt:    time.Now(),
	}
}
