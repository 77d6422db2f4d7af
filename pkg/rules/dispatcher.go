package rules

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/agents"
	appctx "github.com/c7lavinder/gunner-backend/pkg/context"
	"github.com/c7lavinder/gunner-backend/pkg/events"
	"github.com/c7lavinder/gunner-backend/pkg/metrics"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/toggles"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

// Dispatcher is the shared resolve/enable/invoke path used by both the event
// rule engine and the anomaly poller. It enforces the toggle gate, the
// registry lookup, and error isolation for every handler invocation.
type Dispatcher struct {
	agents  *agents.Registry
	toggles *toggles.Registry
	logger  ectologger.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(agentRegistry *agents.Registry, toggleRegistry *toggles.Registry, logger ectologger.Logger) *Dispatcher {
	return &Dispatcher{
		agents:  agentRegistry,
		toggles: toggleRegistry,
		logger:  logger,
	}
}

// Invoke runs one named handler for one event. Disabled or unresolvable
// handlers are skipped with a log line; handler errors and panics are caught
// at this boundary and never propagate to the caller.
func (d *Dispatcher) Invoke(ctx context.Context, ruleID string, handlerID string, event *models.Event) {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.Invoke")
	defer span.End()

	ctx = appctx.SetRuleID(ctx, ruleID)
	ctx = appctx.SetTenantID(ctx, event.TenantID)
	ctx = appctx.SetContactID(ctx, event.ContactID)

	if !d.toggles.IsEnabled(handlerID) {
		d.logger.WithContext(ctx).WithFields(map[string]any{
			"rule_id":    ruleID,
			"handler_id": handlerID,
		}).Debugf("Handler %s is disabled, skipping", handlerID)
		metrics.RuleSkips.WithLabelValues(ruleID, "disabled").Inc()
		return
	}

	handler, err := d.agents.Resolve(handlerID)
	if err != nil {
		// Configuration error: the rule references a handler nobody registered.
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"rule_id":    ruleID,
			"handler_id": handlerID,
		}).Error("Rule references an unregistered handler, skipping invocation")
		metrics.RuleSkips.WithLabelValues(ruleID, "unresolved").Inc()
		return
	}

	start := time.Now()
	outcome := "error"
	_ = events.Isolate(d.logger, handlerID, func(ctx context.Context, e *models.Event) error {
		if err := handler.Handle(ctx, e); err != nil {
			return err
		}
		outcome = "success"
		return nil
	})(ctx, event)

	duration := time.Since(start)
	metrics.HandlerInvocations.WithLabelValues(handlerID, outcome).Inc()
	metrics.HandlerDuration.WithLabelValues(handlerID).Observe(duration.Seconds())

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"rule_id":    ruleID,
		"handler_id": handlerID,
		"event_kind": event.Kind,
		"contact_id": event.ContactID,
		"outcome":    outcome,
		"duration":   duration.String(),
	}).Infof("Handler %s settled: %s", handlerID, outcome)
}

// InvokeAll runs every handler bound to a rule. One handler's failure never
// blocks its siblings.
func (d *Dispatcher) InvokeAll(ctx context.Context, ruleID string, handlerIDs []string, event *models.Event) {
	for _, handlerID := range handlerIDs {
		d.Invoke(ctx, ruleID, handlerID, event)
	}
}
