package rules

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/events"
	"github.com/c7lavinder/gunner-backend/pkg/expressions"
	"github.com/c7lavinder/gunner-backend/pkg/metrics"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/toggles"
)

// Engine binds the static rule table to the event bus at startup and routes
// matching events through the dispatcher.
type Engine struct {
	bus        *events.Bus
	dispatcher *Dispatcher
	toggles    *toggles.Registry
	evaluator  *expressions.Evaluator
	logger     ectologger.Logger
}

// NewEngine creates a new rule engine
func NewEngine(bus *events.Bus, dispatcher *Dispatcher, toggleRegistry *toggles.Registry, logger ectologger.Logger) *Engine {
	return &Engine{
		bus:        bus,
		dispatcher: dispatcher,
		toggles:    toggleRegistry,
		evaluator:  expressions.NewEvaluator(),
		logger:     logger,
	}
}

// Bind validates every rule, registers its handler toggles with their default
// state, and subscribes the rule to its event kind. Called once at boot.
func (e *Engine) Bind(ruleSet []Rule) error {
	for _, rule := range ruleSet {
		if rule.ID == "" {
			return fmt.Errorf("rule with event kind %s has no id", rule.EventKind)
		}
		if len(rule.HandlerIDs) == 0 {
			return fmt.Errorf("rule %s has no handlers", rule.ID)
		}
		if rule.When != "" {
			if err := e.evaluator.Validate(rule.When); err != nil {
				return fmt.Errorf("rule %s has an invalid predicate: %w", rule.ID, err)
			}
		}

		for _, handlerID := range rule.HandlerIDs {
			e.toggles.Register(handlerID, !rule.Disabled)
		}

		e.subscribe(rule)
		e.logger.WithFields(map[string]any{
			"rule_id":    rule.ID,
			"event_kind": rule.EventKind,
			"handlers":   rule.HandlerIDs,
		}).Infof("Bound trigger rule %s to %s", rule.ID, rule.EventKind)
	}

	return nil
}

func (e *Engine) subscribe(rule Rule) {
	e.bus.Subscribe(rule.EventKind, "rule:"+rule.ID, func(ctx context.Context, event *models.Event) error {
		matched, err := e.matches(rule, event)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"rule_id":    rule.ID,
				"contact_id": event.ContactID,
			}).Error("Rule predicate evaluation failed, skipping")
			metrics.RuleSkips.WithLabelValues(rule.ID, "predicate_error").Inc()
			return nil
		}
		if !matched {
			metrics.RuleSkips.WithLabelValues(rule.ID, "predicate").Inc()
			return nil
		}

		e.dispatcher.InvokeAll(ctx, rule.ID, rule.HandlerIDs, event)
		return nil
	})
}

func (e *Engine) matches(rule Rule, event *models.Event) (bool, error) {
	if rule.Predicate != nil && !rule.Predicate(event) {
		return false, nil
	}
	if rule.When != "" {
		return e.evaluator.EvaluateBool(rule.When, event.ToMap())
	}
	return true, nil
}
