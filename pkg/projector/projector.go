// Package projector maintains the durable per-contact projection derived
// incrementally from the event stream.
package projector

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/events"
	"github.com/c7lavinder/gunner-backend/pkg/metrics"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

// StateRepository is the persistence surface the projector needs. Update must
// serialize concurrent calls for the same contact.
type StateRepository interface {
	UpsertBase(ctx context.Context, tenantID string, contactID string) error
	Update(ctx context.Context, tenantID string, contactID string, fn func(state *models.LeadState) error) error
}

// Projector consumes every bus event and folds it into one LeadState row per
// contact. It never re-queries the source system; the event stream is the
// only input.
type Projector struct {
	repo   StateRepository
	logger ectologger.Logger
}

// New creates a new projector
func New(repo StateRepository, logger ectologger.Logger) *Projector {
	return &Projector{
		repo:   repo,
		logger: logger,
	}
}

// Bind subscribes the projector to every event kind on the bus.
func (p *Projector) Bind(bus *events.Bus) {
	bus.SubscribeAll("projector", p.Apply)
}

// Apply folds one event into the contact's projection. A persistence failure
// aborts the apply for that contact only; the next event retries the upsert.
func (p *Projector) Apply(ctx context.Context, event *models.Event) error {
	ctx, span := tracing.StartSpan(ctx, "Projector.Apply")
	defer span.End()

	if event.TenantID == "" || event.ContactID == "" {
		p.logger.WithContext(ctx).Warnf("Dropping event %s with no contact identity", event.ID)
		metrics.ProjectorApplies.WithLabelValues(string(event.Kind), "dropped").Inc()
		return nil
	}

	if err := p.repo.UpsertBase(ctx, event.TenantID, event.ContactID); err != nil {
		metrics.ProjectorApplies.WithLabelValues(string(event.Kind), "error").Inc()
		return err
	}

	err := p.repo.Update(ctx, event.TenantID, event.ContactID, func(state *models.LeadState) error {
		p.fold(event, state)
		return nil
	})
	if err != nil {
		metrics.ProjectorApplies.WithLabelValues(string(event.Kind), "error").Inc()
		return err
	}

	metrics.ProjectorApplies.WithLabelValues(string(event.Kind), "success").Inc()
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_kind": event.Kind,
		"contact_id": event.ContactID,
	}).Debugf("Applied %s to lead state", event.Kind)
	return nil
}

// fold updates only the fields relevant to the event's kind. Applying the
// same event twice yields the same state, aside from updated_at.
func (p *Projector) fold(event *models.Event, state *models.LeadState) {
	now := event.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	switch event.Kind {
	case models.EventKindContactCreated:
		if event.StageID != nil {
			p.setStage(state, *event.StageID, now)
		}
		if assignedTo, ok := event.Payload.GetValue()["assigned_to"].(string); ok && assignedTo != "" {
			state.AssignedTo = &assignedTo
		}
		if event.OpportunityID != nil {
			state.OpportunityID = event.OpportunityID
		}

	case models.EventKindStageChanged:
		if event.StageID != nil {
			p.setStage(state, *event.StageID, now)
		}
		if event.OpportunityID != nil {
			state.OpportunityID = event.OpportunityID
		}

	case models.EventKindInboundMessage:
		state.LastInboundAt = &now
		state.LastActivityAt = &now

	case models.EventKindOutboundMessage:
		if state.LastOutboundAt == nil || now.After(*state.LastOutboundAt) {
			state.OutreachCount++
		}
		state.LastOutboundAt = &now
		state.LastActivityAt = &now

	case models.EventKindCallCompleted:
		state.LastCallAt = &now
		state.LastActivityAt = &now

	case models.EventKindResync:
		p.foldSnapshot(event, state, now)

	default:
		// Unknown kinds still count as activity so nothing is silently dropped.
		state.LastActivityAt = &now
	}

	if tags, ok := event.Payload.GetValue()["tags"].([]any); ok {
		for _, raw := range tags {
			if tag, ok := raw.(string); ok && !state.HasTag(tag) {
				state.Tags = database.NewJSONB(append(state.Tags.GetValue(), tag))
			}
		}
	}
}

// setStage resets the stage clock only when the stage actually changes, so
// replaying an identical stage event is a no-op.
func (p *Projector) setStage(state *models.LeadState, stageID string, at time.Time) {
	if state.CurrentStage != nil && *state.CurrentStage == stageID {
		return
	}
	state.CurrentStage = &stageID
	state.StageEnteredAt = &at
}

// foldSnapshot applies a resync event carrying the source system's current
// view of the contact.
func (p *Projector) foldSnapshot(event *models.Event, state *models.LeadState, now time.Time) {
	payload := event.Payload.GetValue()

	if stage, ok := payload["stage_id"].(string); ok && stage != "" {
		p.setStage(state, stage, now)
	}
	if assignedTo, ok := payload["assigned_to"].(string); ok && assignedTo != "" {
		state.AssignedTo = &assignedTo
	}
	if event.OpportunityID != nil {
		state.OpportunityID = event.OpportunityID
	}
	state.LastActivityAt = &now
}
