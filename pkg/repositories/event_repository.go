package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

const eventsTable = "events"

var eventStruct = database.NewStruct(new(models.Event))

// EventRepository handles the append-only event log
type EventRepository struct {
	*Repository
}

// NewEventRepository creates a new event repository
func NewEventRepository(db database.DB, logger ectologger.Logger) *EventRepository {
	return &EventRepository{
		Repository: NewRepository(db, logger),
	}
}

// Insert appends one event to the log. Events are immutable; there is no
// update path.
func (r *EventRepository) Insert(ctx context.Context, event *models.Event) error {
	ctx, span := tracing.StartSpan(ctx, "EventRepository.Insert")
	defer span.End()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(eventsTable).
		Cols("id", "kind", "tenant_id", "contact_id", "opportunity_id", "stage_id", "payload", "received_at").
		Values(event.ID, event.Kind, event.TenantID, event.ContactID, event.OpportunityID, event.StageID,
			event.Payload, event.ReceivedAt)

	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_id":   event.ID,
			"event_kind": event.Kind,
		}).Error("failed to insert event")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert event")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"event_id":   event.ID,
		"event_kind": event.Kind,
	}).Debugf("Inserted %s", eventsTable)
	return nil
}

// ListByContact returns the newest events for one contact, tenant-scoped
func (r *EventRepository) ListByContact(ctx context.Context, contactID string, limit int) ([]models.Event, error) {
	ctx, span := tracing.StartSpan(ctx, "EventRepository.ListByContact")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 100
	}

	sb := eventStruct.SelectFrom(eventsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("contact_id", contactID))
	sb.OrderBy("received_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var events []models.Event
	err = r.DB().SelectContext(ctx, &events, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": contactID,
		}).Error("failed to list events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list events")
	}

	return events, nil
}
