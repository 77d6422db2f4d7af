package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/c7lavinder/gunner-backend/pkg/database"
)

// EventKind identifies the closed set of facts the engine routes on.
type EventKind string

const (
	EventKindContactCreated  EventKind = "contact_created"
	EventKindStageChanged    EventKind = "stage_changed"
	EventKindInboundMessage  EventKind = "inbound_message"
	EventKindOutboundMessage EventKind = "outbound_message"
	EventKindCallCompleted   EventKind = "call_completed"
	EventKindResync          EventKind = "resync"
	EventKindAnomaly         EventKind = "anomaly"
	EventKindUnknown         EventKind = "unknown"
)

// Event is an immutable fact produced by the webhook normalizer or the poller.
// Rows are append-only and retained for replay/audit.
type Event struct {
	ID            uuid.UUID                      `db:"id" json:"id"`
	Kind          EventKind                      `db:"kind" json:"kind"`
	TenantID      string                         `db:"tenant_id" json:"tenant_id"`
	ContactID     string                         `db:"contact_id" json:"contact_id"`
	OpportunityID *string                        `db:"opportunity_id" json:"opportunity_id,omitempty"`
	StageID       *string                        `db:"stage_id" json:"stage_id,omitempty"`
	Payload       database.JSONB[map[string]any] `db:"payload" json:"payload,omitempty"`
	ReceivedAt    time.Time                      `db:"received_at" json:"received_at"`
}

// TableName returns the database table name
func (Event) TableName() string {
	return "events"
}

// ToMap flattens the event for predicate evaluation.
func (e *Event) ToMap() map[string]any {
	m := map[string]any{
		"kind":        string(e.Kind),
		"tenant_id":   e.TenantID,
		"contact_id":  e.ContactID,
		"received_at": e.ReceivedAt.Format(time.RFC3339),
		"payload":     e.Payload.GetValue(),
	}
	if e.OpportunityID != nil {
		m["opportunity_id"] = *e.OpportunityID
	}
	if e.StageID != nil {
		m["stage_id"] = *e.StageID
	}
	return m
}
