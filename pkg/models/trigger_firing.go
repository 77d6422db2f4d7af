package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/c7lavinder/gunner-backend/pkg/database"
)

// TriggerFiring is an append-only record of a rule firing for a contact.
// The most recent row per (contact_id, rule_id) is the durable basis of
// cooldown dedup; older rows are audit-only.
type TriggerFiring struct {
	ID        uuid.UUID                      `db:"id" json:"id"`
	TenantID  string                         `db:"tenant_id" json:"tenant_id"`
	ContactID string                         `db:"contact_id" json:"contact_id"`
	RuleID    string                         `db:"rule_id" json:"rule_id"`
	FiredAt   time.Time                      `db:"fired_at" json:"fired_at"`
	Metadata  database.JSONB[map[string]any] `db:"metadata" json:"metadata,omitempty"`
}

// TableName returns the database table name
func (TriggerFiring) TableName() string {
	return "trigger_firings"
}
