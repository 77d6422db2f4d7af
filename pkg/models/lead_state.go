package models

import (
	"time"

	"github.com/c7lavinder/gunner-backend/pkg/database"
)

// LeadState is the mutable projection of a tracked contact, unique per
// (tenant_id, contact_id). Created on first event, never deleted, and
// mutated only by the state projector.
type LeadState struct {
	TenantID       string                         `db:"tenant_id" json:"tenant_id"`
	ContactID      string                         `db:"contact_id" json:"contact_id"`
	OpportunityID  *string                        `db:"opportunity_id" json:"opportunity_id,omitempty"`
	CurrentStage   *string                        `db:"current_stage" json:"current_stage,omitempty"`
	StageEnteredAt *time.Time                     `db:"stage_entered_at" json:"stage_entered_at,omitempty"`
	AssignedTo     *string                        `db:"assigned_to" json:"assigned_to,omitempty"`
	LastInboundAt  *time.Time                     `db:"last_inbound_at" json:"last_inbound_at,omitempty"`
	LastOutboundAt *time.Time                     `db:"last_outbound_at" json:"last_outbound_at,omitempty"`
	LastCallAt     *time.Time                     `db:"last_call_at" json:"last_call_at,omitempty"`
	LastActivityAt *time.Time                     `db:"last_activity_at" json:"last_activity_at,omitempty"`
	OutreachCount  int                            `db:"outreach_count" json:"outreach_count"`
	DripStep       int                            `db:"drip_step" json:"drip_step"`
	Tags           database.JSONB[[]string]       `db:"tags" json:"tags,omitempty"`
	CustomData     database.JSONB[map[string]any] `db:"custom_data" json:"custom_data,omitempty"`
	CreatedAt      time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (LeadState) TableName() string {
	return "lead_states"
}

// HasTag reports whether the projection carries the given tag.
func (s *LeadState) HasTag(tag string) bool {
	for _, t := range s.Tags.GetValue() {
		if t == tag {
			return true
		}
	}
	return false
}
