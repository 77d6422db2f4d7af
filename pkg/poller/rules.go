// Package poller runs the periodic anomaly scan over the lead state
// projection, firing cooldown-gated triggers for time-based violations that
// single events cannot reveal.
package poller

import (
	"context"
	"time"

	"github.com/c7lavinder/gunner-backend/pkg/models"
)

// StateScanner is the projection query surface a poll rule's Find runs on.
type StateScanner interface {
	ListSpeedToLead(ctx context.Context, stages []string, threshold time.Duration, limit int) ([]models.LeadState, error)
	ListGhosted(ctx context.Context, minOutreach int, silentFor time.Duration, excludeTag string, limit int) ([]models.LeadState, error)
	ListStaleStage(ctx context.Context, staleFor time.Duration, terminalStages []string, limit int) ([]models.LeadState, error)
	ListWarmNoCall(ctx context.Context, stages []string, threshold time.Duration, limit int) ([]models.LeadState, error)
}

// PollRule binds a structural projection condition to named handlers, with a
// cooldown between firings per contact. Rules are loaded once at boot and
// immutable thereafter.
type PollRule struct {
	// ID uniquely identifies the rule in the firing log, logs, and metrics.
	ID string

	// Description is a human-readable summary for the routing table audit.
	Description string

	// Cooldown is the minimum time between two firings for one contact.
	Cooldown time.Duration

	// HandlerIDs are the named handlers invoked on a match.
	HandlerIDs []string

	// Disabled registers the rule's handlers toggled off by default.
	Disabled bool

	// Find queries the projection for contacts matching the rule's
	// structural condition.
	Find func(ctx context.Context, scanner StateScanner, limit int) ([]models.LeadState, error)
}
