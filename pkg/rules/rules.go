// Package rules implements the trigger rule engine: the sole binding from
// events to named handlers. Adding a new automation means adding one rule to
// the routing table; no other component changes.
package rules

import (
	"github.com/c7lavinder/gunner-backend/pkg/models"
)

// Rule binds one event kind to one or more named handlers, optionally gated
// by a predicate. Rules are loaded once at boot and immutable thereafter.
type Rule struct {
	// ID uniquely identifies the rule in logs and metrics.
	ID string

	// Description is a human-readable summary for the routing table audit.
	Description string

	// EventKind is the kind this rule subscribes to.
	EventKind models.EventKind

	// When is an optional JMESPath predicate evaluated against the flattened
	// event. An empty expression always matches.
	When string

	// Predicate is an optional Go predicate; both gates must pass when set.
	Predicate func(event *models.Event) bool

	// HandlerIDs are the named handlers invoked on a match.
	HandlerIDs []string

	// Disabled registers the rule's handlers toggled off by default.
	Disabled bool
}
