package automations

import (
	"context"
	"time"

	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/poller"
	"github.com/c7lavinder/gunner-backend/pkg/rules"
)

// Stage sets the poll rules scan against.
var (
	entryStages    = []string{"new", "New Lead", "Incoming"}
	warmStages     = []string{"warm", "hot", "Engaged"}
	terminalStages = []string{"won", "lost", "Closed Won", "Closed Lost"}
)

// EventRules is the routing table from event kinds to handlers. Adding an
// automation means adding one entry here.
func EventRules() []rules.Rule {
	return []rules.Rule{
		{
			ID:          "first-touch-on-create",
			Description: "Send the first outreach SMS when a contact is created without an assigned owner response",
			EventKind:   models.EventKindContactCreated,
			HandlerIDs:  []string{HandlerSendFirstTouchSMS},
		},
		{
			ID:          "task-on-inbound",
			Description: "Create a follow-up task when a contact replies",
			EventKind:   models.EventKindInboundMessage,
			HandlerIDs:  []string{HandlerCreateFollowupTask},
		},
		{
			ID:          "notify-on-stage-won",
			Description: "Flag the owner when an opportunity reaches a closing stage",
			EventKind:   models.EventKindStageChanged,
			When:        `stage_id == 'won' || stage_id == 'Closed Won'`,
			HandlerIDs:  []string{HandlerNotifyOwner},
		},
	}
}

// PollRules is the routing table for time-based anomaly conditions. Each
// rule's cooldown gates how often it may fire per contact.
func PollRules() []poller.PollRule {
	return []poller.PollRule{
		{
			ID:          "speed-to-lead",
			Description: "New contact with no outbound touch within 15 minutes",
			Cooldown:    4 * time.Hour,
			HandlerIDs:  []string{HandlerSendFirstTouchSMS, HandlerNotifyOwner},
			Find: func(ctx context.Context, scanner poller.StateScanner, limit int) ([]models.LeadState, error) {
				return scanner.ListSpeedToLead(ctx, entryStages, 15*time.Minute, limit)
			},
		},
		{
			ID:          "ghosted",
			Description: "No inbound reply after 3 outbound attempts and 5 days of silence",
			Cooldown:    7 * 24 * time.Hour,
			HandlerIDs:  []string{HandlerTagGhosted},
			Find: func(ctx context.Context, scanner poller.StateScanner, limit int) ([]models.LeadState, error) {
				return scanner.ListGhosted(ctx, 3, 5*24*time.Hour, GhostedTag, limit)
			},
		},
		{
			ID:          "stale-stage-48h",
			Description: "Stuck in the same non-terminal stage, or untouched, for 48 hours",
			Cooldown:    24 * time.Hour,
			HandlerIDs:  []string{HandlerCreateFollowupTask},
			Find: func(ctx context.Context, scanner poller.StateScanner, limit int) ([]models.LeadState, error) {
				return scanner.ListStaleStage(ctx, 48*time.Hour, terminalStages, limit)
			},
		},
		{
			ID:          "warm-no-call",
			Description: "Warm or hot contact with no logged call 24 hours after entering the stage",
			Cooldown:    24 * time.Hour,
			HandlerIDs:  []string{HandlerNotifyOwner},
			Find: func(ctx context.Context, scanner poller.StateScanner, limit int) ([]models.LeadState, error) {
				return scanner.ListWarmNoCall(ctx, warmStages, 24*time.Hour, limit)
			},
		},
	}
}
