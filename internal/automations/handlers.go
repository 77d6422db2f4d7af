// Package automations holds the business handlers the trigger rules invoke
// and the static routing tables binding events and poll conditions to them.
package automations

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/agents"
	"github.com/c7lavinder/gunner-backend/pkg/crm"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/throttle"
)

// Handler names referenced by the routing tables.
const (
	HandlerSendFirstTouchSMS  = "send-first-touch-sms"
	HandlerCreateFollowupTask = "create-followup-task"
	HandlerTagGhosted         = "tag-ghosted"
	HandlerNotifyOwner        = "notify-owner"
)

// GhostedTag is the tag applied to contacts that stopped responding.
const GhostedTag = "ghosted"

// Automations owns the handler implementations. Every CRM write goes through
// the outbound throttle.
type Automations struct {
	crm      *crm.Client
	throttle *throttle.Throttle
	logger   ectologger.Logger
}

// New creates the automation handlers
func New(crmClient *crm.Client, th *throttle.Throttle, logger ectologger.Logger) *Automations {
	return &Automations{
		crm:      crmClient,
		throttle: th,
		logger:   logger,
	}
}

// Register registers every handler with the agent registry.
func (a *Automations) Register(registry *agents.Registry) {
	registry.Register(HandlerSendFirstTouchSMS, agents.HandlerFunc(a.SendFirstTouchSMS))
	registry.Register(HandlerCreateFollowupTask, agents.HandlerFunc(a.CreateFollowupTask))
	registry.Register(HandlerTagGhosted, agents.HandlerFunc(a.TagGhosted))
	registry.Register(HandlerNotifyOwner, agents.HandlerFunc(a.NotifyOwner))
}

// SendFirstTouchSMS sends the initial outreach SMS to a freshly created or
// newly stalled contact.
func (a *Automations) SendFirstTouchSMS(ctx context.Context, event *models.Event) error {
	message := "Hi! Thanks for reaching out. When would be a good time for a quick call?"

	return a.throttle.Do(ctx, func(ctx context.Context) error {
		return a.crm.SendSMS(ctx, event.ContactID, message)
	})
}

// CreateFollowupTask creates a follow-up task on the contact for its owner.
func (a *Automations) CreateFollowupTask(ctx context.Context, event *models.Event) error {
	title := "Follow up with contact"
	if description, ok := event.Payload.GetValue()["description"].(string); ok && description != "" {
		title = fmt.Sprintf("Follow up: %s", description)
	}
	dueAt := time.Now().Add(24 * time.Hour)

	return a.throttle.Do(ctx, func(ctx context.Context) error {
		return a.crm.CreateTask(ctx, event.ContactID, title, dueAt)
	})
}

// TagGhosted marks a silent contact so future scans and campaigns skip it.
// The tag flows back into the projection through the CRM's tag webhook.
func (a *Automations) TagGhosted(ctx context.Context, event *models.Event) error {
	return a.throttle.Do(ctx, func(ctx context.Context) error {
		return a.crm.AddTag(ctx, event.ContactID, GhostedTag)
	})
}

// NotifyOwner leaves a note on the contact flagging it for its owner's
// attention.
func (a *Automations) NotifyOwner(ctx context.Context, event *models.Event) error {
	body := "Automation alert: this contact needs attention."
	if description, ok := event.Payload.GetValue()["description"].(string); ok && description != "" {
		body = fmt.Sprintf("Automation alert: %s", description)
	}

	return a.throttle.Do(ctx, func(ctx context.Context) error {
		return a.crm.CreateNote(ctx, event.ContactID, body)
	})
}
