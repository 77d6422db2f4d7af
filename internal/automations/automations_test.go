package automations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/c7lavinder/gunner-backend/pkg/agents"
	"github.com/c7lavinder/gunner-backend/pkg/crm"
	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/throttle"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type crmCall struct {
	path string
	body map[string]any
}

type fakeCRM struct {
	mu    sync.Mutex
	calls []crmCall
}

func (f *fakeCRM) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.calls = append(f.calls, crmCall{path: r.URL.Path, body: body})
		f.mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeCRM) lastCall(t *testing.T) crmCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no CRM calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

func newAutomations(t *testing.T) (*Automations, *fakeCRM) {
	t.Helper()
	fake := &fakeCRM{}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client := crm.NewClient(crm.Config{BaseURL: server.URL, APIKey: "k"}, testLogger())

	th := throttle.New(throttle.Config{
		RPS:   1000,
		Burst: 100,
		Tick:  2 * time.Millisecond,
	}, nil, testLogger())
	assert.NoError(t, th.Start(context.Background()))
	t.Cleanup(func() { _ = th.Stop(context.Background()) })

	return New(client, th, testLogger()), fake
}

func anomalyEvent(description string) *models.Event {
	return &models.Event{
		Kind:      models.EventKindAnomaly,
		TenantID:  "t1",
		ContactID: "c1",
		Payload:   database.NewJSONB(map[string]any{"description": description}),
	}
}

func TestSendFirstTouchSMS(t *testing.T) {
	a, fake := newAutomations(t)

	err := a.SendFirstTouchSMS(context.Background(), anomalyEvent(""))

	assert.NoError(t, err)
	call := fake.lastCall(t)
	assert.Equal(t, "/contacts/c1/sms", call.path)
	assert.NotEmpty(t, call.body["message"])
}

func TestCreateFollowupTask_UsesRuleDescription(t *testing.T) {
	a, fake := newAutomations(t)

	err := a.CreateFollowupTask(context.Background(), anomalyEvent("stage unchanged for too long"))

	assert.NoError(t, err)
	call := fake.lastCall(t)
	assert.Equal(t, "/contacts/c1/tasks", call.path)
	assert.Equal(t, "Follow up: stage unchanged for too long", call.body["title"])
	assert.NotEmpty(t, call.body["due_at"])
}

func TestTagGhosted(t *testing.T) {
	a, fake := newAutomations(t)

	err := a.TagGhosted(context.Background(), anomalyEvent(""))

	assert.NoError(t, err)
	call := fake.lastCall(t)
	assert.Equal(t, "/contacts/c1/tags", call.path)
	assert.Equal(t, GhostedTag, call.body["tag"])
}

func TestNotifyOwner(t *testing.T) {
	a, fake := newAutomations(t)

	err := a.NotifyOwner(context.Background(), anomalyEvent("warm contact with no call"))

	assert.NoError(t, err)
	call := fake.lastCall(t)
	assert.Equal(t, "/contacts/c1/notes", call.path)
	assert.Equal(t, "Automation alert: warm contact with no call", call.body["body"])
}

func TestRegister_BindsEveryRoutedHandler(t *testing.T) {
	a, _ := newAutomations(t)
	registry := agents.NewRegistry()
	a.Register(registry)

	for _, rule := range EventRules() {
		for _, handlerID := range rule.HandlerIDs {
			_, err := registry.Resolve(handlerID)
			assert.NoError(t, err, "event rule %s references unregistered handler %s", rule.ID, handlerID)
		}
	}
	for _, rule := range PollRules() {
		for _, handlerID := range rule.HandlerIDs {
			_, err := registry.Resolve(handlerID)
			assert.NoError(t, err, "poll rule %s references unregistered handler %s", rule.ID, handlerID)
		}
	}
}

func TestRoutingTables_UniqueRuleIDs(t *testing.T) {
	seen := make(map[string]bool)
	for _, rule := range EventRules() {
		assert.False(t, seen[rule.ID], "duplicate rule id %s", rule.ID)
		seen[rule.ID] = true
	}
	for _, rule := range PollRules() {
		assert.False(t, seen[rule.ID], "duplicate rule id %s", rule.ID)
		seen[rule.ID] = true
	}
}

func TestPollRules_AllHaveCooldowns(t *testing.T) {
	for _, rule := range PollRules() {
		assert.Greater(t, rule.Cooldown, time.Duration(0), "poll rule %s has no cooldown", rule.ID)
		assert.NotNil(t, rule.Find, "poll rule %s has no finder", rule.ID)
	}
}
