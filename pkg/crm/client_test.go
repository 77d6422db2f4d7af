package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/c7lavinder/gunner-backend/pkg/throttle"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	}, testLogger()), server
}

func TestSendSMS_PostsToContactEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	err := client.SendSMS(context.Background(), "c-1", "hello there")

	assert.NoError(t, err)
	assert.Equal(t, "/contacts/c-1/sms", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "hello there", gotBody["message"])
}

func TestAddTag_PostsTag(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	})

	assert.NoError(t, client.AddTag(context.Background(), "c-1", "ghosted"))
	assert.Equal(t, "ghosted", gotBody["tag"])
}

func TestGetContact_DecodesResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts/c-9", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"contact_id":"c-9","stage_id":"won"}`))
	})

	contact, err := client.GetContact(context.Background(), "c-9")

	assert.NoError(t, err)
	assert.Equal(t, "c-9", contact["contact_id"])
	assert.Equal(t, "won", contact["stage_id"])
}

func TestDo_TooManyRequestsClassifiedAsRateLimit(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := client.SendSMS(context.Background(), "c-1", "hi")

	assert.Error(t, err)
	assert.True(t, throttle.IsRateLimit(err))

	var rle *throttle.RateLimitError
	assert.ErrorAs(t, err, &rle)
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
}

func TestDo_ServiceUnavailableClassifiedAsRateLimit(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := client.CreateNote(context.Background(), "c-1", "note")
	assert.True(t, throttle.IsRateLimit(err))
}

func TestDo_ClientErrorIsNotRateLimit(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.CreateTask(context.Background(), "c-1", "call back", time.Now())

	assert.Error(t, err)
	assert.False(t, throttle.IsRateLimit(err))
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}
