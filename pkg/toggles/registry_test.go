package toggles

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/c7lavinder/gunner-backend/pkg/models"
)

type fakeStore struct {
	toggles   []models.Toggle
	upserts   map[string]bool
	listErr   error
	upsertErr error
}

func (f *fakeStore) Upsert(ctx context.Context, id string, enabled bool) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.upserts == nil {
		f.upserts = make(map[string]bool)
	}
	f.upserts[id] = enabled
	return nil
}

func (f *fakeStore) List(ctx context.Context) ([]models.Toggle, error) {
	return f.toggles, f.listErr
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestIsEnabled_UnknownIDIsDisabled(t *testing.T) {
	registry := NewRegistry(nil, testLogger())

	assert.False(t, registry.IsEnabled("never-registered"))
}

func TestRegister_DoesNotOverwriteExistingEntry(t *testing.T) {
	registry := NewRegistry(nil, testLogger())

	registry.Register("send-sms", true)
	assert.True(t, registry.SetEnabled(context.Background(), "send-sms", false))

	registry.Register("send-sms", true)

	assert.False(t, registry.IsEnabled("send-sms"))
}

func TestSetEnabled_UnknownIDReturnsFalse(t *testing.T) {
	registry := NewRegistry(nil, testLogger())

	assert.False(t, registry.SetEnabled(context.Background(), "ghost", true))
}

func TestSetEnabled_PersistsThroughStore(t *testing.T) {
	store := &fakeStore{}
	registry := NewRegistry(store, testLogger())

	registry.Register("tag-ghosted", true)
	assert.True(t, registry.SetEnabled(context.Background(), "tag-ghosted", false))

	assert.Equal(t, map[string]bool{"tag-ghosted": false}, store.upserts)
	assert.False(t, registry.IsEnabled("tag-ghosted"))
}

func TestSetEnabled_StoreFailureStillFlipsMemory(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("db down")}
	registry := NewRegistry(store, testLogger())

	registry.Register("notify-owner", true)
	assert.True(t, registry.SetEnabled(context.Background(), "notify-owner", false))

	assert.False(t, registry.IsEnabled("notify-owner"))
}

func TestLoad_OverlaysPersistedState(t *testing.T) {
	store := &fakeStore{
		toggles: []models.Toggle{
			{ID: "send-sms", Enabled: false},
			{ID: "stale-entry", Enabled: true},
		},
	}
	registry := NewRegistry(store, testLogger())

	registry.Register("send-sms", true)
	assert.NoError(t, registry.Load(context.Background()))

	assert.False(t, registry.IsEnabled("send-sms"))
	// Persisted rows for unregistered ids are dropped, not resurrected.
	assert.False(t, registry.IsEnabled("stale-entry"))
	assert.Len(t, registry.List(), 1)
}

func TestList_SortedByID(t *testing.T) {
	registry := NewRegistry(nil, testLogger())

	registry.Register("zulu", true)
	registry.Register("alpha", false)
	registry.Register("mike", true)

	list := registry.List()
	assert.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "mike", list[1].ID)
	assert.Equal(t, "zulu", list[2].ID)
}
