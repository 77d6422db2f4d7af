package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/models"
)

// Isolate wraps a subscriber so that returned errors and panics are logged
// with the subscriber's name and never propagate. The bus fan-out and the
// anomaly poller's per-rule loop both dispatch through this wrapper, so the
// error-isolation contract is enforced in one place.
func Isolate(logger ectologger.Logger, name string, fn Subscriber) Subscriber {
	return func(ctx context.Context, event *models.Event) error {
		defer func() {
			if r := recover(); r != nil {
				logger.WithContext(ctx).WithFields(map[string]any{
					"subscriber": name,
					"event_kind": event.Kind,
					"contact_id": event.ContactID,
				}).Errorf("subscriber panicked: %v", r)
			}
		}()

		if err := fn(ctx, event); err != nil {
			logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"subscriber": name,
				"event_kind": event.Kind,
				"contact_id": event.ContactID,
			}).Error("subscriber failed")
		}
		return nil
	}
}
