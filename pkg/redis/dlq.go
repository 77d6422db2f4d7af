package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appctx "github.com/c7lavinder/gunner-backend/pkg/context"
	"github.com/c7lavinder/gunner-backend/pkg/metrics"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

const (
	// DefaultDLQStream is the default dead letter stream name
	DefaultDLQStream = "gunner:dlq"

	// DLQMaxLen is the maximum stream length (oldest entries trimmed)
	DLQMaxLen = 10000
)

// DLQEntry records one outbound call that exhausted its retries.
type DLQEntry struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	ContactID    string    `json:"contact_id"`
	RuleID       string    `json:"rule_id,omitempty"`
	ErrorMessage string    `json:"error_message"`
	Retries      int       `json:"retries"`
	CreatedAt    time.Time `json:"created_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}

// DeadLetterQueue stores exhausted outbound calls in a Redis stream for
// offline inspection.
type DeadLetterQueue struct {
	client     *Client
	streamName string
	logger     ectologger.Logger
}

// NewDeadLetterQueue creates a new dead letter queue
func NewDeadLetterQueue(client *Client, streamName string, logger ectologger.Logger) *DeadLetterQueue {
	if streamName == "" {
		streamName = DefaultDLQStream
	}
	return &DeadLetterQueue{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

// Add appends an entry to the dead letter stream
func (d *DeadLetterQueue) Add(ctx context.Context, entry *DLQEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Add")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	messageID, err := d.client.Redis().XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":       string(data),
			"tenant_id":  entry.TenantID,
			"contact_id": entry.ContactID,
			"rule_id":    entry.RuleID,
		},
	}).Result()

	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to add entry to DLQ")
		return "", fmt.Errorf("failed to add to DLQ: %w", err)
	}

	metrics.DLQEntries.Inc()
	d.logger.WithContext(ctx).Infof("Added entry to DLQ: id=%s contact=%s retries=%d", entry.ID, entry.ContactID, entry.Retries)
	return messageID, nil
}

// RecordExhausted adapts the throttle failure sink to the dead letter stream,
// pulling the dispatch identity from the request context.
func (d *DeadLetterQueue) RecordExhausted(ctx context.Context, callErr error, retries int) {
	entry := &DLQEntry{
		TenantID:     appctx.GetTenantID(ctx),
		ContactID:    appctx.GetContactID(ctx),
		RuleID:       appctx.GetRuleID(ctx),
		ErrorMessage: callErr.Error(),
		Retries:      retries,
	}
	if _, err := d.Add(ctx, entry); err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to record exhausted call in DLQ")
	}
}

// List returns the newest entries from the dead letter stream
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.List")
	defer span.End()

	if count <= 0 {
		count = 100
	}

	messages, err := d.client.Redis().XRevRangeN(ctx, d.streamName, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}

	entries := make([]DLQEntry, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}

		var entry DLQEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			d.logger.WithContext(ctx).WithError(err).Warnf("Failed to unmarshal DLQ entry: %s", msg.ID)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Count returns the number of entries in the dead letter stream
func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.Redis().XLen(ctx, d.streamName).Result()
}

// Delete removes an entry from the dead letter stream
func (d *DeadLetterQueue) Delete(ctx context.Context, messageID string) error {
	count, err := d.client.Redis().XDel(ctx, d.streamName, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete DLQ entry: %w", err)
	}

	if count == 0 {
		return fmt.Errorf("DLQ entry not found: %s", messageID)
	}

	d.logger.WithContext(ctx).Infof("Deleted DLQ entry: %s", messageID)
	return nil
}
