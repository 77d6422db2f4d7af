// Package crm wraps the downstream CRM HTTP API. Every write call is run
// through the outbound throttle by the callers; this client's job is request
// plumbing and classifying overload responses so the throttle can retry them.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/throttle"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// Config holds CRM client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the downstream CRM API client
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  ectologger.Logger
}

// NewClient creates a new CRM client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		logger: logger,
	}
}

// SendSMS sends an SMS to a contact through the CRM
func (c *Client) SendSMS(ctx context.Context, contactID string, message string) error {
	return c.post(ctx, fmt.Sprintf("/contacts/%s/sms", contactID), map[string]any{
		"message": message,
	})
}

// CreateTask creates a follow-up task on a contact
func (c *Client) CreateTask(ctx context.Context, contactID string, title string, dueAt time.Time) error {
	return c.post(ctx, fmt.Sprintf("/contacts/%s/tasks", contactID), map[string]any{
		"title":  title,
		"due_at": dueAt.Format(time.RFC3339),
	})
}

// AddTag tags a contact
func (c *Client) AddTag(ctx context.Context, contactID string, tag string) error {
	return c.post(ctx, fmt.Sprintf("/contacts/%s/tags", contactID), map[string]any{
		"tag": tag,
	})
}

// CreateNote attaches a note to a contact
func (c *Client) CreateNote(ctx context.Context, contactID string, body string) error {
	return c.post(ctx, fmt.Sprintf("/contacts/%s/notes", contactID), map[string]any{
		"body": body,
	})
}

// GetContact fetches the CRM's current view of a contact, used by the
// force-resync flow.
func (c *Client) GetContact(ctx context.Context, contactID string) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "CRMClient.GetContact")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/contacts/"+contactID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var contact map[string]any
	if err := json.Unmarshal(body, &contact); err != nil {
		return nil, fmt.Errorf("failed to decode contact: %w", err)
	}
	return contact, nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "CRMClient.post")
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	_, err = c.do(ctx, req)
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// do executes the request and classifies 429/503 responses as rate-limit
// conditions the throttle retries with backoff.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("CRM request failed: %s %s", req.Method, req.URL.Path)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.WithContext(ctx).Debugf("CRM %s %s -> %d (%s)",
		req.Method, req.URL.Path, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		rle := &throttle.RateLimitError{
			Err: httperror.NewHTTPErrorf(resp.StatusCode, "CRM overloaded: %s %s", req.Method, req.URL.Path),
		}
		if header := resp.Header.Get("Retry-After"); header != "" {
			if retryAfter, err := throttle.ParseRetryAfter(header); err == nil {
				rle.RetryAfter = retryAfter
			}
		}
		return nil, rle
	}

	if resp.StatusCode >= 400 {
		return nil, httperror.NewHTTPErrorf(resp.StatusCode, "CRM request failed: %s %s: %s",
			req.Method, req.URL.Path, string(body))
	}

	return body, nil
}
