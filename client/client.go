// Package client implements the HTTP transport for the Crosswire event
// service: pulling and acknowledging events, publishing, and subscription
// administration. The subscriber engine consumes it through its Transport
// interface; nothing in this package owns a loop or goroutine.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crosswire/crosswire-go/internal/log"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "crosswire-go/0.2"

	// maxErrorBody caps how much of an error response body is read for
	// diagnostics.
	maxErrorBody = 4 * 1024
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the Crosswire service. It is safe for concurrent use; the
// subscriber engine shares one Client across all worker loops.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger overrides the package logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for the service at baseURL authenticating with apiKey.
func New(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API key is empty")
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.WithComponent("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Pull attempts to retrieve one event for the topic/subscription pair.
// (nil, nil) means no event is currently available; it is a normal outcome,
// not an error.
func (c *Client) Pull(ctx context.Context, topic, subscription string) (*Event, error) {
	endpoint := fmt.Sprintf("%s/v1/topics/%s/subscriptions/%s/pull",
		c.baseURL, url.PathEscape(topic), url.PathEscape(subscription))

	resp, err := c.do(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pull %s/%s: %w", topic, subscription, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var ev Event
		if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
			return nil, fmt.Errorf("pull %s/%s: decode event: %w", topic, subscription, err)
		}
		ev.Topic = topic
		ev.Subscription = subscription
		ev.Bind(c)
		return &ev, nil
	default:
		return nil, fmt.Errorf("pull %s/%s: %w", topic, subscription, apiErrorFrom(resp))
	}
}

// Acknowledge marks an event as processed so the service stops redelivering it.
func (c *Client) Acknowledge(ctx context.Context, topic, subscription, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event id is empty")
	}
	endpoint := fmt.Sprintf("%s/v1/topics/%s/subscriptions/%s/events/%s/ack",
		c.baseURL, url.PathEscape(topic), url.PathEscape(subscription), url.PathEscape(eventID))

	resp, err := c.do(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("acknowledge event %s: %w", eventID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("acknowledge event %s: %w", eventID, apiErrorFrom(resp))
	}
	return nil
}

type publishRequest struct {
	Data any `json:"data"`
}

type publishResponse struct {
	ID string `json:"id"`
}

// Publish publishes one event to a topic and returns the service-assigned
// event id. Each publish carries a fresh idempotency key so a retried request
// cannot double-publish.
func (c *Client) Publish(ctx context.Context, topic string, data any) (string, error) {
	body, err := json.Marshal(publishRequest{Data: data})
	if err != nil {
		return "", fmt.Errorf("publish to %s: encode payload: %w", topic, err)
	}

	endpoint := fmt.Sprintf("%s/v1/topics/%s/events", c.baseURL, url.PathEscape(topic))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("publish to %s: %w", topic, apiErrorFrom(resp))
	}

	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("publish to %s: decode response: %w", topic, err)
	}
	return out.ID, nil
}

// CreateSubscription registers a named subscription on a topic. Creating a
// subscription that already exists is not an error.
func (c *Client) CreateSubscription(ctx context.Context, topic, subscription string) error {
	endpoint := fmt.Sprintf("%s/v1/topics/%s/subscriptions/%s",
		c.baseURL, url.PathEscape(topic), url.PathEscape(subscription))

	resp, err := c.do(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create subscription %s/%s: %w", topic, subscription, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("create subscription %s/%s: %w", topic, subscription, apiErrorFrom(resp))
	}
}

// DeleteSubscription removes a subscription. Unacknowledged events held for
// the subscription are discarded by the service.
func (c *Client) DeleteSubscription(ctx context.Context, topic, subscription string) error {
	endpoint := fmt.Sprintf("%s/v1/topics/%s/subscriptions/%s",
		c.baseURL, url.PathEscape(topic), url.PathEscape(subscription))

	resp, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("delete subscription %s/%s: %w", topic, subscription, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete subscription %s/%s: %w", topic, subscription, apiErrorFrom(resp))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// apiErrorFrom reads a bounded amount of the response body into an APIError.
// The service returns {"error": "..."} envelopes; anything else is kept raw.
func apiErrorFrom(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}
