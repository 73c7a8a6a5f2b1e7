package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Acknowledger marks one pulled event as processed for a topic/subscription
// pair. *Client satisfies this; tests substitute fakes.
type Acknowledger interface {
	Acknowledge(ctx context.Context, topic, subscription, eventID string) error
}

// Event is a single delivery pulled from a subscription.
//
// Data is kept as raw JSON: the service does not constrain payload shape and
// callers decode into their own types with Decode or json.Unmarshal.
type Event struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	Subscription string          `json:"subscription"`
	Data         json.RawMessage `json:"data"`
	PublishedAt  time.Time       `json:"published_at"`
	Attempt      int             `json:"attempt"`

	acker Acknowledger
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode event %s payload: %w", e.ID, err)
	}
	return nil
}

// Ack acknowledges the event against its originating topic/subscription.
// The capability is bound when the event is pulled; an event constructed by
// hand has no acker and Ack fails.
func (e *Event) Ack(ctx context.Context) error {
	if e.acker == nil {
		return fmt.Errorf("event %s has no acknowledge capability", e.ID)
	}
	return e.acker.Acknowledge(ctx, e.Topic, e.Subscription, e.ID)
}

// Bind attaches the acknowledge capability. Exposed for transports and tests
// that construct events outside Client.Pull.
func (e *Event) Bind(a Acknowledger) {
	e.acker = a
}
