package subscriber

import (
	"context"

	"github.com/crosswire/crosswire-go/client"
)

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/crosswire/crosswire-go/subscriber Transport

// Transport is the slice of the service API the engine needs. *client.Client
// satisfies it; tests substitute mocks or in-memory fakes.
//
// Pull returns (nil, nil) when no event is available for the pair. That is a
// first-class outcome, not an error: the engine backs off and retries.
// The service guarantees at most one outstanding delivery per event, so
// parallel loops pulling the same pair never see the same event concurrently.
type Transport interface {
	Pull(ctx context.Context, topic, subscription string) (*client.Event, error)
	Acknowledge(ctx context.Context, topic, subscription, eventID string) error
}

// Handler processes one pulled event. A nil return acknowledges the event;
// an error leaves it unacknowledged for the service to redeliver.
type Handler func(ctx context.Context, ev *client.Event) error
