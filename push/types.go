package push

import (
	"context"
	"time"
)

// Wire headers set by the service on every push delivery.
const (
	HeaderSignature  = "X-Crosswire-Signature"
	HeaderDeliveryID = "X-Crosswire-Delivery-Id"
	HeaderTopic      = "X-Crosswire-Topic"
)

// DefaultMaxBodySize caps delivery bodies at 1 MiB unless overridden.
const DefaultMaxBodySize = 1 << 20

// Delivery is one verified inbound push delivery.
type Delivery struct {
	// ID is the service-assigned delivery id, used for dedupe. May be empty
	// if the service did not send one.
	ID string

	// Topic the event was published to.
	Topic string

	// Body is the raw request body, exactly as received and as signed.
	Body []byte

	ReceivedAt time.Time
}

// Handler processes one verified delivery. An error produces a 500 so the
// service redelivers.
type Handler func(ctx context.Context, d Delivery) error

// Endpoint configures one push path.
type Endpoint struct {
	// Path is the URL path deliveries are posted to.
	Path string

	// Secret is the endpoint's signing secret.
	Secret string

	// Tolerance is the maximum accepted delivery age (0 = signature default).
	Tolerance time.Duration

	// MaxBodySize is the maximum request body size in bytes (0 = 1 MiB).
	MaxBodySize int64

	// Handler receives verified deliveries.
	Handler Handler
}

// Config holds push server configuration.
type Config struct {
	Listen string
}

// AcceptedResponse is the JSON response for a processed (or deduplicated)
// delivery.
type AcceptedResponse struct {
	Status     string `json:"status"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

// ErrorResponse is the JSON response for rejected deliveries. The error text
// is always generic: signature failures never explain themselves.
type ErrorResponse struct {
	Error string `json:"error"`
}
