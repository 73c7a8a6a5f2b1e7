package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "5m".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete consumer configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Client   ClientConfig   `yaml:"client"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Push     *PushConfig    `yaml:"push,omitempty"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ClientConfig defines how to reach the event service.
type ClientConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// ConsumerConfig defines the pull subscriber engine.
type ConsumerConfig struct {
	// Processors is the number of parallel worker loops per subscription.
	Processors int `yaml:"processors,omitempty"`

	// Backoff is how long a worker sleeps after an empty or failed pull.
	Backoff Duration `yaml:"backoff,omitempty"`

	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// SubscriptionConfig names one topic/subscription pair to consume.
type SubscriptionConfig struct {
	Topic        string `yaml:"topic"`
	Subscription string `yaml:"subscription"`
}

// PushConfig defines the inbound push-delivery listener.
type PushConfig struct {
	Listen    string               `yaml:"listen"`
	Endpoints []PushEndpointConfig `yaml:"endpoints"`
}

// PushEndpointConfig defines a single push endpoint.
type PushEndpointConfig struct {
	// Path is the URL path deliveries are posted to (e.g. "/push/orders").
	Path string `yaml:"path"`

	// Secret is the endpoint's signing secret.
	Secret string `yaml:"secret"`

	// Tolerance is the maximum accepted delivery age (default 300s).
	Tolerance Duration `yaml:"tolerance,omitempty"`

	// MaxBodySize is the maximum request body size in bytes (default 1MB).
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// LedgerConfig defines the push-delivery dedupe ledger.
type LedgerConfig struct {
	Path      string   `yaml:"path"`
	Retention Duration `yaml:"retention,omitempty"`
}

// Default values applied by Load.
const (
	DefaultLogLevel      = "INFO"
	DefaultLogFormat     = "json"
	DefaultProcessors    = 1
	DefaultMaxBodySize   = 1 << 20 // 1 MiB
	defaultClientTimeout = Duration(30 * time.Second)
	defaultBackoff       = Duration(time.Second)
	defaultTolerance     = Duration(300 * time.Second)
	defaultRetention     = Duration(7 * 24 * time.Hour)
)
