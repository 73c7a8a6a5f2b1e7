// Package config loads and validates the consumer's YAML configuration.
//
// Secrets are referenced as ${ENV_VAR} inside the file and expanded from the
// environment at load time, so configuration files never hold credentials.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, expands, and validates configuration from a file.
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", configPath)
	}
	return Parse(raw)
}

// Parse parses configuration from raw YAML bytes.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandEnv replaces ${VAR} references with environment values. An unset
// variable is an error rather than a silent empty string: a missing secret
// must not sail through as one.
func expandEnv(raw string) (string, error) {
	var missing []string
	expanded := envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unset environment variables referenced in config: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// Defaults returns a minimal configuration with every default applied.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "crosswire-consumer"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = DefaultLogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = DefaultLogFormat
	}
	if cfg.Client.Timeout <= 0 {
		cfg.Client.Timeout = defaultClientTimeout
	}
	if cfg.Consumer.Processors <= 0 {
		cfg.Consumer.Processors = DefaultProcessors
	}
	if cfg.Consumer.Backoff <= 0 {
		cfg.Consumer.Backoff = defaultBackoff
	}
	if cfg.Ledger.Retention <= 0 {
		cfg.Ledger.Retention = defaultRetention
	}
	if cfg.Push != nil {
		for i := range cfg.Push.Endpoints {
			ep := &cfg.Push.Endpoints[i]
			if ep.Tolerance <= 0 {
				ep.Tolerance = defaultTolerance
			}
			if ep.MaxBodySize <= 0 {
				ep.MaxBodySize = DefaultMaxBodySize
			}
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Client.BaseURL == "" {
		return fmt.Errorf("client.base_url is required")
	}
	if cfg.Client.APIKey == "" {
		return fmt.Errorf("client.api_key is required")
	}

	seen := make(map[string]bool)
	for i, sub := range cfg.Consumer.Subscriptions {
		if sub.Topic == "" {
			return fmt.Errorf("consumer.subscriptions[%d].topic is required", i)
		}
		if sub.Subscription == "" {
			return fmt.Errorf("consumer.subscriptions[%d].subscription is required", i)
		}
		key := sub.Topic + "/" + sub.Subscription
		if seen[key] {
			return fmt.Errorf("consumer.subscriptions[%d] duplicates %s", i, key)
		}
		seen[key] = true
	}

	if cfg.Push != nil {
		if cfg.Push.Listen == "" {
			return fmt.Errorf("push.listen is required when push is configured")
		}
		paths := make(map[string]bool)
		for i, ep := range cfg.Push.Endpoints {
			if !strings.HasPrefix(ep.Path, "/") {
				return fmt.Errorf("push.endpoints[%d].path must start with '/'", i)
			}
			if ep.Secret == "" {
				return fmt.Errorf("push.endpoints[%d].secret is required", i)
			}
			if paths[ep.Path] {
				return fmt.Errorf("push.endpoints[%d] duplicates path %s", i, ep.Path)
			}
			paths[ep.Path] = true
		}
		if cfg.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required when push is configured")
		}
	}

	return nil
}
