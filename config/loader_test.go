package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
service:
  name: test-consumer
  log_level: DEBUG
client:
  base_url: https://api.crosswire.dev
  api_key: key-123
  timeout: 10s
consumer:
  processors: 4
  backoff: 500ms
  subscriptions:
    - topic: orders
      subscription: fulfillment
    - topic: refunds
      subscription: accounting
push:
  listen: 127.0.0.1:8081
  endpoints:
    - path: /push/orders
      secret: whsec_abc
      tolerance: 2m
ledger:
  path: ./data/ledger.db
  retention: 48h
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "test-consumer", cfg.Service.Name)
	assert.Equal(t, "DEBUG", cfg.Service.LogLevel)
	assert.Equal(t, "json", cfg.Service.LogFormat, "log format defaults to json")

	assert.Equal(t, "https://api.crosswire.dev", cfg.Client.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Client.Timeout.Std())

	assert.Equal(t, 4, cfg.Consumer.Processors)
	assert.Equal(t, 500*time.Millisecond, cfg.Consumer.Backoff.Std())
	require.Len(t, cfg.Consumer.Subscriptions, 2)
	assert.Equal(t, "orders", cfg.Consumer.Subscriptions[0].Topic)

	require.NotNil(t, cfg.Push)
	require.Len(t, cfg.Push.Endpoints, 1)
	ep := cfg.Push.Endpoints[0]
	assert.Equal(t, 2*time.Minute, ep.Tolerance.Std())
	assert.Equal(t, int64(DefaultMaxBodySize), ep.MaxBodySize, "body size defaults to 1MiB")

	assert.Equal(t, 48*time.Hour, cfg.Ledger.Retention.Std())
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
client:
  base_url: https://api.crosswire.dev
  api_key: key
`))
	require.NoError(t, err)

	assert.Equal(t, "crosswire-consumer", cfg.Service.Name)
	assert.Equal(t, DefaultLogLevel, cfg.Service.LogLevel)
	assert.Equal(t, DefaultProcessors, cfg.Consumer.Processors)
	assert.Equal(t, time.Second, cfg.Consumer.Backoff.Std())
	assert.Equal(t, 30*time.Second, cfg.Client.Timeout.Std())
	assert.Nil(t, cfg.Push)
}

func TestParseValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing base_url",
			yaml: "client:\n  api_key: key\n",
		},
		{
			name: "missing api_key",
			yaml: "client:\n  base_url: https://api.crosswire.dev\n",
		},
		{
			name: "subscription without topic",
			yaml: validYAML + "", // placeholder, replaced below
		},
	}
	tests[2].yaml = `
client:
  base_url: https://api.crosswire.dev
  api_key: key
consumer:
  subscriptions:
    - subscription: fulfillment
`

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestParseRejectsDuplicateSubscriptions(t *testing.T) {
	_, err := Parse([]byte(`
client:
  base_url: https://api.crosswire.dev
  api_key: key
consumer:
  subscriptions:
    - topic: orders
      subscription: fulfillment
    - topic: orders
      subscription: fulfillment
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicates")
}

func TestParsePushRequiresLedgerPath(t *testing.T) {
	_, err := Parse([]byte(`
client:
  base_url: https://api.crosswire.dev
  api_key: key
push:
  listen: 127.0.0.1:8081
  endpoints:
    - path: /push/orders
      secret: whsec_abc
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.path")
}

func TestParseRejectsInvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`
client:
  base_url: https://api.crosswire.dev
  api_key: key
  timeout: soon
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("CROSSWIRE_TEST_KEY", "secret-from-env")

	cfg, err := Parse([]byte(`
client:
  base_url: https://api.crosswire.dev
  api_key: ${CROSSWIRE_TEST_KEY}
`))
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Client.APIKey)
}

func TestEnvExpansionUnsetVariableFails(t *testing.T) {
	os.Unsetenv("CROSSWIRE_DEFINITELY_UNSET")

	_, err := Parse([]byte(`
client:
  base_url: https://api.crosswire.dev
  api_key: ${CROSSWIRE_DEFINITELY_UNSET}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CROSSWIRE_DEFINITELY_UNSET")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-consumer", cfg.Service.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
