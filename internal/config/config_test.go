package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "https://export.arxiv.org/api/query", cfg.Arxiv.BaseURL)
	assert.InDelta(t, 0.33, cfg.Arxiv.RateLimitRequestsPerSecond, 0.001)
	assert.Equal(t, 2000, cfg.Arxiv.MaxResultsPerQuery)

	assert.Equal(t, time.Hour, cfg.Cache.TTLAPIResponse)
	assert.Equal(t, 48*time.Hour, cfg.Cache.TTLParsedContent)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTLQueryExpansion)

	assert.Equal(t, "arxiv.discovered", cfg.Publisher.DiscoveredQueue)
	assert.Equal(t, "arxiv.parse_request", cfg.Publisher.ParseRequestQueue)
	assert.Equal(t, "content.extracted", cfg.Publisher.ExtractedQueue)
}

func TestLoadFromBytesLayersOverDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
arxiv:
  rate_limit_requests_per_second: 0.5
  categories: [cs.LG]
publisher:
  batch_size: 25
`))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, cfg.Arxiv.RateLimitRequestsPerSecond, 0.001)
	assert.Equal(t, []string{"cs.LG"}, cfg.Arxiv.Categories)
	assert.Equal(t, 25, cfg.Publisher.BatchSize)
	assert.Equal(t, "https://export.arxiv.org/api/query", cfg.Arxiv.BaseURL, "untouched fields keep defaults")
}

func TestLoadFromBytesEnvExpansion(t *testing.T) {
	t.Setenv("TEST_NATS_URL", "nats://broker:4222")

	cfg, err := LoadFromBytes([]byte(`
publisher:
  nats_url: ${TEST_NATS_URL}
cache:
  backend: ${TEST_CACHE_BACKEND:-memory}
`))
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.Publisher.NATSURL)
	assert.Equal(t, "memory", cfg.Cache.Backend, "unset variable falls back to its default")
}

func TestLoadFromBytesRejectsInvalidYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("arxiv: [not: a: mapping"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Arxiv.BaseURL = "" }},
		{"non-positive rate", func(c *Config) { c.Arxiv.RateLimitRequestsPerSecond = 0 }},
		{"inverted rate bounds", func(c *Config) { c.Arxiv.MinRate = 2; c.Arxiv.MaxRate = 1 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis backend without url", func(c *Config) { c.Cache.Backend = "redis" }},
		{"sqlite backend without dir", func(c *Config) { c.Cache.Backend = "sqlite" }},
		{"empty queue name", func(c *Config) { c.Publisher.DiscoveredQueue = "" }},
		{"zero batch size", func(c *Config) { c.Publisher.BatchSize = 0 }},
		{"temperature out of range", func(c *Config) { c.Expander.Temperature = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadEmptyPathFails(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
