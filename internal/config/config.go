// Package config loads and validates the pipeline configuration.
//
// DESIGN: Components take their config section as a construction
// parameter; there is no process-wide config singleton. YAML is the only
// source format, with ${VAR:-default} env expansion so deployments can
// inject secrets (REDIS_URL, NATS_URL, LLM keys) without editing files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the pipeline.
type Config struct {
	Arxiv     ArxivConfig     `yaml:"arxiv"`
	Cache     CacheConfig     `yaml:"cache"`
	Expander  ExpanderConfig  `yaml:"expander"`
	Publisher PublisherConfig `yaml:"publisher"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ArxivConfig tunes the upstream API client and its rate limiter.
type ArxivConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"` // total request timeout
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Categories is the default set for category sweeps.
	Categories []string `yaml:"categories"`

	// RateLimitRequestsPerSecond is the token bucket refill rate.
	// The public endpoint's published limit is one request per three seconds.
	RateLimitRequestsPerSecond float64 `yaml:"rate_limit_requests_per_second"`
	AdaptiveRateLimit          bool    `yaml:"adaptive_rate_limit"`
	MinRate                    float64 `yaml:"min_rate"`
	MaxRate                    float64 `yaml:"max_rate"`

	MaxConcurrentCategories int `yaml:"max_concurrent_categories"`
	MaxResultsPerQuery      int `yaml:"max_results_per_query"`
	DefaultResultsPerQuery  int `yaml:"default_results_per_query"`
}

// CacheConfig wires the cache backend and per-class TTLs.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // "memory", "redis", "sqlite"

	RedisURL     string `yaml:"redis_url"`
	DiskCacheDir string `yaml:"disk_cache_dir"`

	TTLAPIResponse    time.Duration `yaml:"ttl_api_response"`
	TTLParsedContent  time.Duration `yaml:"ttl_parsed_content"`
	TTLQueryExpansion time.Duration `yaml:"ttl_query_expansion"`
}

// ExpanderConfig tunes LLM-driven query expansion.
type ExpanderConfig struct {
	LLMQueryEnabled    bool    `yaml:"llm_query_enabled"`
	Provider           string  `yaml:"llm_provider"`
	Model              string  `yaml:"llm_model"`
	Temperature        float64 `yaml:"llm_temperature"`
	MaxQueryExpansions int     `yaml:"max_query_expansions"`
}

// PublisherConfig names the three routing keys and batching behaviour.
type PublisherConfig struct {
	NATSURL string `yaml:"nats_url"`

	DiscoveredQueue   string `yaml:"discovered_queue"`
	ParseRequestQueue string `yaml:"parse_request_queue"`
	ExtractedQueue    string `yaml:"extracted_queue"`

	BatchSize         int           `yaml:"batch_size"`
	PublishMaxRetries int           `yaml:"publish_max_retries"`
	PublishRetryDelay time.Duration `yaml:"publish_retry_delay"`
}

// ExtractorConfig guards PDF download and parse.
type ExtractorConfig struct {
	PDFDownloadTimeout     time.Duration `yaml:"pdf_download_timeout"`
	PDFParseTimeout        time.Duration `yaml:"pdf_parse_timeout"`
	MaxPDFSizeMB           int           `yaml:"max_pdf_size_mb"`
	SkipPapersLargerThanMB int           `yaml:"skip_papers_larger_than_mb"`
}

// LoggingConfig mirrors the monitoring logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// Default returns the operational defaults. Callers override fields before
// passing sections to components.
func Default() *Config {
	return &Config{
		Arxiv: ArxivConfig{
			BaseURL:                    "https://export.arxiv.org/api/query",
			Timeout:                    30 * time.Second,
			ConnectTimeout:             10 * time.Second,
			Categories:                 []string{"cs.LG", "cs.CL", "cs.AI", "stat.ML"},
			RateLimitRequestsPerSecond: 0.33,
			MinRate:                    0.1,
			MaxRate:                    1.0,
			MaxConcurrentCategories:    3,
			MaxResultsPerQuery:         2000,
			DefaultResultsPerQuery:     25,
		},
		Cache: CacheConfig{
			Enabled:           true,
			Backend:           "memory",
			TTLAPIResponse:    time.Hour,
			TTLParsedContent:  48 * time.Hour,
			TTLQueryExpansion: 5 * time.Minute,
		},
		Expander: ExpanderConfig{
			LLMQueryEnabled:    true,
			Temperature:        0.3,
			MaxQueryExpansions: 5,
		},
		Publisher: PublisherConfig{
			DiscoveredQueue:   "arxiv.discovered",
			ParseRequestQueue: "arxiv.parse_request",
			ExtractedQueue:    "content.extracted",
			BatchSize:         10,
			PublishMaxRetries: 3,
			PublishRetryDelay: time.Second,
		},
		Extractor: ExtractorConfig{
			PDFDownloadTimeout:     60 * time.Second,
			PDFParseTimeout:        120 * time.Second,
			MaxPDFSizeMB:           50,
			SkipPapersLargerThanMB: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// expandEnvWithDefaults expands ${VAR} and ${VAR:-default} in raw YAML.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file, layered over Default().
// A .env file next to the process, if present, is loaded first so
// ${VAR} expansion can see it.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	_ = godotenv.Load() // best-effort; absence is fine

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes over Default().
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency. Invalid config fails eagerly;
// nothing downstream catches these.
func (c *Config) Validate() error {
	if c.Arxiv.BaseURL == "" {
		return fmt.Errorf("arxiv.base_url is required")
	}
	if c.Arxiv.RateLimitRequestsPerSecond <= 0 {
		return fmt.Errorf("arxiv.rate_limit_requests_per_second must be positive")
	}
	if c.Arxiv.MinRate <= 0 || c.Arxiv.MaxRate < c.Arxiv.MinRate {
		return fmt.Errorf("arxiv rate bounds invalid: min=%v max=%v", c.Arxiv.MinRate, c.Arxiv.MaxRate)
	}
	if c.Arxiv.MaxResultsPerQuery < 1 {
		return fmt.Errorf("arxiv.max_results_per_query must be at least 1")
	}

	switch c.Cache.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown cache.backend: %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Enabled && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required for the redis backend")
	}
	if c.Cache.Backend == "sqlite" && c.Cache.Enabled && c.Cache.DiskCacheDir == "" {
		return fmt.Errorf("cache.disk_cache_dir is required for the sqlite backend")
	}

	if c.Expander.MaxQueryExpansions < 1 {
		return fmt.Errorf("expander.max_query_expansions must be at least 1")
	}
	if c.Expander.Temperature < 0 || c.Expander.Temperature > 2 {
		return fmt.Errorf("expander.llm_temperature out of range: %v", c.Expander.Temperature)
	}

	for name, key := range map[string]string{
		"publisher.discovered_queue":    c.Publisher.DiscoveredQueue,
		"publisher.parse_request_queue": c.Publisher.ParseRequestQueue,
		"publisher.extracted_queue":     c.Publisher.ExtractedQueue,
	} {
		if key == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if c.Publisher.BatchSize < 1 {
		return fmt.Errorf("publisher.batch_size must be at least 1")
	}

	if c.Extractor.MaxPDFSizeMB < 1 {
		return fmt.Errorf("extractor.max_pdf_size_mb must be at least 1")
	}
	return nil
}
