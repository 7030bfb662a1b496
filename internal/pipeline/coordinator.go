// Package pipeline contains the coordinator that binds the expander, the
// arXiv client, the cache, the publisher, and the extractor into the
// three-phase Discovery -> Intelligence -> Extraction control plane.
//
// DESIGN: All collaborators are injected; whatever is missing gets a
// default at Initialize time. Per-item failures inside a discovery run are
// absorbed into the run result's error list, never raised. A parse request
// is a single-item operation: its failures are logged and counted, and the
// call returns without raising so one bad PDF never wedges a consumer.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scholarpipe/scholarpipe/internal/arxiv"
	"github.com/scholarpipe/scholarpipe/internal/cache"
	"github.com/scholarpipe/scholarpipe/internal/config"
	"github.com/scholarpipe/scholarpipe/internal/expander"
	"github.com/scholarpipe/scholarpipe/internal/extractor"
	"github.com/scholarpipe/scholarpipe/internal/llm"
	"github.com/scholarpipe/scholarpipe/internal/models"
	"github.com/scholarpipe/scholarpipe/internal/monitoring"
	"github.com/scholarpipe/scholarpipe/internal/publisher"
	"github.com/scholarpipe/scholarpipe/internal/ratelimit"
)

// maxRetainedErrors bounds the error list carried by a run result.
const maxRetainedErrors = 10

type state int

const (
	stateUnconfigured state = iota
	stateInitialized
	stateClosed
)

// Deps are the coordinator's injectable collaborators. Nil fields are
// constructed with defaults at Initialize time; a nil Extractor means
// parse requests are unsupported, a nil Transport means Initialize dials
// NATS from config.
type Deps struct {
	Client    *arxiv.Client
	Expander  *expander.Expander
	Publisher *publisher.Publisher
	Transport publisher.Transport
	Extractor extractor.Extractor
	Cache     *cache.Manager
	Router    llm.Router
	Logger    *monitoring.Logger
}

// DiscoveryResult summarises one discovery run.
type DiscoveryResult struct {
	CorrelationID     string   `json:"correlation_id"`
	PapersDiscovered  int      `json:"papers_discovered"`
	PapersPublished   int      `json:"papers_published"`
	QueriesProcessed  int      `json:"queries_processed"`
	CategoriesFetched int      `json:"categories_fetched"`
	DurationSeconds   float64  `json:"duration_seconds"`
	Errors            []string `json:"errors"`
}

// ParseRequest is the inbound request for the extraction phase.
type ParseRequest struct {
	PaperID               string
	PDFURL                string
	CorrelationID         string // P
	OriginalCorrelationID string // D, from the discovery phase
}

// Coordinator orchestrates discovery runs and parse requests.
type Coordinator struct {
	cfg  *config.Config
	deps Deps

	mu    sync.Mutex
	state state

	statsMu         sync.Mutex
	runsCompleted   int64
	papersPublished int64
	parsesHandled   int64
	parseFailures   int64
	lastErrors      []string
}

// New creates an unconfigured coordinator. Call Initialize before use.
func New(cfg *config.Config, deps Deps) *Coordinator {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = monitoring.Nop()
	}
	return &Coordinator{cfg: cfg, deps: deps}
}

// Initialize constructs defaults for any missing collaborator. Idempotent.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateInitialized:
		return nil
	case stateClosed:
		return fmt.Errorf("coordinator is closed")
	}

	if c.deps.Cache == nil && c.cfg.Cache.Enabled {
		backend, err := buildCacheBackend(ctx, c.cfg.Cache)
		if err != nil {
			return fmt.Errorf("cache backend init failed: %w", err)
		}
		c.deps.Cache = cache.NewManager(backend, cache.TTLs{
			APIResponse:    c.cfg.Cache.TTLAPIResponse,
			ParsedContent:  c.cfg.Cache.TTLParsedContent,
			QueryExpansion: c.cfg.Cache.TTLQueryExpansion,
		}, c.deps.Logger)
	}

	if c.deps.Client == nil {
		var gate ratelimit.Gate
		if c.cfg.Arxiv.AdaptiveRateLimit {
			gate = ratelimit.NewAdaptiveLimiter(ratelimit.AdaptiveConfig{
				BaseRate: c.cfg.Arxiv.RateLimitRequestsPerSecond,
				MinRate:  c.cfg.Arxiv.MinRate,
				MaxRate:  c.cfg.Arxiv.MaxRate,
			})
		} else {
			gate = ratelimit.NewLimiter(c.cfg.Arxiv.RateLimitRequestsPerSecond, ratelimit.DefaultCapacity)
		}
		c.deps.Client = arxiv.NewClient(c.cfg.Arxiv, gate, c.deps.Cache, c.deps.Logger)
	}

	if c.deps.Expander == nil {
		c.deps.Expander = expander.New(c.cfg.Expander, c.deps.Router, c.deps.Cache, c.deps.Logger)
	}

	if c.deps.Publisher == nil {
		transport := c.deps.Transport
		if transport == nil {
			url := c.cfg.Publisher.NATSURL
			if url == "" {
				url = "nats://127.0.0.1:4222"
			}
			var err error
			transport, err = publisher.NewNATSTransport(url)
			if err != nil {
				return fmt.Errorf("publisher transport init failed: %w", err)
			}
		}
		c.deps.Publisher = publisher.New(c.cfg.Publisher, transport, c.deps.Logger)
	}

	if c.deps.Extractor == nil {
		c.deps.Extractor = extractor.NewPDFExtractor(c.cfg.Extractor, c.deps.Cache, c.deps.Logger)
	}

	c.state = stateInitialized
	c.deps.Logger.Info().Msg("pipeline coordinator initialized")
	return nil
}

func buildCacheBackend(ctx context.Context, cfg config.CacheConfig) (cache.Backend, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewRedisBackend(ctx, cfg.RedisURL)
	case "sqlite":
		return cache.NewSQLiteBackend(cfg.DiskCacheDir)
	default:
		return cache.NewMemoryBackend(), nil
	}
}

// RunDiscovery expands and searches each query, sweeps the given
// categories, deduplicates, and publishes the result. Individual query
// and category failures land in the result's error list; only a missing
// initialization or context cancellation aborts the run.
func (c *Coordinator) RunDiscovery(ctx context.Context, queries, categories []string) (*DiscoveryResult, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &DiscoveryResult{
		CorrelationID: uuid.NewString(),
		Errors:        []string{},
	}
	ctx = monitoring.WithCorrelationIDContext(ctx, result.CorrelationID)
	logger := c.deps.Logger

	var collected []models.PaperMetadata

	for _, rawQuery := range queries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		exp, err := c.deps.Expander.ExpandQuery(ctx, rawQuery)
		if err != nil {
			result.recordError(fmt.Sprintf("expand %q: %v", rawQuery, err))
			logger.Error().Err(err).Str("query", rawQuery).Msg("query expansion failed")
			continue
		}

		for _, expanded := range exp.ExpandedQueries {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			papers, err := c.deps.Client.Search(ctx, expanded, c.cfg.Arxiv.DefaultResultsPerQuery, 0, arxiv.SortRelevance, arxiv.OrderDescending)
			if err != nil {
				result.recordError(fmt.Sprintf("search %q: %v", expanded, err))
				logger.Warn().Err(err).Str("query", expanded).Msg("search failed")
				continue
			}
			for i := range papers {
				papers[i].Source = models.SourceQuery
				papers[i].SourceQuery = rawQuery
			}
			collected = append(collected, papers...)
		}
		result.QueriesProcessed++
	}

	if len(categories) > 0 {
		papers, errs := c.deps.Client.FetchByCategories(ctx, categories, c.cfg.Arxiv.DefaultResultsPerQuery, 0)
		collected = append(collected, papers...)
		for _, err := range errs {
			result.recordError(err.Error())
			logger.Warn().Err(err).Msg("category sweep failure")
		}
		result.CategoriesFetched = len(categories) - len(errs)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	deduped := models.DedupPapers(collected)
	result.PapersDiscovered = len(deduped)

	if len(deduped) > 0 {
		published, err := c.deps.Publisher.PublishDiscoveredBatched(ctx, deduped, result.CorrelationID)
		result.PapersPublished = published
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.recordError(fmt.Sprintf("publish: %v", err))
		}
	}

	result.DurationSeconds = time.Since(start).Seconds()

	c.statsMu.Lock()
	c.runsCompleted++
	c.papersPublished += int64(result.PapersPublished)
	c.lastErrors = append(c.lastErrors, result.Errors...)
	if len(c.lastErrors) > maxRetainedErrors {
		c.lastErrors = c.lastErrors[len(c.lastErrors)-maxRetainedErrors:]
	}
	c.statsMu.Unlock()

	logger.Info().
		Str("correlation_id", result.CorrelationID).
		Int("discovered", result.PapersDiscovered).
		Int("published", result.PapersPublished).
		Int("errors", len(result.Errors)).
		Float64("duration_seconds", result.DurationSeconds).
		Msg("discovery run completed")
	return result, nil
}

// HandleParseRequest runs the extraction phase for one paper: extract the
// PDF, refetch canonical metadata, publish Extracted with the (D, P)
// chain. Failures are logged and counted; only context cancellation is
// returned.
func (c *Coordinator) HandleParseRequest(ctx context.Context, req ParseRequest) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	logger := c.deps.Logger
	if c.deps.Extractor == nil {
		c.recordParseFailure("parse requests unsupported: no extractor installed")
		return nil
	}

	content, err := c.deps.Extractor.Extract(ctx, req.PDFURL, req.PaperID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.recordParseFailure(fmt.Sprintf("extract %s: %v", req.PaperID, err))
		logger.Error().Err(err).Str("paper_id", req.PaperID).Msg("pdf extraction failed")
		return nil
	}

	// The intelligence layer may not forward full metadata; refetch the
	// canonical record.
	papers, err := c.deps.Client.FetchByIDs(ctx, []string{req.PaperID})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.recordParseFailure(fmt.Sprintf("metadata fetch %s: %v", req.PaperID, err))
		logger.Error().Err(err).Str("paper_id", req.PaperID).Msg("metadata refetch failed")
		return nil
	}
	if len(papers) == 0 {
		c.recordParseFailure(fmt.Sprintf("paper %s not found upstream", req.PaperID))
		logger.Warn().Str("paper_id", req.PaperID).Msg("paper vanished upstream, dropping parse request")
		return nil
	}

	if err := c.deps.Publisher.PublishExtracted(ctx, papers[0], *content, req.OriginalCorrelationID, req.CorrelationID); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.recordParseFailure(fmt.Sprintf("publish extracted %s: %v", req.PaperID, err))
		logger.Error().Err(err).Str("paper_id", req.PaperID).Msg("extracted message dropped")
		return nil
	}

	c.statsMu.Lock()
	c.parsesHandled++
	c.statsMu.Unlock()
	logger.Info().
		Str("paper_id", req.PaperID).
		Str("discovery_correlation_id", req.OriginalCorrelationID).
		Str("parse_correlation_id", req.CorrelationID).
		Msg("parse request completed")
	return nil
}

func (c *Coordinator) recordParseFailure(msg string) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.parseFailures++
	c.lastErrors = append(c.lastErrors, msg)
	if len(c.lastErrors) > maxRetainedErrors {
		c.lastErrors = c.lastErrors[len(c.lastErrors)-maxRetainedErrors:]
	}
}

// HealthCheck aggregates component health for every installed handle.
func (c *Coordinator) HealthCheck(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	if c.deps.Client != nil {
		out["arxiv"] = c.deps.Client.HealthCheck(ctx)
	}
	if c.deps.Publisher != nil {
		out["publisher"] = c.deps.Publisher.HealthCheck(ctx)
	}
	if c.deps.Extractor != nil {
		out["extractor"] = c.deps.Extractor.HealthCheck(ctx)
	}
	if c.deps.Router != nil {
		for name, ok := range c.deps.Router.HealthCheckAll(ctx) {
			out["llm:"+name] = ok
		}
	}
	return out
}

// Stats aggregates coordinator counters with each sub-component's stats.
func (c *Coordinator) Stats() map[string]any {
	c.statsMu.Lock()
	out := map[string]any{
		"runs_completed":   c.runsCompleted,
		"papers_published": c.papersPublished,
		"parses_handled":   c.parsesHandled,
		"parse_failures":   c.parseFailures,
		"recent_errors":    append([]string{}, c.lastErrors...),
	}
	c.statsMu.Unlock()

	if c.deps.Client != nil {
		out["arxiv"] = c.deps.Client.Stats()
	}
	if c.deps.Expander != nil {
		out["expander"] = c.deps.Expander.Stats()
	}
	if c.deps.Publisher != nil {
		out["publisher"] = c.deps.Publisher.Stats()
	}
	if c.deps.Cache != nil {
		out["cache"] = c.deps.Cache.Stats()
	}
	type statser interface{ Stats() map[string]any }
	if s, ok := c.deps.Extractor.(statser); ok {
		out["extractor"] = s.Stats()
	}
	return out
}

// Close disposes owned resources. Idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed

	var firstErr error
	if c.deps.Publisher != nil {
		if err := c.deps.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.deps.Cache != nil {
		if err := c.deps.Cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.deps.Logger.Info().Msg("pipeline coordinator closed")
	return firstErr
}

func (c *Coordinator) requireInitialized() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateUnconfigured:
		return fmt.Errorf("coordinator not initialized")
	case stateClosed:
		return fmt.Errorf("coordinator is closed")
	}
	return nil
}

func (r *DiscoveryResult) recordError(msg string) {
	r.Errors = append(r.Errors, msg)
	if len(r.Errors) > maxRetainedErrors {
		r.Errors = r.Errors[len(r.Errors)-maxRetainedErrors:]
	}
}
