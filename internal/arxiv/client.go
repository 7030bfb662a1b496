package arxiv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/scholarpipe/scholarpipe/internal/cache"
	"github.com/scholarpipe/scholarpipe/internal/config"
	pipeerrors "github.com/scholarpipe/scholarpipe/internal/errors"
	"github.com/scholarpipe/scholarpipe/internal/models"
	"github.com/scholarpipe/scholarpipe/internal/monitoring"
	"github.com/scholarpipe/scholarpipe/internal/ratelimit"
)

const (
	// maxResultsCap is the upstream's hard cap on max_results.
	maxResultsCap = 2000

	// idBatchSize bounds one id:... OR id:... query.
	idBatchSize = 100

	// healthCheckTimeout bounds the health probe.
	healthCheckTimeout = 10 * time.Second

	userAgent = "scholarpipe/1.0"
)

// rateObserver is implemented by the adaptive limiter; the basic limiter
// simply never receives feedback.
type rateObserver interface {
	OnSuccess()
	On429(retryAfter time.Duration)
}

// Client speaks to the arXiv ATOM API under the rate-limit gate with a
// write-through response cache.
type Client struct {
	cfg        config.ArxivConfig
	httpClient *http.Client
	limiter    ratelimit.Gate
	cache      *cache.Manager
	logger     *monitoring.Logger

	requests  atomic.Int64
	cacheHits atomic.Int64
	failures  atomic.Int64
}

// NewClient builds a client. limiter must not be nil; cacheManager may be
// nil (every lookup misses).
func NewClient(cfg config.ArxivConfig, limiter ratelimit.Gate, cacheManager *cache.Manager, logger *monitoring.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://export.arxiv.org/api/query"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter(cfg.RateLimitRequestsPerSecond, ratelimit.DefaultCapacity)
	}
	if logger == nil {
		logger = monitoring.Nop()
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
		limiter: limiter,
		cache:   cacheManager,
		logger:  logger,
	}
}

// Search issues one search_query request. Results come from cache when the
// full parameter tuple was seen within the API-response TTL.
func (c *Client) Search(ctx context.Context, query string, maxResults, startIndex int, sortBy SortBy, sortOrder SortOrder) ([]models.PaperMetadata, error) {
	if query == "" {
		return nil, pipeerrors.NewValidation("query", "must not be empty")
	}
	if maxResults <= 0 {
		maxResults = c.cfg.DefaultResultsPerQuery
	}
	if maxResults > maxResultsCap {
		maxResults = maxResultsCap
	}
	if c.cfg.MaxResultsPerQuery > 0 && maxResults > c.cfg.MaxResultsPerQuery {
		maxResults = c.cfg.MaxResultsPerQuery
	}
	if sortBy == "" {
		sortBy = SortRelevance
	}
	if sortOrder == "" {
		sortOrder = OrderDescending
	}

	params := map[string]string{
		"start":       strconv.Itoa(startIndex),
		"max_results": strconv.Itoa(maxResults),
		"sortBy":      string(sortBy),
		"sortOrder":   string(sortOrder),
	}
	if papers, ok := c.cache.GetAPIResponse(ctx, query, params); ok {
		c.cacheHits.Add(1)
		c.logger.Debug().Str("query", query).Int("results", len(papers)).Msg("search served from cache")
		return papers, nil
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	body, err := c.doRequest(ctx, query, params)
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}

	papers, err := parseFeed(body, c.logger)
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}

	c.cache.SetAPIResponse(ctx, query, params, papers)
	c.logger.Debug().Str("query", query).Int("results", len(papers)).Msg("search completed")
	return papers, nil
}

// FetchByCategories sweeps each category in order with a submittedDate
// sort. daysBack of zero means no date floor. A failing category is
// logged and skipped, its error accumulated; the sweep continues unless
// ctx itself is done. Results are stamped with Source=category and the
// category token as SourceQuery.
func (c *Client) FetchByCategories(ctx context.Context, categories []string, maxPerCategory, daysBack int) ([]models.PaperMetadata, []error) {
	var out []models.PaperMetadata
	var errs []error
	for _, cat := range categories {
		query := "cat:" + cat
		if daysBack > 0 {
			floor := time.Now().UTC().AddDate(0, 0, -daysBack).Format("20060102")
			query = fmt.Sprintf("%s AND submittedDate:[%s TO 99991231]", query, floor)
		}

		papers, err := c.Search(ctx, query, maxPerCategory, 0, SortSubmittedDate, OrderDescending)
		if err != nil {
			errs = append(errs, fmt.Errorf("category %s fetch failed: %w", cat, err))
			if ctx.Err() != nil {
				return out, errs
			}
			c.logger.Warn().Err(err).Str("category", cat).Msg("category fetch failed, continuing sweep")
			continue
		}
		for i := range papers {
			papers[i].Source = models.SourceCategory
			papers[i].SourceQuery = cat
		}
		out = append(out, papers...)
	}
	return out, errs
}

// FetchByIDs resolves canonical metadata for specific papers, batched so
// one request never names more than idBatchSize ids. An empty input
// returns an empty slice without touching the network.
func (c *Client) FetchByIDs(ctx context.Context, paperIDs []string) ([]models.PaperMetadata, error) {
	if len(paperIDs) == 0 {
		return []models.PaperMetadata{}, nil
	}

	var out []models.PaperMetadata
	for start := 0; start < len(paperIDs); start += idBatchSize {
		end := start + idBatchSize
		if end > len(paperIDs) {
			end = len(paperIDs)
		}
		batch := paperIDs[start:end]

		terms := make([]string, len(batch))
		for i, id := range batch {
			terms[i] = "id:" + id
		}
		papers, err := c.Search(ctx, strings.Join(terms, " OR "), len(batch), 0, SortRelevance, OrderDescending)
		if err != nil {
			return out, err
		}
		out = append(out, papers...)
	}
	return out, nil
}

// HealthCheck issues a minimum-result category query with a tight timeout.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.limiter.Acquire(ctx); err != nil {
		return false
	}
	_, err := c.doRequest(ctx, "cat:cs.LG", map[string]string{
		"start":       "0",
		"max_results": "1",
		"sortBy":      string(SortSubmittedDate),
		"sortOrder":   string(OrderDescending),
	})
	return err == nil
}

// doRequest performs one GET and classifies failures per the error
// taxonomy. The adaptive limiter, when installed, observes the outcome.
func (c *Client) doRequest(ctx context.Context, query string, params map[string]string) ([]byte, error) {
	c.requests.Add(1)

	values := url.Values{}
	values.Set("search_query", query)
	for k, v := range params {
		values.Set(k, v)
	}
	reqURL := c.cfg.BaseURL + "?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &pipeerrors.APIError{Cause: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &pipeerrors.TimeoutError{Timeout: c.cfg.Timeout, Cause: err}
		}
		return nil, &pipeerrors.APIError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if obs, ok := c.limiter.(rateObserver); ok {
			obs.On429(retryAfter)
		}
		c.logger.Warn().Dur("retry_after", retryAfter).Msg("upstream rate limited the client")
		return nil, &pipeerrors.RateLimitError{RetryAfter: retryAfter}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pipeerrors.APIError{Cause: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &pipeerrors.APIError{Status: resp.StatusCode, Body: string(body)}
	}

	if obs, ok := c.limiter.(rateObserver); ok {
		obs.OnSuccess()
	}
	return body, nil
}

// Stats returns diagnostic counters plus the limiter's state.
func (c *Client) Stats() map[string]any {
	stats := map[string]any{
		"requests":   c.requests.Load(),
		"cache_hits": c.cacheHits.Load(),
		"failures":   c.failures.Load(),
	}
	type statser interface{ Stats() map[string]any }
	if s, ok := c.limiter.(statser); ok {
		stats["rate_limiter"] = s.Stats()
	}
	return stats
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
