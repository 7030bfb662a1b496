package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/scholarpipe/scholarpipe/internal/models"
	"github.com/scholarpipe/scholarpipe/internal/monitoring"
)

// Key namespaces. Non-id segments are md5-hex truncated to 16 chars to
// keep key length bounded; paper ids are short enough to use raw.
const (
	apiKeyPrefix    = "arxiv:api:"
	parsedKeyPrefix = "arxiv:parsed:"
	queryKeyPrefix  = "arxiv:query:"

	hashLen = 16
)

// TTLs holds the per-class expiry times.
type TTLs struct {
	APIResponse    time.Duration
	ParsedContent  time.Duration
	QueryExpansion time.Duration
}

// DefaultTTLs are operational hints, not wire facts.
func DefaultTTLs() TTLs {
	return TTLs{
		APIResponse:    time.Hour,
		ParsedContent:  48 * time.Hour,
		QueryExpansion: 5 * time.Minute,
	}
}

// Manager layers key derivation, JSON serialisation, and TTL classes over
// a Backend. A nil Manager (or nil backend) is valid: every get misses and
// every set is dropped, so callers never branch on cache presence.
type Manager struct {
	backend Backend
	ttls    TTLs
	logger  *monitoring.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewManager wraps backend with the given TTL classes. backend may be nil.
func NewManager(backend Backend, ttls TTLs, logger *monitoring.Logger) *Manager {
	if logger == nil {
		logger = monitoring.Nop()
	}
	return &Manager{backend: backend, ttls: ttls, logger: logger}
}

func hashSegment(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// apiKey derives the cache key for one API query parameter tuple.
func apiKey(query string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(query)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, params[k])
	}
	return apiKeyPrefix + hashSegment(b.String())
}

func parsedKey(paperID string) string { return parsedKeyPrefix + paperID }

func queryKey(rawQuery string) string { return queryKeyPrefix + hashSegment(rawQuery) }

// get deserialises into out. Any failure, including backend errors and
// undecodable payloads, is a miss.
func (m *Manager) get(ctx context.Context, key string, out any) bool {
	if m == nil || m.backend == nil {
		return false
	}
	data, ok, err := m.backend.Get(ctx, key)
	if err != nil {
		m.errors.Add(1)
		m.logger.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		return false
	}
	if !ok {
		m.misses.Add(1)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		m.misses.Add(1)
		m.logger.Warn().Err(err).Str("key", key).Msg("cache entry undecodable, treating as miss")
		return false
	}
	m.hits.Add(1)
	return true
}

// set serialises value best-effort. Errors are logged, never returned.
func (m *Manager) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if m == nil || m.backend == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		m.errors.Add(1)
		m.logger.Warn().Err(err).Str("key", key).Msg("cache serialisation failed, dropping write")
		return
	}
	if err := m.backend.Set(ctx, key, data, ttl); err != nil {
		m.errors.Add(1)
		m.logger.Warn().Err(err).Str("key", key).Msg("cache set failed, dropping write")
	}
}

// GetAPIResponse returns a cached paper list for the query tuple.
func (m *Manager) GetAPIResponse(ctx context.Context, query string, params map[string]string) ([]models.PaperMetadata, bool) {
	var papers []models.PaperMetadata
	if !m.get(ctx, apiKey(query, params), &papers) {
		return nil, false
	}
	return papers, true
}

// SetAPIResponse caches a paper list for the query tuple.
func (m *Manager) SetAPIResponse(ctx context.Context, query string, params map[string]string, papers []models.PaperMetadata) {
	if m == nil {
		return
	}
	m.set(ctx, apiKey(query, params), papers, m.ttlOr(m.ttls.APIResponse, DefaultTTLs().APIResponse))
}

// GetParsed returns cached parsed content for one paper.
func (m *Manager) GetParsed(ctx context.Context, paperID string) (*models.ParsedContent, bool) {
	var content models.ParsedContent
	if !m.get(ctx, parsedKey(paperID), &content) {
		return nil, false
	}
	return &content, true
}

// SetParsed caches parsed content for one paper.
func (m *Manager) SetParsed(ctx context.Context, content *models.ParsedContent) {
	if m == nil || content == nil || content.PaperID == "" {
		return
	}
	m.set(ctx, parsedKey(content.PaperID), content, m.ttlOr(m.ttls.ParsedContent, DefaultTTLs().ParsedContent))
}

// GetManyParsed returns the cached subset of ids. Never fails; absent or
// undecodable entries are simply omitted.
func (m *Manager) GetManyParsed(ctx context.Context, paperIDs []string) map[string]models.ParsedContent {
	out := make(map[string]models.ParsedContent, len(paperIDs))
	if m == nil || m.backend == nil || len(paperIDs) == 0 {
		return out
	}
	keys := make([]string, len(paperIDs))
	for i, id := range paperIDs {
		keys[i] = parsedKey(id)
	}
	hits, err := m.backend.GetMany(ctx, keys)
	if err != nil {
		m.errors.Add(1)
		m.logger.Warn().Err(err).Int("keys", len(keys)).Msg("cache get_many failed, treating as all-miss")
		return out
	}
	for key, data := range hits {
		var content models.ParsedContent
		if err := json.Unmarshal(data, &content); err != nil {
			continue
		}
		out[strings.TrimPrefix(key, parsedKeyPrefix)] = content
	}
	return out
}

// GetQueryExpansion returns a cached expansion list for the raw query.
func (m *Manager) GetQueryExpansion(ctx context.Context, rawQuery string) ([]string, bool) {
	var expanded []string
	if !m.get(ctx, queryKey(rawQuery), &expanded) {
		return nil, false
	}
	return expanded, true
}

// SetQueryExpansion caches an expansion list for the raw query.
func (m *Manager) SetQueryExpansion(ctx context.Context, rawQuery string, expanded []string) {
	if m == nil {
		return
	}
	m.set(ctx, queryKey(rawQuery), expanded, m.ttlOr(m.ttls.QueryExpansion, DefaultTTLs().QueryExpansion))
}

// InvalidatePaper removes the parsed-content entry for one paper.
func (m *Manager) InvalidatePaper(ctx context.Context, paperID string) {
	if m == nil || m.backend == nil || paperID == "" {
		return
	}
	if err := m.backend.Delete(ctx, parsedKey(paperID)); err != nil {
		m.errors.Add(1)
		m.logger.Warn().Err(err).Str("paper_id", paperID).Msg("cache invalidate failed")
	}
}

func (m *Manager) ttlOr(ttl, fallback time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return fallback
}

// Stats returns diagnostic counters.
func (m *Manager) Stats() map[string]any {
	if m == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled": m.backend != nil,
		"hits":    m.hits.Load(),
		"misses":  m.misses.Load(),
		"errors":  m.errors.Load(),
	}
}

// Close releases the backend.
func (m *Manager) Close() error {
	if m == nil || m.backend == nil {
		return nil
	}
	return m.backend.Close()
}
