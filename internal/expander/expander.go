// Package expander turns raw human queries into arXiv-search-friendly
// variants via an LLM, with a deterministic fallback and a cache tier.
//
// DESIGN: The LLM path is best-effort end to end. Free-form model output
// goes through a hardened parser (fence stripping, tolerant JSON walk,
// length filter); anything short of N usable variants falls back to field
// prefix expansion. Only the compound failure (LLM path AND fallback both
// empty) surfaces to the caller.
package expander

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/scholarpipe/scholarpipe/internal/cache"
	"github.com/scholarpipe/scholarpipe/internal/config"
	pipeerrors "github.com/scholarpipe/scholarpipe/internal/errors"
	"github.com/scholarpipe/scholarpipe/internal/llm"
	"github.com/scholarpipe/scholarpipe/internal/models"
	"github.com/scholarpipe/scholarpipe/internal/monitoring"
)

const (
	// minVariantLen filters degenerate model output; anything shorter
	// carries no search signal.
	minVariantLen = 4

	// maxCompletionTokens caps the expansion call; five short query
	// strings never need more.
	maxCompletionTokens = 400
)

const promptTemplate = `You are helping search arXiv for scholarly papers.

Generate %d alternative search queries for: "%s"

Include synonyms, common abbreviations, and related methodologies.
Queries may use arXiv field prefixes such as "all:" for full-text search.

Respond with ONLY a JSON array of %d strings. No explanations.`

var nonWordOrSpace = regexp.MustCompile(`[^\w\s]`)

// Expander produces query expansions for the coordinator.
type Expander struct {
	cfg    config.ExpanderConfig
	router llm.Router
	cache  *cache.Manager
	logger *monitoring.Logger

	expansions  atomic.Int64
	cacheHits   atomic.Int64
	llmFailures atomic.Int64
	fallbacks   atomic.Int64
}

// New builds an expander. router may be nil, in which case every query
// takes the deterministic fallback path.
func New(cfg config.ExpanderConfig, router llm.Router, cacheManager *cache.Manager, logger *monitoring.Logger) *Expander {
	if cfg.MaxQueryExpansions < 1 {
		cfg.MaxQueryExpansions = 5
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if logger == nil {
		logger = monitoring.Nop()
	}
	return &Expander{cfg: cfg, router: router, cache: cacheManager, logger: logger}
}

// ExpandQuery returns a non-empty expansion for rawQuery, or an error when
// even the fallback produced nothing (degenerate input).
func (e *Expander) ExpandQuery(ctx context.Context, rawQuery string) (*models.QueryExpansion, error) {
	rawQuery = strings.TrimSpace(rawQuery)
	if rawQuery == "" {
		return nil, pipeerrors.NewValidation("query", "must not be empty")
	}
	e.expansions.Add(1)

	if cached, ok := e.cache.GetQueryExpansion(ctx, rawQuery); ok && len(cached) > 0 {
		e.cacheHits.Add(1)
		return &models.QueryExpansion{
			OriginalQuery:   rawQuery,
			ExpandedQueries: cached,
			GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
			CacheHit:        true,
		}, nil
	}

	expanded := e.expandViaLLM(ctx, rawQuery)
	if len(expanded) == 0 {
		e.fallbacks.Add(1)
		expanded = FallbackExpansion(rawQuery, e.cfg.MaxQueryExpansions)
	}
	if len(expanded) == 0 {
		return nil, &pipeerrors.QueryProcessingError{
			Query: rawQuery,
			Cause: fmt.Errorf("no usable variants from LLM or fallback"),
		}
	}

	e.cache.SetQueryExpansion(ctx, rawQuery, expanded)
	return &models.QueryExpansion{
		OriginalQuery:   rawQuery,
		ExpandedQueries: expanded,
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		CacheHit:        false,
	}, nil
}

// expandViaLLM returns nil on any failure; the caller falls back.
func (e *Expander) expandViaLLM(ctx context.Context, rawQuery string) []string {
	if e.router == nil || !e.cfg.LLMQueryEnabled {
		return nil
	}

	n := e.cfg.MaxQueryExpansions
	result, err := e.router.Complete(ctx, llm.CompletionRequest{
		Prompt:        fmt.Sprintf(promptTemplate, n, rawQuery, n),
		TaskType:      llm.TaskQueryGeneration,
		Temperature:   e.cfg.Temperature,
		MaxTokens:     maxCompletionTokens,
		ForceProvider: e.cfg.Provider,
		Model:         e.cfg.Model,
	})
	if err != nil {
		e.llmFailures.Add(1)
		e.logger.Warn().Err(err).Str("query", rawQuery).Msg("llm expansion failed, using fallback")
		return nil
	}

	variants := parseVariants(result.Content, n)
	if len(variants) == 0 {
		e.logger.Warn().Str("query", rawQuery).Msg("llm returned no usable variants, using fallback")
	}
	return variants
}

// parseVariants hardens free-form model output into a clean string list:
// markdown fences stripped, non-string and short elements discarded,
// truncated to n.
func parseVariants(content string, n int) []string {
	cleaned := stripCodeFences(content)

	parsed := gjson.Parse(cleaned)
	if !parsed.IsArray() {
		return nil
	}

	seen := make(map[string]struct{}, n)
	var out []string
	parsed.ForEach(func(_, value gjson.Result) bool {
		if value.Type != gjson.String {
			return true
		}
		v := strings.TrimSpace(value.String())
		if len(v) < minVariantLen {
			return true
		}
		if _, dup := seen[v]; dup {
			return true
		}
		seen[v] = struct{}{}
		out = append(out, v)
		return len(out) < n
	})
	return out
}

// stripCodeFences removes a leading/trailing markdown code fence pair.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// FallbackExpansion is the deterministic expansion used when the LLM path
// yields nothing: full-text, punctuation-stripped, title-only, and
// abstract-only field searches.
func FallbackExpansion(rawQuery string, n int) []string {
	candidates := []string{"all:" + rawQuery}

	stripped := strings.TrimSpace(nonWordOrSpace.ReplaceAllString(rawQuery, ""))
	if stripped != "" && stripped != rawQuery {
		candidates = append(candidates, "all:"+stripped)
	}
	candidates = append(candidates, "ti:"+rawQuery, "abs:"+rawQuery)

	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, cand := range candidates {
		if len(cand) <= 3 {
			continue
		}
		if _, dup := seen[cand]; dup {
			continue
		}
		seen[cand] = struct{}{}
		out = append(out, cand)
		if len(out) == n {
			break
		}
	}
	return out
}

// Stats returns diagnostic counters.
func (e *Expander) Stats() map[string]any {
	return map[string]any{
		"expansions":   e.expansions.Load(),
		"cache_hits":   e.cacheHits.Load(),
		"llm_failures": e.llmFailures.Load(),
		"fallbacks":    e.fallbacks.Load(),
	}
}
