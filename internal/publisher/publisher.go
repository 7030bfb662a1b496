package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/scholarpipe/scholarpipe/internal/config"
	pipeerrors "github.com/scholarpipe/scholarpipe/internal/errors"
	"github.com/scholarpipe/scholarpipe/internal/models"
	"github.com/scholarpipe/scholarpipe/internal/monitoring"
)

const (
	// DefaultPriority for parse requests when the caller does not care.
	DefaultPriority = 5

	// interBatchPause spaces sub-batches so the broker is not flooded.
	interBatchPause = 100 * time.Millisecond
)

// ParseRequestInput carries the caller-facing fields of one parse request.
type ParseRequestInput struct {
	PaperID               string
	PDFURL                string
	CorrelationID         string
	OriginalCorrelationID string
	Priority              int
	RelevanceScore        *float64
	IntelligenceNotes     string
}

// Publisher emits wire-valid messages on the three routing keys.
type Publisher struct {
	cfg       config.PublisherConfig
	transport Transport
	validate  *validator.Validate
	logger    *monitoring.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// New builds a publisher over the given transport.
func New(cfg config.PublisherConfig, transport Transport, logger *monitoring.Logger) *Publisher {
	if cfg.DiscoveredQueue == "" {
		cfg.DiscoveredQueue = "arxiv.discovered"
	}
	if cfg.ParseRequestQueue == "" {
		cfg.ParseRequestQueue = "arxiv.parse_request"
	}
	if cfg.ExtractedQueue == "" {
		cfg.ExtractedQueue = "content.extracted"
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if logger == nil {
		logger = monitoring.Nop()
	}
	return &Publisher{
		cfg:       cfg,
		transport: transport,
		validate:  validator.New(),
		logger:    logger,
	}
}

// publish validates, marshals, and sends one message with the configured
// retry budget. A message that fails validation is never emitted.
func (p *Publisher) publish(ctx context.Context, routingKey string, msg any) error {
	if err := p.validate.Struct(msg); err != nil {
		return pipeerrors.NewValidation(routingKey, err.Error())
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return pipeerrors.NewValidation(routingKey, fmt.Sprintf("unmarshalable message: %v", err))
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.PublishMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.PublishRetryDelay):
			}
		}
		if lastErr = p.transport.Publish(ctx, routingKey, payload); lastErr == nil {
			p.published.Add(1)
			return nil
		}
		p.logger.Warn().Err(lastErr).Str("routing_key", routingKey).Int("attempt", attempt+1).Msg("publish attempt failed")
	}
	p.failed.Add(1)
	return &pipeerrors.PublishError{RoutingKey: routingKey, Cause: lastErr}
}

// PublishDiscovered emits one Discovered message per paper. An empty
// correlationID gets a fresh UUID per message; correlation ids are never
// derived from paper ids. Per-paper failures are counted, not fatal.
// Returns the number of successful emissions.
func (p *Publisher) PublishDiscovered(ctx context.Context, papers []models.PaperMetadata, correlationID string) (int, error) {
	published := 0
	for _, paper := range papers {
		id := correlationID
		if id == "" {
			id = uuid.NewString()
		}
		msg := models.NewDiscoveredMessage(paper, id)
		if err := p.publish(ctx, p.cfg.DiscoveredQueue, msg); err != nil {
			if ctx.Err() != nil {
				return published, ctx.Err()
			}
			p.logger.Error().Err(err).Str("paper_id", paper.PaperID).Msg("discovered message dropped")
			continue
		}
		published++
	}
	return published, nil
}

// PublishDiscoveredBatched emits papers in fixed-size sub-batches with a
// short pause between them. Sub-batch failures do not abort the whole.
func (p *Publisher) PublishDiscoveredBatched(ctx context.Context, papers []models.PaperMetadata, correlationID string) (int, error) {
	published := 0
	for start := 0; start < len(papers); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(papers) {
			end = len(papers)
		}
		n, err := p.PublishDiscovered(ctx, papers[start:end], correlationID)
		published += n
		if err != nil {
			return published, err
		}
		if end < len(papers) {
			select {
			case <-ctx.Done():
				return published, ctx.Err()
			case <-time.After(interBatchPause):
			}
		}
	}
	return published, nil
}

// PublishParseRequest emits a single parse request. Priority outside
// [1,10] and relevance outside [0,1] are rejected before anything reaches
// the wire.
func (p *Publisher) PublishParseRequest(ctx context.Context, in ParseRequestInput) error {
	if in.Priority == 0 {
		in.Priority = DefaultPriority
	}
	if in.CorrelationID == "" {
		in.CorrelationID = uuid.NewString()
	}
	msg := models.ParseRequestMessage{
		CorrelationID:         in.CorrelationID,
		OriginalCorrelationID: in.OriginalCorrelationID,
		CreatedAt:             time.Now().UTC().Format(time.RFC3339),
		PaperID:               in.PaperID,
		PDFURL:                in.PDFURL,
		Priority:              in.Priority,
		RelevanceScore:        in.RelevanceScore,
		IntelligenceNotes:     in.IntelligenceNotes,
	}
	return p.publish(ctx, p.cfg.ParseRequestQueue, msg)
}

// PublishExtracted emits one Extracted message carrying the full
// correlation chain.
func (p *Publisher) PublishExtracted(ctx context.Context, paper models.PaperMetadata, content models.ParsedContent, discoveryCorrelationID, parseCorrelationID string) error {
	msg := models.NewExtractedMessage(paper, content, discoveryCorrelationID, parseCorrelationID)
	return p.publish(ctx, p.cfg.ExtractedQueue, msg)
}

// HealthCheck reports transport health.
func (p *Publisher) HealthCheck(ctx context.Context) bool {
	return p.transport.HealthCheck(ctx)
}

// Stats returns diagnostic counters. They are incremented without
// cross-field synchronization; diagnostic, not authoritative.
func (p *Publisher) Stats() map[string]any {
	return map[string]any{
		"published": p.published.Load(),
		"failed":    p.failed.Load(),
	}
}

// Close releases the transport.
func (p *Publisher) Close() error {
	return p.transport.Close()
}
