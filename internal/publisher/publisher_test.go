package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarpipe/scholarpipe/internal/config"
	pipeerrors "github.com/scholarpipe/scholarpipe/internal/errors"
	"github.com/scholarpipe/scholarpipe/internal/models"
)

// recordingTransport captures published frames; failFirst makes the first
// n attempts fail to exercise the retry path.
type recordingTransport struct {
	mu        sync.Mutex
	frames    []frame
	failFirst int
	attempts  int
}

type frame struct {
	routingKey string
	payload    []byte
}

func (t *recordingTransport) Publish(_ context.Context, routingKey string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if t.attempts <= t.failFirst {
		return fmt.Errorf("broker unavailable")
	}
	t.frames = append(t.frames, frame{routingKey, append([]byte(nil), payload...)})
	return nil
}

func (t *recordingTransport) HealthCheck(context.Context) bool { return true }
func (t *recordingTransport) Close() error                     { return nil }

func (t *recordingTransport) published() []frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]frame(nil), t.frames...)
}

func testPublisher(transport Transport) *Publisher {
	return New(config.PublisherConfig{
		DiscoveredQueue:   "arxiv.discovered",
		ParseRequestQueue: "arxiv.parse_request",
		ExtractedQueue:    "content.extracted",
		BatchSize:         10,
		PublishMaxRetries: 2,
		PublishRetryDelay: time.Millisecond,
	}, transport, nil)
}

func validPaper(id string) models.PaperMetadata {
	return models.PaperMetadata{
		PaperID:       id,
		Version:       "v1",
		Title:         "Paper " + id,
		SubmittedDate: "2024-01-15",
		PDFURL:        "https://arxiv.org/pdf/" + id + "v1",
		ArxivURL:      "https://arxiv.org/abs/" + id + "v1",
	}
}

func TestPublishDiscoveredSharedCorrelationID(t *testing.T) {
	transport := &recordingTransport{}
	p := testPublisher(transport)

	papers := []models.PaperMetadata{validPaper("a"), validPaper("b"), validPaper("c")}
	n, err := p.PublishDiscovered(context.Background(), papers, "run-42")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	frames := transport.published()
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.Equal(t, "arxiv.discovered", f.routingKey)
		var msg models.DiscoveredMessage
		require.NoError(t, json.Unmarshal(f.payload, &msg))
		assert.Equal(t, "run-42", msg.CorrelationID)
	}
}

func TestPublishDiscoveredFreshIDsWhenUnset(t *testing.T) {
	transport := &recordingTransport{}
	p := testPublisher(transport)

	_, err := p.PublishDiscovered(context.Background(), []models.PaperMetadata{validPaper("a"), validPaper("b")}, "")
	require.NoError(t, err)

	frames := transport.published()
	require.Len(t, frames, 2)
	var first, second models.DiscoveredMessage
	require.NoError(t, json.Unmarshal(frames[0].payload, &first))
	require.NoError(t, json.Unmarshal(frames[1].payload, &second))
	assert.NotEmpty(t, first.CorrelationID)
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
	assert.NotEqual(t, "a", first.CorrelationID, "correlation ids are never paper ids")
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	transport := &recordingTransport{failFirst: 2}
	p := testPublisher(transport)

	n, err := p.PublishDiscovered(context.Background(), []models.PaperMetadata{validPaper("a")}, "run")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, transport.published(), 1)
}

func TestPublishDiscoveredAbsorbsPerPaperFailure(t *testing.T) {
	// Retry budget is 3 attempts per message; the first message burns all
	// of them, the second succeeds.
	transport := &recordingTransport{failFirst: 3}
	p := testPublisher(transport)

	n, err := p.PublishDiscovered(context.Background(), []models.PaperMetadata{validPaper("a"), validPaper("b")}, "run")
	require.NoError(t, err, "a dropped paper does not fail the batch")
	assert.Equal(t, 1, n)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats["published"])
	assert.Equal(t, int64(1), stats["failed"])
}

func TestPublishDiscoveredBatchedCoversAllPapers(t *testing.T) {
	transport := &recordingTransport{}
	p := New(config.PublisherConfig{
		DiscoveredQueue:   "arxiv.discovered",
		ParseRequestQueue: "arxiv.parse_request",
		ExtractedQueue:    "content.extracted",
		BatchSize:         4,
	}, transport, nil)

	papers := make([]models.PaperMetadata, 10)
	for i := range papers {
		papers[i] = validPaper(fmt.Sprintf("2401.%05d", i))
	}
	n, err := p.PublishDiscoveredBatched(context.Background(), papers, "run")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Len(t, transport.published(), 10)
}

func TestPublishParseRequestDefaultsAndWireShape(t *testing.T) {
	transport := &recordingTransport{}
	p := testPublisher(transport)

	score := 0.8
	err := p.PublishParseRequest(context.Background(), ParseRequestInput{
		PaperID:               "2401.00001",
		PDFURL:                "https://arxiv.org/pdf/2401.00001v1",
		OriginalCorrelationID: "discovery-run",
		RelevanceScore:        &score,
	})
	require.NoError(t, err)

	frames := transport.published()
	require.Len(t, frames, 1)
	assert.Equal(t, "arxiv.parse_request", frames[0].routingKey)

	var msg models.ParseRequestMessage
	require.NoError(t, json.Unmarshal(frames[0].payload, &msg))
	assert.Equal(t, DefaultPriority, msg.Priority)
	assert.NotEmpty(t, msg.CorrelationID)
	assert.Equal(t, "discovery-run", msg.OriginalCorrelationID)
}

func TestPublishParseRequestValidation(t *testing.T) {
	transport := &recordingTransport{}
	p := testPublisher(transport)

	badScore := 1.5
	tests := []struct {
		name string
		in   ParseRequestInput
	}{
		{
			name: "priority above bounds",
			in: ParseRequestInput{
				PaperID: "a", PDFURL: "https://arxiv.org/pdf/a", Priority: 11,
				OriginalCorrelationID: "d",
			},
		},
		{
			name: "relevance above bounds",
			in: ParseRequestInput{
				PaperID: "a", PDFURL: "https://arxiv.org/pdf/a",
				OriginalCorrelationID: "d", RelevanceScore: &badScore,
			},
		},
		{
			name: "pdf_url not a url",
			in: ParseRequestInput{
				PaperID: "a", PDFURL: "not a url",
				OriginalCorrelationID: "d",
			},
		},
		{
			name: "missing original correlation id",
			in:   ParseRequestInput{PaperID: "a", PDFURL: "https://arxiv.org/pdf/a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.PublishParseRequest(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, pipeerrors.IsValidation(err))
		})
	}
	assert.Empty(t, transport.published(), "invalid messages never reach the wire")
}

func TestPublishExtractedCarriesChain(t *testing.T) {
	transport := &recordingTransport{}
	p := testPublisher(transport)

	err := p.PublishExtracted(context.Background(),
		validPaper("2401.00001"),
		models.ParsedContent{PaperID: "2401.00001", TextContent: "body"},
		"uuid1", "uuid2")
	require.NoError(t, err)

	frames := transport.published()
	require.Len(t, frames, 1)
	assert.Equal(t, "content.extracted", frames[0].routingKey)

	var msg models.ExtractedMessage
	require.NoError(t, json.Unmarshal(frames[0].payload, &msg))
	assert.Equal(t, "uuid1", msg.DiscoveryCorrelationID)
	assert.Equal(t, "uuid2", msg.ParseCorrelationID)
	assert.Equal(t, "uuid2", msg.CorrelationID)
}

func TestPublishExhaustedRetriesYieldPublishError(t *testing.T) {
	transport := &recordingTransport{failFirst: 100}
	p := testPublisher(transport)

	err := p.PublishParseRequest(context.Background(), ParseRequestInput{
		PaperID: "a", PDFURL: "https://arxiv.org/pdf/a", OriginalCorrelationID: "d",
	})
	require.Error(t, err)

	var pubErr *pipeerrors.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "arxiv.parse_request", pubErr.RoutingKey)
}
