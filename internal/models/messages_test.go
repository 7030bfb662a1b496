package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscoveredMessageCarriesRunID(t *testing.T) {
	p := PaperMetadata{
		PaperID:       "1706.03762",
		Version:       "v1",
		Title:         "Attention Is All You Need",
		SourceQuery:   "transformers",
		SubmittedDate: "2017-06-12",
	}

	msg := NewDiscoveredMessage(p, "run-id-123")

	assert.Equal(t, "run-id-123", msg.CorrelationID)
	assert.Equal(t, "1706.03762", msg.PaperID)
	assert.Equal(t, "transformers", msg.SourceQuery)

	_, err := time.Parse(time.RFC3339, msg.CreatedAt)
	assert.NoError(t, err, "created_at is RFC3339")
}

func TestNewExtractedMessageCorrelationChain(t *testing.T) {
	p := PaperMetadata{PaperID: "2401.00001", Version: "v1", Title: "T"}
	content := ParsedContent{
		PaperID:     "2401.00001",
		TextContent: "body",
		Equations:   []string{"x = y"},
	}

	msg := NewExtractedMessage(p, content, "uuid1", "uuid2")

	assert.Equal(t, "uuid2", msg.CorrelationID, "top-level id is the parse id")
	assert.Equal(t, "uuid1", msg.DiscoveryCorrelationID)
	assert.Equal(t, "uuid2", msg.ParseCorrelationID)
	assert.Equal(t, "body", msg.TextContent)
	assert.NotNil(t, msg.ExtractionMetadata, "metadata defaults to an empty map")
}

func TestExtractedMessageWireFieldNames(t *testing.T) {
	msg := NewExtractedMessage(
		PaperMetadata{PaperID: "id"},
		ParsedContent{PaperID: "id"},
		"d", "p",
	)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, field := range []string{
		"correlation_id", "discovery_correlation_id", "parse_correlation_id",
		"created_at", "paper_id", "text_content", "tables", "equations",
		"figure_captions", "extraction_metadata",
	} {
		assert.Contains(t, m, field)
	}
}

func TestParseRequestMessageWireFieldNames(t *testing.T) {
	score := 0.75
	msg := ParseRequestMessage{
		CorrelationID:         "p",
		OriginalCorrelationID: "d",
		CreatedAt:             time.Now().UTC().Format(time.RFC3339),
		PaperID:               "2401.00001",
		PDFURL:                "https://arxiv.org/pdf/2401.00001v1",
		Priority:              7,
		RelevanceScore:        &score,
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "original_correlation_id")
	assert.Contains(t, m, "priority")
	assert.InDelta(t, 0.75, m["relevance_score"], 0.0001)
}
