package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSubcategories(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "prefixes precede their categories in first-appearance order",
			in:   []string{"cs.LG", "stat.ML"},
			want: []string{"cs", "cs.LG", "stat", "stat.ML"},
		},
		{
			name: "duplicate prefixes collapse",
			in:   []string{"cs.LG", "cs.CL"},
			want: []string{"cs", "cs.LG", "cs.CL"},
		},
		{
			name: "undotted category passes through",
			in:   []string{"math-ph"},
			want: []string{"math-ph"},
		},
		{
			name: "empty input",
			in:   nil,
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveSubcategories(tt.in))
		})
	}
}

func TestDedupPapersFirstOccurrenceWins(t *testing.T) {
	first := PaperMetadata{PaperID: "c", Title: "first sighting", Source: SourceQuery}
	later := PaperMetadata{PaperID: "c", Title: "second sighting", Source: SourceCategory}

	out := DedupPapers([]PaperMetadata{
		{PaperID: "a"}, {PaperID: "b"}, first,
		later, {PaperID: "b"}, {PaperID: "d"},
	})

	require.Len(t, out, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, paperIDs(out))
	assert.Equal(t, "first sighting", out[2].Title, "the first record's fields survive")
	assert.Equal(t, SourceQuery, out[2].Source)
}

func TestDedupPapersIsIdempotent(t *testing.T) {
	in := []PaperMetadata{{PaperID: "a"}, {PaperID: "b"}, {PaperID: "a"}}
	once := DedupPapers(in)
	twice := DedupPapers(once)
	assert.Equal(t, once, twice)
}

func paperIDs(papers []PaperMetadata) []string {
	ids := make([]string, len(papers))
	for i, p := range papers {
		ids[i] = p.PaperID
	}
	return ids
}

func TestPaperMetadataWireFieldNames(t *testing.T) {
	score := 0.9
	p := PaperMetadata{
		PaperID:        "2401.00001",
		Version:        "v2",
		Title:          "A Paper",
		SubmittedDate:  "2024-01-01",
		PDFURL:         "https://arxiv.org/pdf/2401.00001v2",
		ArxivURL:       "https://arxiv.org/abs/2401.00001v2",
		Source:         SourceQuery,
		SourceQuery:    "transformers",
		RelevanceScore: &score,
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, field := range []string{
		"paper_id", "version", "title", "submitted_date",
		"pdf_url", "arxiv_url", "source", "source_query", "relevance_score",
	} {
		assert.Contains(t, m, field)
	}
	assert.NotContains(t, m, "doi", "empty optional fields are omitted")
}
