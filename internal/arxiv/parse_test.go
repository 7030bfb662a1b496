package arxiv

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/scholarpipe/scholarpipe/internal/errors"
	"github.com/scholarpipe/scholarpipe/internal/monitoring"
)

const feedHeader = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">`

func feedEntry(id, title string) string {
	return fmt.Sprintf(`<entry>
  <id>http://arxiv.org/abs/%s</id>
  <title>%s</title>
  <summary>An abstract.</summary>
  <published>2024-01-15T18:00:00Z</published>
  <updated>2024-02-01T09:30:00Z</updated>
  <author><name>Ada Lovelace</name></author>
  <category term="cs.LG"/>
  <category term="stat.ML"/>
  <link rel="alternate" href="http://arxiv.org/abs/%s"/>
  <link title="pdf" href="http://arxiv.org/pdf/%s"/>
</entry>`, id, title, id, id)
}

func TestParseFeedConvertsEntries(t *testing.T) {
	doc := feedHeader + feedEntry("2401.12345v2", "Deep  Learning\n  Methods") + `</feed>`

	papers, err := parseFeed([]byte(doc), monitoring.Nop())
	require.NoError(t, err)
	require.Len(t, papers, 1)

	p := papers[0]
	assert.Equal(t, "2401.12345", p.PaperID)
	assert.Equal(t, "v2", p.Version)
	assert.Equal(t, "Deep Learning Methods", p.Title, "whitespace runs collapse")
	assert.Equal(t, []string{"Ada Lovelace"}, p.Authors)
	assert.Equal(t, []string{"cs.LG", "stat.ML"}, p.Categories)
	assert.Equal(t, []string{"cs", "cs.LG", "stat", "stat.ML"}, p.Subcategories)
	assert.Equal(t, "2024-01-15", p.SubmittedDate)
	assert.Equal(t, "2024-02-01", p.UpdatedDate)
	assert.Equal(t, "http://arxiv.org/abs/2401.12345v2", p.ArxivURL)
	assert.Equal(t, "http://arxiv.org/pdf/2401.12345v2", p.PDFURL)
}

func TestParseFeedSkipsBadEntriesKeepsRest(t *testing.T) {
	var b strings.Builder
	b.WriteString(feedHeader)
	b.WriteString(feedEntry("2401.00001v1", "One"))
	b.WriteString(feedEntry("2401.00002v1", "Two"))
	// No published date, conversion must fail for this one only.
	b.WriteString(`<entry>
  <id>http://arxiv.org/abs/2401.00003v1</id>
  <title>Three</title>
</entry>`)
	b.WriteString(feedEntry("2401.00004v1", "Four"))
	b.WriteString(feedEntry("2401.00005v1", "Five"))
	b.WriteString(`</feed>`)

	papers, err := parseFeed([]byte(b.String()), monitoring.Nop())
	require.NoError(t, err)
	require.Len(t, papers, 4)
	assert.Equal(t, "2401.00004", papers[2].PaperID, "order of survivors is preserved")
}

func TestParseFeedMalformedDocumentFails(t *testing.T) {
	_, err := parseFeed([]byte(feedHeader+`<entry><id>unterminated`), monitoring.Nop())
	require.Error(t, err)

	var apiErr *pipeerrors.APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestParseFeedEmptyFeed(t *testing.T) {
	papers, err := parseFeed([]byte(feedHeader+`</feed>`), monitoring.Nop())
	require.NoError(t, err)
	assert.Empty(t, papers)
}

func TestSplitEntryID(t *testing.T) {
	tests := []struct {
		in          string
		wantID      string
		wantVersion string
		wantErr     bool
	}{
		{in: "http://arxiv.org/abs/2401.12345v2", wantID: "2401.12345", wantVersion: "v2"},
		{in: "http://arxiv.org/abs/2401.12345", wantID: "2401.12345", wantVersion: "v1"},
		{in: "http://arxiv.org/abs/2401.12345v10", wantID: "2401.12345", wantVersion: "v10"},
		// Old-style ids keep their archive prefix.
		{in: "http://arxiv.org/abs/hep-th/9901001v3", wantID: "hep-th/9901001", wantVersion: "v3"},
		{in: "http://example.com/no-marker", wantErr: true},
		{in: "http://arxiv.org/abs/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, version, err := splitEntryID(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}
