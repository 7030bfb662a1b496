package arxiv

import (
	"encoding/xml"
	"fmt"
	"strings"

	pipeerrors "github.com/scholarpipe/scholarpipe/internal/errors"
	"github.com/scholarpipe/scholarpipe/internal/models"
	"github.com/scholarpipe/scholarpipe/internal/monitoring"
)

const absPathMarker = "arxiv.org/abs/"

// parseFeed decodes an ATOM document and converts each entry. Ill-formed
// XML aborts the call; an unconvertible entry is logged and skipped.
func parseFeed(data []byte, logger *monitoring.Logger) ([]models.PaperMetadata, error) {
	var f feed
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, &pipeerrors.APIError{Cause: fmt.Errorf("malformed ATOM document: %w", err)}
	}

	papers := make([]models.PaperMetadata, 0, len(f.Entries))
	for _, e := range f.Entries {
		paper, err := convertEntry(e)
		if err != nil {
			logger.Warn().Err(err).Str("entry_id", e.ID).Msg("skipping unparseable feed entry")
			continue
		}
		papers = append(papers, paper)
	}
	return papers, nil
}

// convertEntry maps one ATOM entry to PaperMetadata.
func convertEntry(e entry) (models.PaperMetadata, error) {
	paperID, version, err := splitEntryID(e.ID)
	if err != nil {
		return models.PaperMetadata{}, err
	}

	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	categories := make([]string, 0, len(e.Cats))
	for _, c := range e.Cats {
		if c.Term != "" {
			categories = append(categories, c.Term)
		}
	}

	paper := models.PaperMetadata{
		PaperID:       paperID,
		Version:       version,
		Title:         collapseWhitespace(e.Title),
		Abstract:      collapseWhitespace(e.Summary),
		Authors:       authors,
		Categories:    categories,
		Subcategories: models.DeriveSubcategories(categories),
		SubmittedDate: datePrefix(e.Published),
		UpdatedDate:   datePrefix(e.Updated),
		DOI:           strings.TrimSpace(e.DOI),
		JournalRef:    strings.TrimSpace(e.JournalRef),
		Comments:      strings.TrimSpace(e.Comment),
	}
	if paper.SubmittedDate == "" {
		return models.PaperMetadata{}, fmt.Errorf("entry %s has no published date", e.ID)
	}

	for _, l := range e.Links {
		switch {
		case l.Rel == "alternate":
			paper.ArxivURL = l.Href
		case l.Title == "pdf" || strings.HasSuffix(l.Href, ".pdf"):
			paper.PDFURL = l.Href
		}
	}
	return paper, nil
}

// splitEntryID extracts the canonical id and version from an atom:id like
// http://arxiv.org/abs/2401.12345v2. The version suffix is optional and
// defaults to v1.
func splitEntryID(entryID string) (string, string, error) {
	idx := strings.Index(entryID, absPathMarker)
	if idx < 0 {
		return "", "", fmt.Errorf("entry id %q does not contain %q", entryID, absPathMarker)
	}
	raw := entryID[idx+len(absPathMarker):]
	if raw == "" {
		return "", "", fmt.Errorf("entry id %q has an empty paper id", entryID)
	}

	// The version marker is the last 'v' followed by digits only.
	if vIdx := strings.LastIndex(raw, "v"); vIdx > 0 && isDigits(raw[vIdx+1:]) {
		return raw[:vIdx], raw[vIdx:], nil
	}
	return raw, "v1", nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// collapseWhitespace folds all internal whitespace runs (including
// newlines from ATOM pretty-printing) into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// datePrefix keeps the YYYY-MM-DD prefix of an RFC3339 timestamp.
func datePrefix(ts string) string {
	if len(ts) < 10 {
		return ""
	}
	return ts[:10]
}
