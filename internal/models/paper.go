// Package models defines the paper metadata, parsed content, and queue
// message shapes shared by the discovery and extraction stages.
//
// DESIGN: PaperMetadata is a value type keyed by PaperID. Two records with
// the same id are the same paper; deduplication keeps the first instance.
// Message shapes in messages.go mirror the wire contract field for field.
package models

import "strings"

// Source records where a paper surfaced during discovery.
type Source string

const (
	SourceQuery    Source = "query"
	SourceCategory Source = "category"
)

// PaperMetadata is the canonical record for one arXiv paper.
// Immutable after construction except Source, SourceQuery, and
// RelevanceScore, which are stamped exactly once at known points.
type PaperMetadata struct {
	PaperID string `json:"paper_id"` // canonical id without version suffix
	Version string `json:"version"`  // "v1", "v2", ...

	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Authors  []string `json:"authors"`

	Categories    []string `json:"categories"`
	Subcategories []string `json:"subcategories"`

	SubmittedDate string `json:"submitted_date"` // YYYY-MM-DD
	UpdatedDate   string `json:"updated_date,omitempty"`

	DOI        string `json:"doi,omitempty"`
	JournalRef string `json:"journal_ref,omitempty"`
	Comments   string `json:"comments,omitempty"`

	PDFURL   string `json:"pdf_url"`
	ArxivURL string `json:"arxiv_url"`

	Source      Source `json:"source,omitempty"`
	SourceQuery string `json:"source_query,omitempty"`

	// RelevanceScore is populated only on the extracted-message path.
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// DeriveSubcategories returns the union of each category's top-level
// prefix and the category itself, preserving order of first appearance.
// ["cs.LG", "stat.ML"] -> ["cs", "cs.LG", "stat", "stat.ML"].
func DeriveSubcategories(categories []string) []string {
	seen := make(map[string]struct{}, len(categories)*2)
	out := make([]string, 0, len(categories)*2)
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, cat := range categories {
		if idx := strings.Index(cat, "."); idx > 0 {
			add(cat[:idx])
		}
		add(cat)
	}
	return out
}

// DedupPapers removes duplicate papers by PaperID, keeping the first
// occurrence and its field values. Order is preserved.
func DedupPapers(papers []PaperMetadata) []PaperMetadata {
	seen := make(map[string]struct{}, len(papers))
	out := make([]PaperMetadata, 0, len(papers))
	for _, p := range papers {
		if _, ok := seen[p.PaperID]; ok {
			continue
		}
		seen[p.PaperID] = struct{}{}
		out = append(out, p)
	}
	return out
}
