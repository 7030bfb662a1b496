package models

import "time"

// DiscoveredMessage is emitted once per unique paper on the discovered
// queue. CorrelationID is the run-wide id stamped by the coordinator.
type DiscoveredMessage struct {
	CorrelationID string `json:"correlation_id" validate:"required"`
	CreatedAt     string `json:"created_at" validate:"required"`

	PaperID string `json:"paper_id" validate:"required"`
	Version string `json:"version"`

	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Authors  []string `json:"authors"`

	Categories    []string `json:"categories"`
	Subcategories []string `json:"subcategories"`

	ArxivURL string `json:"arxiv_url"`
	PDFURL   string `json:"pdf_url"`

	SubmittedDate string `json:"submitted_date"`
	UpdatedDate   string `json:"updated_date,omitempty"`
	DOI           string `json:"doi,omitempty"`
	JournalRef    string `json:"journal_ref,omitempty"`
	Comments      string `json:"comments,omitempty"`

	SourceQuery string `json:"source_query"`
}

// ParseRequestMessage asks the extraction stage to parse one PDF.
// OriginalCorrelationID carries the discovery id so the chain survives
// the intelligence layer.
type ParseRequestMessage struct {
	CorrelationID         string `json:"correlation_id" validate:"required"`
	OriginalCorrelationID string `json:"original_correlation_id" validate:"required"`
	CreatedAt             string `json:"created_at" validate:"required"`

	PaperID string `json:"paper_id" validate:"required"`
	PDFURL  string `json:"pdf_url" validate:"required,url"`

	Priority          int      `json:"priority" validate:"min=1,max=10"`
	RelevanceScore    *float64 `json:"relevance_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	IntelligenceNotes string   `json:"intelligence_notes,omitempty"`
}

// ExtractedMessage is emitted once per successfully parsed paper.
// It carries the full correlation chain: CorrelationID equals the parse
// id, DiscoveryCorrelationID the original discovery id.
type ExtractedMessage struct {
	CorrelationID          string `json:"correlation_id" validate:"required"`
	DiscoveryCorrelationID string `json:"discovery_correlation_id" validate:"required"`
	ParseCorrelationID     string `json:"parse_correlation_id" validate:"required"`
	CreatedAt              string `json:"created_at" validate:"required"`

	PaperID  string `json:"paper_id" validate:"required"`
	Version  string `json:"version"`
	Title    string `json:"title"`
	ArxivURL string `json:"arxiv_url"`
	PDFURL   string `json:"pdf_url"`

	Authors       []string `json:"authors"`
	Categories    []string `json:"categories"`
	Subcategories []string `json:"subcategories"`

	SubmittedDate string `json:"submitted_date"`
	DOI           string `json:"doi,omitempty"`

	TextContent        string          `json:"text_content"`
	Tables             []Table         `json:"tables"`
	Equations          []string        `json:"equations"`
	FigureCaptions     []FigureCaption `json:"figure_captions"`
	ExtractionMetadata map[string]any  `json:"extraction_metadata"`
}

// NewDiscoveredMessage builds the wire message for one paper.
func NewDiscoveredMessage(p PaperMetadata, correlationID string) DiscoveredMessage {
	return DiscoveredMessage{
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		PaperID:       p.PaperID,
		Version:       p.Version,
		Title:         p.Title,
		Abstract:      p.Abstract,
		Authors:       p.Authors,
		Categories:    p.Categories,
		Subcategories: p.Subcategories,
		ArxivURL:      p.ArxivURL,
		PDFURL:        p.PDFURL,
		SubmittedDate: p.SubmittedDate,
		UpdatedDate:   p.UpdatedDate,
		DOI:           p.DOI,
		JournalRef:    p.JournalRef,
		Comments:      p.Comments,
		SourceQuery:   p.SourceQuery,
	}
}

// NewExtractedMessage joins metadata and parsed content under the full
// correlation chain.
func NewExtractedMessage(p PaperMetadata, content ParsedContent, discoveryID, parseID string) ExtractedMessage {
	meta := content.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return ExtractedMessage{
		CorrelationID:          parseID,
		DiscoveryCorrelationID: discoveryID,
		ParseCorrelationID:     parseID,
		CreatedAt:              time.Now().UTC().Format(time.RFC3339),
		PaperID:                p.PaperID,
		Version:                p.Version,
		Title:                  p.Title,
		ArxivURL:               p.ArxivURL,
		PDFURL:                 p.PDFURL,
		Authors:                p.Authors,
		Categories:             p.Categories,
		Subcategories:          p.Subcategories,
		SubmittedDate:          p.SubmittedDate,
		DOI:                    p.DOI,
		TextContent:            content.TextContent,
		Tables:                 content.Tables,
		Equations:              content.Equations,
		FigureCaptions:         content.FigureCaptions,
		ExtractionMetadata:     meta,
	}
}
