package models

// Table is one extracted table with its shape preserved.
type Table struct {
	Caption    string     `json:"caption,omitempty"`
	Headers    []string   `json:"headers,omitempty"`
	Rows       [][]string `json:"rows,omitempty"`
	RowCount   int        `json:"row_count"`
	ColCount   int        `json:"col_count"`
	PageNumber int        `json:"page_number"`
}

// FigureCaption is one extracted figure caption.
type FigureCaption struct {
	FigureID string `json:"figure_id"`
	Caption  string `json:"caption"`
	Page     int    `json:"page"`
	AltText  string `json:"alt_text,omitempty"`
}

// ParsedContent is the extractor's normalized output for one PDF.
// Equations are de-duplicated with order of first occurrence preserved.
type ParsedContent struct {
	PaperID        string          `json:"paper_id"`
	TextContent    string          `json:"text_content"`
	Tables         []Table         `json:"tables"`
	Equations      []string        `json:"equations"`
	FigureCaptions []FigureCaption `json:"figure_captions"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// QueryExpansion is the expander's result for one raw query.
// ExpandedQueries is never empty after construction; on total failure it
// contains the original query alone.
type QueryExpansion struct {
	OriginalQuery   string   `json:"original_query"`
	ExpandedQueries []string `json:"expanded_queries"`
	GeneratedAt     string   `json:"generated_at"` // ISO-8601
	CacheHit        bool     `json:"cache_hit"`
}
