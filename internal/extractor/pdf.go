package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/scholarpipe/scholarpipe/internal/cache"
	"github.com/scholarpipe/scholarpipe/internal/config"
	pipeerrors "github.com/scholarpipe/scholarpipe/internal/errors"
	"github.com/scholarpipe/scholarpipe/internal/models"
	"github.com/scholarpipe/scholarpipe/internal/monitoring"
)

var (
	// displayEquation matches $$...$$ and equation environments that
	// survive in the text stream of LaTeX-born PDFs.
	displayEquation = regexp.MustCompile(`(?s)\$\$(.+?)\$\$|\\begin\{equation\*?\}(.+?)\\end\{equation\*?\}`)

	// figureCaption matches "Figure 3: ..." and "Fig. 3. ..." lines.
	figureCaption = regexp.MustCompile(`(?m)^(Figure|Fig\.?)\s+(\d+)[.:]\s*(.+)$`)

	// tableCaption matches "Table 2: ..." lines; the text stream carries
	// no cell structure, so tables surface as captioned placeholders.
	tableCaption = regexp.MustCompile(`(?m)^Table\s+(\d+)[.:]\s*(.+)$`)
)

// PDFExtractor is the default Extractor: download, guard, extract text
// per page, harvest structure from the text stream.
type PDFExtractor struct {
	cfg        config.ExtractorConfig
	httpClient *http.Client
	cache      *cache.Manager
	logger     *monitoring.Logger

	extracted atomic.Int64
	cacheHits atomic.Int64
	failures  atomic.Int64
}

// NewPDFExtractor builds the default extractor. cacheManager may be nil.
func NewPDFExtractor(cfg config.ExtractorConfig, cacheManager *cache.Manager, logger *monitoring.Logger) *PDFExtractor {
	if cfg.PDFDownloadTimeout == 0 {
		cfg.PDFDownloadTimeout = 60 * time.Second
	}
	if cfg.PDFParseTimeout == 0 {
		cfg.PDFParseTimeout = 120 * time.Second
	}
	if cfg.MaxPDFSizeMB == 0 {
		cfg.MaxPDFSizeMB = 50
	}
	if logger == nil {
		logger = monitoring.Nop()
	}
	return &PDFExtractor{
		cfg:        cfg,
		httpClient: &http.Client{},
		cache:      cacheManager,
		logger:     logger,
	}
}

// Extract parses one PDF. Cached content short-circuits the download.
func (x *PDFExtractor) Extract(ctx context.Context, pdfURL, paperID string) (*models.ParsedContent, error) {
	if content, ok := x.cache.GetParsed(ctx, paperID); ok {
		x.cacheHits.Add(1)
		return content, nil
	}

	start := time.Now()
	path, size, err := x.download(ctx, pdfURL, paperID)
	if err != nil {
		x.failures.Add(1)
		return nil, err
	}
	defer os.Remove(path)

	content, err := x.parse(ctx, path, paperID)
	if err != nil {
		x.failures.Add(1)
		return nil, err
	}

	content.Metadata = map[string]any{
		"processing_time_seconds": time.Since(start).Seconds(),
		"processed_at":            time.Now().UTC().Format(time.RFC3339),
		"source_pdf_url":          pdfURL,
		"pdf_bytes":               size,
	}
	x.cache.SetParsed(ctx, content)
	x.extracted.Add(1)
	return content, nil
}

// download streams the PDF to a temp file under the size guards.
func (x *PDFExtractor) download(ctx context.Context, pdfURL, paperID string) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.PDFDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return "", 0, &pipeerrors.PDFError{PaperID: paperID, Stage: "download", Cause: err}
	}
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return "", 0, &pipeerrors.PDFError{PaperID: paperID, Stage: "download", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, &pipeerrors.PDFError{
			PaperID: paperID, Stage: "download",
			Cause: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	skipBytes := int64(x.cfg.SkipPapersLargerThanMB) * 1024 * 1024
	if skipBytes > 0 && resp.ContentLength > skipBytes {
		return "", 0, &pipeerrors.PDFError{
			PaperID: paperID, Stage: "size",
			Cause: fmt.Errorf("pdf is %d bytes, skip threshold is %d", resp.ContentLength, skipBytes),
		}
	}

	f, err := os.CreateTemp("", "scholarpipe-*.pdf")
	if err != nil {
		return "", 0, &pipeerrors.PDFError{PaperID: paperID, Stage: "download", Cause: err}
	}

	maxBytes := int64(x.cfg.MaxPDFSizeMB) * 1024 * 1024
	written, err := io.Copy(f, io.LimitReader(resp.Body, maxBytes+1))
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		os.Remove(f.Name())
		if err == nil {
			err = closeErr
		}
		return "", 0, &pipeerrors.PDFError{PaperID: paperID, Stage: "download", Cause: err}
	}
	if written > maxBytes {
		os.Remove(f.Name())
		return "", 0, &pipeerrors.PDFError{
			PaperID: paperID, Stage: "size",
			Cause: fmt.Errorf("pdf exceeds max size of %d MB", x.cfg.MaxPDFSizeMB),
		}
	}
	return f.Name(), written, nil
}

// parse walks the pages within the parse timeout budget.
func (x *PDFExtractor) parse(ctx context.Context, path, paperID string) (*models.ParsedContent, error) {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.PDFParseTimeout)
	defer cancel()

	type parseResult struct {
		content *models.ParsedContent
		err     error
	}
	done := make(chan parseResult, 1)
	go func() {
		content, err := extractContent(path, paperID)
		done <- parseResult{content, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &pipeerrors.TimeoutError{Timeout: x.cfg.PDFParseTimeout, Cause: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return nil, &pipeerrors.PDFError{PaperID: paperID, Stage: "parse", Cause: res.err}
		}
		return res.content, nil
	}
}

func extractContent(path, paperID string) (*models.ParsedContent, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var text strings.Builder
	totalPages := reader.NumPage()
	pageTexts := make([]string, 0, totalPages)

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		pageTexts = append(pageTexts, pageText)
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}

	content := &models.ParsedContent{
		PaperID:        paperID,
		TextContent:    text.String(),
		Tables:         []models.Table{},
		Equations:      []string{},
		FigureCaptions: []models.FigureCaption{},
	}
	for pageNum, pageText := range pageTexts {
		harvestStructure(content, pageText, pageNum+1)
	}
	return content, nil
}

// harvestStructure pulls equations, figure captions, and table captions
// out of one page's text.
func harvestStructure(content *models.ParsedContent, pageText string, pageNum int) {
	for _, match := range displayEquation.FindAllStringSubmatch(pageText, -1) {
		eq := strings.TrimSpace(match[1])
		if eq == "" {
			eq = strings.TrimSpace(match[2])
		}
		if eq != "" && !containsString(content.Equations, eq) {
			content.Equations = append(content.Equations, eq)
		}
	}

	for _, match := range figureCaption.FindAllStringSubmatch(pageText, -1) {
		content.FigureCaptions = append(content.FigureCaptions, models.FigureCaption{
			FigureID: "figure_" + match[2],
			Caption:  strings.TrimSpace(match[3]),
			Page:     pageNum,
		})
	}

	for _, match := range tableCaption.FindAllStringSubmatch(pageText, -1) {
		content.Tables = append(content.Tables, models.Table{
			Caption:    strings.TrimSpace(match[2]),
			PageNumber: pageNum,
		})
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// HealthCheck always passes for the local extractor; it has no remote
// dependency of its own.
func (x *PDFExtractor) HealthCheck(_ context.Context) bool { return true }

// Stats returns diagnostic counters.
func (x *PDFExtractor) Stats() map[string]any {
	return map[string]any{
		"extracted":  x.extracted.Load(),
		"cache_hits": x.cacheHits.Load(),
		"failures":   x.failures.Load(),
	}
}

var _ Extractor = (*PDFExtractor)(nil)
