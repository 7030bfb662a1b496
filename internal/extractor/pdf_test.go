package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarpipe/scholarpipe/internal/cache"
	"github.com/scholarpipe/scholarpipe/internal/config"
	pipeerrors "github.com/scholarpipe/scholarpipe/internal/errors"
	"github.com/scholarpipe/scholarpipe/internal/models"
)

func TestHarvestStructureEquations(t *testing.T) {
	content := &models.ParsedContent{}
	harvestStructure(content, `Intro text.
$$ E = mc^2 $$
More text.
\begin{equation}
a^2 + b^2 = c^2
\end{equation}`, 1)

	require.Len(t, content.Equations, 2)
	assert.Equal(t, "E = mc^2", content.Equations[0])
	assert.Equal(t, "a^2 + b^2 = c^2", content.Equations[1])
}

func TestHarvestStructureDeduplicatesEquations(t *testing.T) {
	content := &models.ParsedContent{}
	harvestStructure(content, "$$x = y$$ and again $$x = y$$", 1)
	assert.Len(t, content.Equations, 1)
}

func TestHarvestStructureFigureCaptions(t *testing.T) {
	content := &models.ParsedContent{}
	harvestStructure(content, `Figure 1: Model architecture overview.
Fig. 2. Attention heatmaps.
Not a figure line.`, 3)

	require.Len(t, content.FigureCaptions, 2)
	assert.Equal(t, "figure_1", content.FigureCaptions[0].FigureID)
	assert.Equal(t, "Model architecture overview.", content.FigureCaptions[0].Caption)
	assert.Equal(t, 3, content.FigureCaptions[0].Page)
	assert.Equal(t, "figure_2", content.FigureCaptions[1].FigureID)
}

func TestHarvestStructureTableCaptions(t *testing.T) {
	content := &models.ParsedContent{}
	harvestStructure(content, "Table 2: Ablation results on the validation split.", 5)

	require.Len(t, content.Tables, 1)
	assert.Equal(t, "Ablation results on the validation split.", content.Tables[0].Caption)
	assert.Equal(t, 5, content.Tables[0].PageNumber)
}

func TestExtractCacheHitSkipsDownload(t *testing.T) {
	mgr := cache.NewManager(cache.NewMemoryBackend(), cache.DefaultTTLs(), nil)
	mgr.SetParsed(context.Background(), &models.ParsedContent{
		PaperID:     "2401.00001",
		TextContent: "cached body",
	})

	x := NewPDFExtractor(config.ExtractorConfig{}, mgr, nil)

	// The URL is unreachable on purpose; a cache hit never dials.
	content, err := x.Extract(context.Background(), "http://127.0.0.1:1/nope.pdf", "2401.00001")
	require.NoError(t, err)
	assert.Equal(t, "cached body", content.TextContent)
}

func TestExtractDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	x := NewPDFExtractor(config.ExtractorConfig{}, nil, nil)
	_, err := x.Extract(context.Background(), srv.URL+"/gone.pdf", "2401.00001")
	require.Error(t, err)

	var pdfErr *pipeerrors.PDFError
	require.ErrorAs(t, err, &pdfErr)
	assert.Equal(t, "download", pdfErr.Stage)
	assert.Equal(t, "2401.00001", pdfErr.PaperID)
}

func TestExtractSkipsOversizedByContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "209715200") // 200 MB
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	x := NewPDFExtractor(config.ExtractorConfig{SkipPapersLargerThanMB: 100}, nil, nil)
	_, err := x.Extract(context.Background(), srv.URL+"/huge.pdf", "2401.00001")
	require.Error(t, err)

	var pdfErr *pipeerrors.PDFError
	require.ErrorAs(t, err, &pdfErr)
	assert.Equal(t, "size", pdfErr.Stage)
}

func TestExtractEnforcesMaxSizeWhileStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Length up front; the body itself exceeds the cap.
		w.(http.Flusher).Flush()
		big := make([]byte, 3*1024*1024)
		_, _ = w.Write(big)
	}))
	defer srv.Close()

	x := NewPDFExtractor(config.ExtractorConfig{MaxPDFSizeMB: 2}, nil, nil)
	_, err := x.Extract(context.Background(), srv.URL+"/sneaky.pdf", "2401.00001")
	require.Error(t, err)

	var pdfErr *pipeerrors.PDFError
	require.ErrorAs(t, err, &pdfErr)
	assert.Equal(t, "size", pdfErr.Stage)
}

func TestExtractUnparseableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a pdf"))
	}))
	defer srv.Close()

	x := NewPDFExtractor(config.ExtractorConfig{}, nil, nil)
	_, err := x.Extract(context.Background(), srv.URL+"/fake.pdf", "2401.00001")
	require.Error(t, err)

	var pdfErr *pipeerrors.PDFError
	require.ErrorAs(t, err, &pdfErr)
	assert.Equal(t, "parse", pdfErr.Stage)

	stats := x.Stats()
	assert.Equal(t, int64(1), stats["failures"])
}
