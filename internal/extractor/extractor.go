// Package extractor turns a PDF URL into normalized ParsedContent.
//
// DESIGN: The coordinator treats the Extractor as an opaque collaborator;
// layout dispatch lives behind this interface, never in the coordinator.
// The shipped implementation downloads under size and time guards, pulls
// page text with ledongthuc/pdf, and harvests equations and captions from
// the text stream. Parsed content is cached under the paper id.
package extractor

import (
	"context"

	"github.com/scholarpipe/scholarpipe/internal/models"
)

// Extractor is the contract the coordinator invokes on a parse request.
type Extractor interface {
	// Extract parses the PDF at pdfURL into normalized content.
	Extract(ctx context.Context, pdfURL, paperID string) (*models.ParsedContent, error)

	// HealthCheck reports whether the extractor is operational.
	HealthCheck(ctx context.Context) bool
}
