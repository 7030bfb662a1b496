package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	rateLimited := fmt.Errorf("search failed: %w", &RateLimitError{RetryAfter: 3 * time.Second})
	assert.True(t, IsRateLimit(rateLimited))
	assert.False(t, IsTimeout(rateLimited))

	timedOut := fmt.Errorf("fetch failed: %w", &TimeoutError{Timeout: time.Second})
	assert.True(t, IsTimeout(timedOut))

	invalid := fmt.Errorf("publish refused: %w", NewValidation("priority", "out of range"))
	assert.True(t, IsValidation(invalid))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "rate limited by upstream (retry after 5s)",
		(&RateLimitError{RetryAfter: 5 * time.Second}).Error())
	assert.Equal(t, "rate limited by upstream", (&RateLimitError{}).Error())

	apiErr := &APIError{Status: 500, Body: "boom"}
	assert.Contains(t, apiErr.Error(), "500")
	assert.Contains(t, apiErr.Error(), "boom")

	pdfErr := &PDFError{PaperID: "2401.00001", Stage: "parse", Cause: fmt.Errorf("bad xref")}
	assert.Contains(t, pdfErr.Error(), "parse")
	assert.Contains(t, pdfErr.Error(), "2401.00001")
}

func TestAPIErrorTruncatesLongBodies(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'x'
	}
	msg := (&APIError{Status: 400, Body: string(body)}).Error()
	assert.Less(t, len(msg), 300)
	assert.Contains(t, msg, "truncated")
}
