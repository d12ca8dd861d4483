// Package export renders concern reports and prints them to PDF with
// headless Chrome.
package export

import (
	"errors"
	"time"
)

// Request contains parameters for a report export.
type Request struct {
	ConcernID      string
	IncludeReviews bool
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing signals that no Chromium binary is installed.
var ErrPDFDependencyMissing = errors.New("pdf export dependency missing")

// ConcernInfo is the report view of a concern. Submitter is already the
// display form: callers substitute a placeholder for anonymous concerns.
type ConcernInfo struct {
	ID         string
	Title      string
	Body       string
	Category   string
	Branch     string
	Status     string
	Submitter  string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// ReviewInfo holds one review line for the report.
type ReviewInfo struct {
	Reviewer  string
	Rating    int
	Comment   string
	IsSystem  bool
	CreatedAt time.Time
}
