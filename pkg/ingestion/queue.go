// Package ingestion defines the enqueue contract between the screening core
// and the full-text ingestion pipeline. The pipeline itself (fetching,
// parsing, indexing) lives elsewhere; only the enqueue side matters here.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source tags why an ingestion job was requested. Observability only; the
// pipeline must not branch on it.
type Source string

const (
	SourceScreeningDecision  Source = "screening_decision"
	SourceConflictResolution Source = "conflict_resolution"
	SourceMissingPDF         Source = "missing_pdf_autoadvance"
)

// Request asks the pipeline to fetch and index one study's document.
type Request struct {
	ProjectWorkID uuid.UUID  `json:"project_work_id"`
	ProjectID     uuid.UUID  `json:"project_id"`
	WorkID        uuid.UUID  `json:"work_id"`
	Source        Source     `json:"source"`
	SourceURL     *string    `json:"source_url,omitempty"`
	PDFUploadedAt *time.Time `json:"pdf_uploaded_at,omitempty"`
}

// DedupKey identifies a (study, document version) pair. Re-uploading a PDF
// changes the key and produces a fresh job; retrying the same version does
// not create duplicates.
func (r Request) DedupKey() string {
	version := int64(0)
	if r.PDFUploadedAt != nil {
		version = r.PDFUploadedAt.UnixNano()
	}
	return fmt.Sprintf("%s:%d", r.WorkID, version)
}

// Queue is the enqueue port. Enqueue returns before the job runs; failures
// are the caller's to log, never to roll back a screening transaction over.
type Queue interface {
	Enqueue(ctx context.Context, req Request) error
}
