package models

import (
	"time"

	"github.com/google/uuid"
)

// IngestionStatus represents the full-text ingestion state of a study.
// These values must match the database enum ingestion_status.
type IngestionStatus string

const (
	// IngestionPending indicates ingestion has been requested but not started.
	IngestionPending IngestionStatus = "pending"

	// IngestionProcessing indicates the ingestion pipeline is working on the document.
	IngestionProcessing IngestionStatus = "processing"

	// IngestionCompleted indicates the document was fetched and indexed.
	IngestionCompleted IngestionStatus = "completed"

	// IngestionFailed indicates the pipeline gave up on the document.
	IngestionFailed IngestionStatus = "failed"

	// IngestionSkipped indicates no document or URL was available to ingest.
	IngestionSkipped IngestionStatus = "skipped"
)

// ProjectWork is a study under review within a project. WorkID points at the
// bibliographic record shared across projects; screening state is per project.
type ProjectWork struct {
	ID            uuid.UUID        `json:"id"`
	ProjectID     uuid.UUID        `json:"project_id"`
	WorkID        uuid.UUID        `json:"work_id"`
	Phase         Phase            `json:"phase"`
	Status        WorkStatus       `json:"status"`
	FinalDecision *Decision        `json:"final_decision,omitempty"`
	PDFAvailable  bool             `json:"pdf_available"`
	PDFUploadedAt *time.Time       `json:"pdf_uploaded_at,omitempty"`
	SourceURL     *string          `json:"source_url,omitempty"`
	Ingestion     *IngestionStatus `json:"ingestion_status,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// HasDocumentSource returns true if there is anything the ingestion pipeline
// could fetch: an uploaded PDF or a resolvable source URL.
func (w *ProjectWork) HasDocumentSource() bool {
	return w.PDFAvailable || (w.SourceURL != nil && *w.SourceURL != "")
}

// IngestionInFlight returns true if ingestion is already underway or done,
// in which case a new enqueue would be redundant.
func (w *ProjectWork) IngestionInFlight() bool {
	if w.Ingestion == nil {
		return false
	}
	return *w.Ingestion == IngestionProcessing || *w.Ingestion == IngestionCompleted
}
