package domain

import (
	"fmt"
	"time"
)

// IngestionJobStatus represents the status of an ingestion job
type IngestionJobStatus string

const (
	IngestionJobStatusPending    IngestionJobStatus = "pending"
	IngestionJobStatusProcessing IngestionJobStatus = "processing"
	IngestionJobStatusCompleted  IngestionJobStatus = "completed"
	IngestionJobStatusFailed     IngestionJobStatus = "failed"
)

// IngestionAction is what the job does to a document's chunk set.
type IngestionAction string

const (
	IngestionActionIngest IngestionAction = "ingest"
	IngestionActionDelete IngestionAction = "delete"
)

// IngestionJob is queued by the document store when a document is
// published, edited or deleted.
type IngestionJob struct {
	ID          string
	DocumentID  string
	Action      IngestionAction
	Status      IngestionJobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ValidateIngestionJob validates an IngestionJob instance
func ValidateIngestionJob(j *IngestionJob) error {
	if j == nil {
		return fmt.Errorf("ingestion job cannot be nil")
	}
	if j.ID == "" {
		return fmt.Errorf("ingestion job ID is required")
	}
	if j.DocumentID == "" {
		return fmt.Errorf("ingestion job DocumentID is required")
	}
	if j.Action != IngestionActionIngest && j.Action != IngestionActionDelete {
		return fmt.Errorf("ingestion job Action is invalid: %s", j.Action)
	}
	if !isValidIngestionJobStatus(j.Status) {
		return fmt.Errorf("ingestion job Status is invalid: %s", j.Status)
	}
	if j.Retries < 0 {
		return fmt.Errorf("ingestion job Retries cannot be negative")
	}
	return nil
}

func isValidIngestionJobStatus(s IngestionJobStatus) bool {
	switch s {
	case IngestionJobStatusPending, IngestionJobStatusProcessing,
		IngestionJobStatusCompleted, IngestionJobStatusFailed:
		return true
	}
	return false
}
