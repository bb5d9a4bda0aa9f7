package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/service"
)

const (
	// MaxRetries is the maximum number of attempts for a job
	MaxRetries = 3
	// DefaultBatchSize is how many jobs one pass claims.
	DefaultBatchSize = 20
)

// IngestionJobRepository defines the interface for ingestion job persistence
type IngestionJobRepository interface {
	ClaimPending(ctx context.Context, limit int) ([]*domain.IngestionJob, error)
	UpdateStatus(ctx context.Context, id string, status domain.IngestionJobStatus, errMsg string) error
	IncrementRetries(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string, errMsg string) error
}

// Ingester is the subset of the ingestion service the worker drives.
type Ingester interface {
	IngestByID(ctx context.Context, documentID string, force bool) (*service.IngestResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// IngestionWorker applies queued ingest and delete jobs to the similarity index.
type IngestionWorker struct {
	repo      IngestionJobRepository
	ingester  Ingester
	batchSize int
}

// NewIngestionWorker creates a new IngestionWorker instance
func NewIngestionWorker(repo IngestionJobRepository, ingester Ingester) *IngestionWorker {
	return &IngestionWorker{
		repo:      repo,
		ingester:  ingester,
		batchSize: DefaultBatchSize,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestionWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d ingestion jobs", len(jobs))
	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("Error processing job %s: %v", job.ID, err)
		}
	}
	return nil
}

func (w *IngestionWorker) processJob(ctx context.Context, job *domain.IngestionJob) error {
	var err error
	switch job.Action {
	case domain.IngestionActionIngest:
		var result *service.IngestResult
		result, err = w.ingester.IngestByID(ctx, job.DocumentID, false)
		if err == nil {
			log.Printf("Job %s ingested document %s (chunks=%d skipped=%t)", job.ID, job.DocumentID, result.Chunks, result.Skipped)
		}
	case domain.IngestionActionDelete:
		err = w.ingester.DeleteDocument(ctx, job.DocumentID)
		if err == nil {
			log.Printf("Job %s removed chunks of document %s", job.ID, job.DocumentID)
		}
	default:
		err = fmt.Errorf("unknown action %q", job.Action)
	}

	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestionJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}
	return nil
}

// handleJobFailure requeues the job until it has used MaxRetries attempts.
// A missing document is permanent and fails immediately.
func (w *IngestionWorker) handleJobFailure(ctx context.Context, job *domain.IngestionJob, jobErr error) error {
	log.Printf("Job %s failed: %v", job.ID, jobErr)

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	attempts := int(job.Retries) + 1
	if attempts >= MaxRetries || isPermanent(jobErr) {
		errMsg := fmt.Sprintf("giving up after %d attempt(s): %v", attempts, jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestionJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("Job %s will be retried (attempt %d/%d)", job.ID, attempts, MaxRetries)
	if err := w.repo.Requeue(ctx, job.ID, fmt.Sprintf("retry %d: %v", attempts, jobErr)); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

func isPermanent(err error) bool {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == domain.ErrCodeNotFound || de.Code == domain.ErrCodeValidation
}
