// Package archive persists pipeline run details asynchronously. The HTTP
// handler records the exchange itself synchronously and queues an archive_run
// job; this worker expands the run into per-stage audit rows the analytics
// surface reads.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tripdesk/replyd/internal/pipeline"
	"github.com/tripdesk/replyd/internal/storage"
)

// JobType is the queue type this worker claims.
const JobType = "archive_run"

// JobStore abstracts the job queue and audit writes.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	SaveStageAudit(a storage.StageAudit) error
}

// Payload is the archive_run job payload.
type Payload struct {
	ExchangeID string       `json:"exchange_id"`
	Run        pipeline.Run `json:"run"`
}

// Worker polls the job queue and writes stage audits.
type Worker struct {
	store  JobStore
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("archive worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single archive_run job. Returns true if a
// job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(job); err != nil {
		w.logger.Warn("archive job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.ExchangeID == "" {
		return fmt.Errorf("payload missing exchange_id")
	}

	for i, res := range payload.Run.StageResults {
		issues := "[]"
		if len(res.Issues) > 0 {
			b, err := json.Marshal(res.Issues)
			if err != nil {
				return fmt.Errorf("marshaling issues for stage %s: %w", res.Stage, err)
			}
			issues = string(b)
		}

		audit := storage.StageAudit{
			ID:         uuid.New().String(),
			ExchangeID: payload.ExchangeID,
			Seq:        i,
			Stage:      res.Stage,
			Confidence: res.Confidence,
			DurationMs: res.DurationMs,
			Issues:     issues,
			CreatedAt:  res.ProducedAt,
		}
		if err := w.store.SaveStageAudit(audit); err != nil {
			return fmt.Errorf("saving audit for stage %s: %w", res.Stage, err)
		}
	}
	return nil
}
