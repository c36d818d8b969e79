// Package usage persists generation audit records after the response has
// been served. Recording is best effort: failures are logged and counted,
// never surfaced to the caller and never reverse a ledger deduction.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sorapixel/internal/domain"
	"sorapixel/internal/infra"
	"sorapixel/internal/storage"
)

// Uploader stores artifact bytes for an account.
type Uploader interface {
	Upload(ctx context.Context, accountID string, data []byte) (storage.Stored, error)
}

// Artifact is one clean rendition to persist alongside a job.
type Artifact struct {
	Label string
	Data  []byte
}

// Entry describes one generation step and its outputs.
type Entry struct {
	AccountID string
	Kind      domain.JobKind
	Status    domain.JobStatus
	Usage     domain.TokenUsage
	Model     string
	Metadata  map[string]any
	Artifacts []Artifact
}

type Options struct {
	Timeout time.Duration
	Metrics *infra.Metrics
	Logger  *infra.Logger
}

// Recorder writes entries on detached goroutines.
type Recorder struct {
	store    domain.UsageStore
	uploader Uploader
	timeout  time.Duration
	metrics  *infra.Metrics
	logger   zerolog.Logger
	newID    func() string
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewRecorder(store domain.UsageStore, uploader Uploader, opts Options) *Recorder {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Recorder{
		store:    store,
		uploader: uploader,
		timeout:  timeout,
		metrics:  opts.Metrics,
		logger:   logger,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Record schedules e for persistence and returns immediately. The write runs
// under its own context so a finished request does not cancel it.
func (r *Recorder) Record(e Entry) {
	if r == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.metrics.UsageRecord("job", "panic")
				r.logger.Error().Interface("panic", p).Str("account_id", e.AccountID).Msg("usage: recorder panic")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if _, err := r.RecordNow(ctx, e); err != nil {
			r.logger.Warn().Err(err).
				Str("account_id", e.AccountID).
				Str("kind", string(e.Kind)).
				Msg("usage: record failed")
		}
	}()
}

// RecordNow persists the job, then uploads and records each artifact. A job
// insert failure stops the run since artifacts must reference it; artifact
// failures are skipped individually. Returns the job id.
func (r *Recorder) RecordNow(ctx context.Context, e Entry) (string, error) {
	job := &domain.GenerationJob{
		ID:        r.newID(),
		AccountID: e.AccountID,
		Kind:      e.Kind,
		Status:    e.Status,
		Usage:     e.Usage,
		ModelUsed: e.Model,
		Metadata:  e.Metadata,
		CreatedAt: r.now(),
	}
	if job.Status == "" {
		job.Status = domain.JobStatusCompleted
	}
	if err := r.store.InsertJob(ctx, job); err != nil {
		r.metrics.UsageRecord("job", "error")
		return "", fmt.Errorf("usage: record job: %w", err)
	}
	r.metrics.UsageRecord("job", "ok")

	var failed int
	for _, a := range e.Artifacts {
		if err := r.recordArtifact(ctx, job, a); err != nil {
			failed++
			r.logger.Warn().Err(err).Str("job_id", job.ID).Str("label", a.Label).Msg("usage: artifact skipped")
		}
	}
	if failed > 0 {
		return job.ID, fmt.Errorf("usage: %d of %d artifacts not stored: %w", failed, len(e.Artifacts), domain.ErrStorage)
	}
	r.logger.Debug().Str("job_id", job.ID).Int("artifacts", len(e.Artifacts)).Msg("usage: recorded")
	return job.ID, nil
}

func (r *Recorder) recordArtifact(ctx context.Context, job *domain.GenerationJob, a Artifact) error {
	if r.uploader == nil {
		return fmt.Errorf("no uploader configured: %w", domain.ErrStorage)
	}
	stored, err := r.uploader.Upload(ctx, job.AccountID, a.Data)
	if err != nil {
		r.metrics.UsageRecord("upload", "error")
		return err
	}
	r.metrics.UsageRecord("upload", "ok")
	err = r.store.InsertArtifact(ctx, &domain.ArtifactImage{
		ID:            r.newID(),
		GenerationID:  job.ID,
		AccountID:     job.AccountID,
		Label:         a.Label,
		StoragePath:   stored.Path,
		FileSizeBytes: stored.Size,
		CreatedAt:     r.now(),
	})
	if err != nil {
		r.metrics.UsageRecord("artifact", "error")
		return fmt.Errorf("record artifact: %w", err)
	}
	r.metrics.UsageRecord("artifact", "ok")
	return nil
}

// Wait blocks until scheduled records finish or ctx ends.
func (r *Recorder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
