package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sorapixel/internal/domain"
	"sorapixel/internal/infra"
	"sorapixel/internal/sqlinline"
)

// UsageRepositoryPG appends generation jobs and artifact rows.
type UsageRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewUsageRepository(sql infra.SQLExecutor) *UsageRepositoryPG {
	return &UsageRepositoryPG{sql: sql}
}

func (r *UsageRepositoryPG) InsertJob(ctx context.Context, job *domain.GenerationJob) error {
	meta := job.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertGenerationJob,
		job.ID,
		job.AccountID,
		string(job.Kind),
		string(job.Status),
		job.Usage.Input,
		job.Usage.Output,
		job.Usage.Total,
		job.ModelUsed,
		metaJSON,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation job: %w", err)
	}
	return nil
}

func (r *UsageRepositoryPG) InsertArtifact(ctx context.Context, artifact *domain.ArtifactImage) error {
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertArtifactImage,
		artifact.ID,
		artifact.GenerationID,
		artifact.AccountID,
		artifact.Label,
		artifact.StoragePath,
		artifact.FileSizeBytes,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert artifact image: %w", err)
	}
	return nil
}

var (
	_ domain.AccountStore = (*AccountRepositoryPG)(nil)
	_ domain.UsageStore   = (*UsageRepositoryPG)(nil)
)
