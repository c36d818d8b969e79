package usage

import (
	"context"
	"fmt"
	"sync"

	"sorapixel/internal/domain"
)

// MemoryStore keeps audit records in process. Used with the memory ledger
// backend and in tests.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]domain.GenerationJob
	artifacts []domain.ArtifactImage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]domain.GenerationJob)}
}

func (s *MemoryStore) InsertJob(_ context.Context, job *domain.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("generation job %s already exists", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) InsertArtifact(_ context.Context, artifact *domain.ArtifactImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[artifact.GenerationID]; !ok {
		return fmt.Errorf("generation job %s: %w", artifact.GenerationID, domain.ErrNotFound)
	}
	s.artifacts = append(s.artifacts, *artifact)
	return nil
}

// Jobs returns a copy of stored jobs.
func (s *MemoryStore) Jobs() []domain.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.GenerationJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Artifacts returns a copy of stored artifacts.
func (s *MemoryStore) Artifacts() []domain.ArtifactImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ArtifactImage(nil), s.artifacts...)
}

var _ domain.UsageStore = (*MemoryStore)(nil)
