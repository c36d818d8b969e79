package domain

import "time"

// JobKind enumerates generation steps recorded for audit.
type JobKind string

const (
	JobStudioHero    JobKind = "studio_hero"
	JobStudioAngle   JobKind = "studio_angle"
	JobStudioCloseup JobKind = "studio_closeup"
	JobStudio        JobKind = "studio"
	JobRecolor       JobKind = "recolor"
	JobHDUpscale     JobKind = "hd_upscale"
	JobListing       JobKind = "listing"
	JobBatchListing  JobKind = "batch_listing"
	JobInfo          JobKind = "info"
	JobTryOn         JobKind = "tryon"
	JobSceneRefine   JobKind = "scene_refine"
)

// JobStatus is the outcome of the recorded step.
type JobStatus string

const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// TokenUsage is generator-side usage, kept for cost accounting only.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Add sums two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{Input: u.Input + o.Input, Output: u.Output + o.Output, Total: u.Total + o.Total}
}

// GenerationJob is an immutable audit record of one billed generation step.
type GenerationJob struct {
	ID        string
	AccountID string
	Kind      JobKind
	Status    JobStatus
	Usage     TokenUsage
	ModelUsed string
	Metadata  map[string]any
	CreatedAt time.Time
}

// ArtifactImage is a stored output tied to a GenerationJob.
type ArtifactImage struct {
	ID            string
	GenerationID  string
	AccountID     string
	Label         string
	StoragePath   string
	FileSizeBytes int64
	CreatedAt     time.Time
}
