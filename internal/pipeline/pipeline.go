// Package pipeline composes the ledger, the generator, the fit engine and the
// compositor into the fixed set of paid operations. Every pipeline deducts
// its full cost before the first generator call and never refunds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sorapixel/internal/domain"
	"sorapixel/internal/fit"
	"sorapixel/internal/infra"
	"sorapixel/internal/ledger"
	"sorapixel/internal/providers/genai"
	"sorapixel/internal/usage"
)

// Ledger debits an account before generation.
type Ledger interface {
	CheckAndDeduct(ctx context.Context, accountID string, kind domain.OperationKind, units int) (ledger.Deduction, error)
}

// Generator is the image and text generation capability.
type Generator interface {
	Generate(ctx context.Context, img genai.ImageInput, prompt string) (*genai.ImageResult, error)
	GenerateMultiRef(ctx context.Context, refs []genai.ImageInput, prompt string) (*genai.ImageResult, error)
	GenerateText(ctx context.Context, refs []genai.ImageInput, prompt string) (*genai.TextResult, error)
}

// Fitter resizes raw output to an exact frame.
type Fitter interface {
	Fit(ctx context.Context, src image.Image, t fit.Target) (fit.Result, error)
}

// Compositor draws brand overlays.
type Compositor interface {
	OverlayLogo(base, logo image.Image) *image.NRGBA
	Watermark(base image.Image) (*image.NRGBA, error)
}

// Recorder persists usage without blocking the caller.
type Recorder interface {
	Record(e usage.Entry)
}

// Source is a caller-supplied image.
type Source struct {
	Data     []byte
	MimeType string
}

func (s Source) input() genai.ImageInput {
	return genai.ImageInput{Data: s.Data, MimeType: s.MimeType}
}

// Image is one delivered rendition pair. Data is the clean artifact; Preview
// carries the watermark and is empty when no preview is produced.
type Image struct {
	Label    string   `json:"label"`
	Data     []byte   `json:"base64"`
	Preview  []byte   `json:"watermarked_base64,omitempty"`
	MimeType string   `json:"mime_type"`
	Text     string   `json:"text,omitempty"`
	FitMode  fit.Mode `json:"fit_mode,omitempty"`
	Width    int      `json:"width,omitempty"`
	Height   int      `json:"height,omitempty"`
}

// Failure labels a sub-task that produced nothing.
type Failure struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// Result is the outcome of an image pipeline.
type Result struct {
	Success  bool              `json:"success"`
	Images   []Image           `json:"images"`
	Failures []Failure         `json:"failures,omitempty"`
	Charge   domain.Charge     `json:"-"`
	Balance  domain.Balance    `json:"balance"`
	Usage    domain.TokenUsage `json:"usage"`

	// Scene is the refined scene brief when refinement was requested.
	Scene string `json:"scene,omitempty"`
}

type Options struct {
	SubtaskTimeout time.Duration
	// RequestTimeout bounds a whole pipeline run, fan-out included. Keep it
	// below the HTTP write timeout so finished images still reach the caller.
	RequestTimeout time.Duration
	Metrics        *infra.Metrics
	Logger         *infra.Logger
}

// Orchestrator runs the pipelines. All collaborators are built once at
// startup and shared across requests.
type Orchestrator struct {
	ledger     Ledger
	gen        Generator
	fitter     Fitter
	compositor Compositor
	recorder   Recorder
	timeout    time.Duration
	deadline   time.Duration
	metrics    *infra.Metrics
	logger     zerolog.Logger
}

func New(l Ledger, gen Generator, fitter Fitter, comp Compositor, rec Recorder, opts Options) *Orchestrator {
	timeout := opts.SubtaskTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	deadline := opts.RequestTimeout
	if deadline <= 0 {
		deadline = 150 * time.Second
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Orchestrator{
		ledger:     l,
		gen:        gen,
		fitter:     fitter,
		compositor: comp,
		recorder:   rec,
		timeout:    timeout,
		deadline:   deadline,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// ErrAllFailed is returned when a partial-success pipeline produced nothing.
var ErrAllFailed = fmt.Errorf("all generations failed: %w", domain.ErrGenerationFailure)

func requireAccount(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

func requireSource(field string, s Source) error {
	if len(s.Data) == 0 {
		return domain.Invalid(field, "image is required")
	}
	if genai.DetectImageMIME(s.Data, s.MimeType) == "" {
		return domain.Invalid(field, "not a supported image")
	}
	return nil
}

// observe records pipeline duration and outcome.
func (o *Orchestrator) observe(name string, start time.Time, err *error, partial *bool) {
	outcome := "ok"
	switch {
	case *err != nil && errors.Is(*err, domain.ErrInsufficientBalance):
		outcome = "insufficient"
	case *err != nil && (errors.Is(*err, domain.ErrValidation) || errors.Is(*err, domain.ErrUnauthorized)):
		outcome = "rejected"
	case *err != nil:
		outcome = "failed"
	case partial != nil && *partial:
		outcome = "partial"
	}
	o.metrics.PipelineRun(name, outcome, time.Since(start).Seconds())
}

// bound caps one pipeline run. Sub-tasks still queued when it expires fail
// as timed out and the images finished so far are returned.
func (o *Orchestrator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.deadline)
}

// subtask bounds a single generator call.
func (o *Orchestrator) subtask(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.timeout)
}

// finish post-processes raw generator output into clean and preview
// renditions. Any post-processing failure degrades to the best image
// available so far instead of failing the request.
type finishOptions struct {
	ratio        *domain.AspectRatio
	forceContain bool
	logo         []byte
	preview      bool
}

func (o *Orchestrator) finish(ctx context.Context, label string, raw *genai.ImageResult, opts finishOptions) Image {
	out := Image{Label: label, Data: raw.Data, MimeType: raw.MimeType, Text: raw.Text}
	log := o.logger.With().Str("label", label).Logger()

	img, err := fit.Decode(raw.Data)
	if err != nil {
		log.Warn().Err(err).Msg("pipeline: post-process skipped, returning raw output")
		if opts.preview {
			out.Preview = raw.Data
		}
		return out
	}

	if opts.ratio != nil && o.fitter != nil {
		res, err := o.fitter.Fit(ctx, img, fit.Target{
			Width:        opts.ratio.Width,
			Height:       opts.ratio.Height,
			Circular:     opts.ratio.Circular,
			ForceContain: opts.forceContain,
		})
		if err != nil {
			log.Warn().Err(err).Msg("pipeline: fit failed, keeping generated frame")
		} else {
			img = res.Image
			out.FitMode = res.Mode
		}
	}

	if len(opts.logo) > 0 && o.compositor != nil {
		if logo, err := fit.Decode(opts.logo); err != nil {
			log.Warn().Err(err).Msg("pipeline: logo unreadable, skipping overlay")
		} else {
			img = o.compositor.OverlayLogo(img, logo)
		}
	}

	if clean, err := fit.EncodePNG(img); err != nil {
		log.Warn().Err(err).Msg("pipeline: encode failed, returning raw output")
	} else {
		out.Data, out.MimeType = clean, "image/png"
	}
	b := img.Bounds()
	out.Width, out.Height = b.Dx(), b.Dy()

	if opts.preview {
		out.Preview = out.Data
		if o.compositor != nil {
			if marked, err := o.compositor.Watermark(img); err != nil {
				log.Warn().Err(err).Msg("pipeline: watermark failed, preview is unmarked")
			} else if enc, err := fit.EncodePNG(marked); err == nil {
				out.Preview = enc
			}
		}
	}
	return out
}

// record schedules an audit entry for one generation step.
func (o *Orchestrator) record(accountID string, kind domain.JobKind, status domain.JobStatus, u domain.TokenUsage, model string, meta map[string]any, arts ...usage.Artifact) {
	if o.recorder == nil {
		return
	}
	o.recorder.Record(usage.Entry{
		AccountID: accountID,
		Kind:      kind,
		Status:    status,
		Usage:     u,
		Model:     model,
		Metadata:  meta,
		Artifacts: arts,
	})
}

func mergeMeta(base map[string]any, kv ...any) map[string]any {
	out := make(map[string]any, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out[k] = kv[i+1]
		}
	}
	return out
}

// failureMessage is the user-facing text of a sub-task error.
func failureMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "generation timed out"
	}
	return genai.UserMessage(err)
}

// generationFailed wraps err so it always matches domain.ErrGenerationFailure.
func generationFailed(err error) error {
	if errors.Is(err, domain.ErrGenerationFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrGenerationFailure, err)
}

func resolveRatio(id string) *domain.AspectRatio {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	r, _ := domain.AspectRatioByID(id)
	return &r
}
