package pipeline

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sorapixel/internal/domain"
	"sorapixel/internal/providers/genai"
	"sorapixel/internal/usage"
)

// packConcurrency bounds concurrent generator calls inside one request.
const packConcurrency = 3

// PackRequest asks for the three marketplace shots of one product.
type PackRequest struct {
	AccountID     string
	Source        Source
	StyleID       string
	Scene         string
	AspectRatioID string
	Logo          []byte
	Metadata      map[string]any

	// Refine rewrites a custom Scene through the text model before use.
	Refine bool
}

func (r PackRequest) refines() bool {
	return r.Refine && strings.TrimSpace(r.Scene) != ""
}

// StudioRequest asks for a single studio image.
type StudioRequest = PackRequest

// scene resolves a preset style or free-form scene text.
func scene(styleID, custom string) (string, error) {
	if s := strings.TrimSpace(custom); s != "" {
		return s, nil
	}
	if strings.TrimSpace(styleID) == "" {
		return "", domain.Invalid("style_id", "style or scene is required")
	}
	style, ok := domain.StyleByID(styleID)
	if !ok {
		return "", domain.Invalid("style_id", "unknown style")
	}
	return style.Prompt, nil
}

type taskOutcome struct {
	image   *Image
	failure *Failure
	usage   domain.TokenUsage
}

// Pack generates hero, angle and close-up shots concurrently. Each shot
// fails independently; the run succeeds when at least one image came back.
func (o *Orchestrator) Pack(ctx context.Context, req PackRequest) (res *Result, err error) {
	start := time.Now()
	var partial bool
	defer func() { o.observe("pack", start, &err, &partial) }()
	ctx, stop := o.bound(ctx)
	defer stop()

	if err := requireAccount(req.AccountID); err != nil {
		return nil, err
	}
	if err := requireSource("image", req.Source); err != nil {
		return nil, err
	}
	sceneText, err := scene(req.StyleID, req.Scene)
	if err != nil {
		return nil, err
	}
	ratio, _ := domain.AspectRatioByID(req.AspectRatioID)

	deduction, err := o.ledger.CheckAndDeduct(ctx, req.AccountID, domain.OpPack, len(packShots))
	if err != nil {
		return nil, err
	}

	sc, refineUsage := o.resolveScene(ctx, req, sceneText)

	// Each goroutine owns one slot; errors stay inside the outcome.
	outcomes := make([]taskOutcome, len(packShots))
	var g errgroup.Group
	g.SetLimit(packConcurrency)
	for i, s := range packShots {
		g.Go(func() error {
			outcomes[i] = o.runShot(ctx, req, s, sc, ratio)
			return nil
		})
	}
	_ = g.Wait()

	res = collect(outcomes)
	res.Charge, res.Balance = deduction.Charge, deduction.Balance
	res.Usage = res.Usage.Add(refineUsage)
	if req.refines() {
		res.Scene = sc.Scene
	}
	partial = res.Success && len(res.Failures) > 0

	o.logger.Info().
		Str("account_id", req.AccountID).
		Int("images", len(res.Images)).
		Int("failed", len(res.Failures)).
		Msg("pipeline: pack complete")
	if !res.Success {
		return res, ErrAllFailed
	}
	return res, nil
}

func (o *Orchestrator) runShot(ctx context.Context, req PackRequest, s shot, sc RefinedScene, ratio domain.AspectRatio) taskOutcome {
	sctx, cancel := o.subtask(ctx)
	defer cancel()

	meta := mergeMeta(req.Metadata, "style_id", req.StyleID, "aspect_ratio", ratio.ID, "shot", s.label)
	raw, err := o.gen.Generate(sctx, req.Source.input(), packPrompt(s.key, sc, ratio))
	if err != nil {
		msg := failureMessage(err)
		o.logger.Warn().Err(err).Str("shot", s.label).Msg("pipeline: pack shot failed")
		o.record(req.AccountID, s.kind, domain.JobStatusFailed, domain.TokenUsage{}, "", mergeMeta(meta, "error", msg))
		return taskOutcome{failure: &Failure{Label: s.label, Message: s.key + " failed: " + msg}}
	}

	img := o.finish(sctx, s.label, raw, finishOptions{ratio: &ratio, logo: req.Logo, preview: true})
	o.record(req.AccountID, s.kind, domain.JobStatusCompleted, raw.Usage, raw.Model, meta,
		usage.Artifact{Label: s.label, Data: img.Data})
	return taskOutcome{image: &img, usage: raw.Usage}
}

// collect keeps task order and sums provider usage.
func collect(outcomes []taskOutcome) *Result {
	res := &Result{Images: []Image{}}
	for _, out := range outcomes {
		res.Usage = res.Usage.Add(out.usage)
		if out.image != nil {
			res.Images = append(res.Images, *out.image)
		}
		if out.failure != nil {
			res.Failures = append(res.Failures, *out.failure)
		}
	}
	res.Success = len(res.Images) > 0
	return res
}

// Studio generates one image for a style or custom scene.
func (o *Orchestrator) Studio(ctx context.Context, req StudioRequest) (res *Result, err error) {
	start := time.Now()
	defer func() { o.observe("studio", start, &err, nil) }()
	ctx, stop := o.bound(ctx)
	defer stop()

	if err := requireAccount(req.AccountID); err != nil {
		return nil, err
	}
	if err := requireSource("image", req.Source); err != nil {
		return nil, err
	}
	sceneText, err := scene(req.StyleID, req.Scene)
	if err != nil {
		return nil, err
	}
	ratio, _ := domain.AspectRatioByID(req.AspectRatioID)

	deduction, err := o.ledger.CheckAndDeduct(ctx, req.AccountID, domain.OpStudio, 1)
	if err != nil {
		return nil, err
	}

	sc, refineUsage := o.resolveScene(ctx, req, sceneText)

	sctx, cancel := o.subtask(ctx)
	defer cancel()
	meta := mergeMeta(req.Metadata, "style_id", req.StyleID, "aspect_ratio", ratio.ID)
	raw, err := o.gen.Generate(sctx, req.Source.input(), scenePrompt(sc.Scene, sc.Isolate, ratio))
	if err != nil {
		o.record(req.AccountID, domain.JobStudio, domain.JobStatusFailed, domain.TokenUsage{}, "", mergeMeta(meta, "error", genai.UserMessage(err)))
		return nil, generationFailed(err)
	}

	img := o.finish(sctx, "Studio", raw, finishOptions{ratio: &ratio, logo: req.Logo, preview: true})
	o.record(req.AccountID, domain.JobStudio, domain.JobStatusCompleted, raw.Usage, raw.Model, meta,
		usage.Artifact{Label: "Studio", Data: img.Data})
	res = &Result{
		Success: true,
		Images:  []Image{img},
		Charge:  deduction.Charge,
		Balance: deduction.Balance,
		Usage:   raw.Usage.Add(refineUsage),
	}
	if req.refines() {
		res.Scene = sc.Scene
	}
	return res, nil
}
