package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sorapixel/internal/domain"
	"sorapixel/internal/providers/genai"
	"sorapixel/internal/usage"
)

const (
	// MaxRecolorColors caps one recolor-all request.
	MaxRecolorColors   = 6
	recolorConcurrency = 3
)

// RecolorRequest recolors the metal of one jewelry photo into one or more
// target colors.
type RecolorRequest struct {
	AccountID     string
	Source        Source
	Colors        []string
	AspectRatioID string
	Metadata      map[string]any
}

func normalizeColors(in []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, c := range in {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	switch {
	case len(out) == 0:
		return nil, domain.Invalid("colors", "at least one target color is required")
	case len(out) > MaxRecolorColors:
		return nil, domain.Invalid("colors", fmt.Sprintf("at most %d colors per request", MaxRecolorColors))
	}
	return out, nil
}

// Recolor runs the two-stage recolor per color. A single color is charged as
// recolor_single and any stage failure fails the request. Several colors are
// charged once as recolor_all; colors fail independently but each color
// needs both stages to succeed.
func (o *Orchestrator) Recolor(ctx context.Context, req RecolorRequest) (res *Result, err error) {
	start := time.Now()
	var partial bool
	defer func() { o.observe("recolor", start, &err, &partial) }()
	ctx, stop := o.bound(ctx)
	defer stop()

	if err := requireAccount(req.AccountID); err != nil {
		return nil, err
	}
	if err := requireSource("image", req.Source); err != nil {
		return nil, err
	}
	colors, err := normalizeColors(req.Colors)
	if err != nil {
		return nil, err
	}
	kind := domain.OpRecolorSingle
	if len(colors) > 1 {
		kind = domain.OpRecolorAll
	}

	deduction, err := o.ledger.CheckAndDeduct(ctx, req.AccountID, kind, 1)
	if err != nil {
		return nil, err
	}
	ratio := resolveRatio(req.AspectRatioID)

	outcomes := make([]taskOutcome, len(colors))
	var g errgroup.Group
	g.SetLimit(recolorConcurrency)
	for i, color := range colors {
		g.Go(func() error {
			outcomes[i] = o.recolorOne(ctx, req, color, ratio)
			return nil
		})
	}
	_ = g.Wait()

	res = collect(outcomes)
	res.Charge, res.Balance = deduction.Charge, deduction.Balance

	if kind == domain.OpRecolorSingle && !res.Success {
		return nil, generationFailed(fmt.Errorf("recolor: %s", res.Failures[0].Message))
	}
	partial = res.Success && len(res.Failures) > 0
	if !res.Success {
		return res, ErrAllFailed
	}
	return res, nil
}

// recolorOne runs both stages for one color. Stage 2 needs stage 1's output,
// so the two calls are strictly sequential.
func (o *Orchestrator) recolorOne(ctx context.Context, req RecolorRequest, color string, ratio *domain.AspectRatio) taskOutcome {
	label := fmt.Sprintf("Recolored (%s)", displayName(color))
	meta := mergeMeta(req.Metadata, "color", color)
	fail := func(stage string, err error, u domain.TokenUsage) taskOutcome {
		msg := failureMessage(err)
		o.logger.Warn().Err(err).Str("color", color).Str("stage", stage).Msg("pipeline: recolor failed")
		o.record(req.AccountID, domain.JobRecolor, domain.JobStatusFailed, u, "", mergeMeta(meta, "stage", stage, "error", msg))
		return taskOutcome{failure: &Failure{Label: label, Message: stage + " failed: " + msg}, usage: u}
	}

	if err := ctx.Err(); err != nil {
		return fail("metal", err, domain.TokenUsage{})
	}
	sctx, cancel := o.subtask(ctx)
	stage1, err := o.gen.Generate(sctx, req.Source.input(), metalRecolorPrompt(color))
	cancel()
	if err != nil {
		return fail("metal", err, domain.TokenUsage{})
	}

	sctx, cancel = o.subtask(ctx)
	defer cancel()
	refs := []genai.ImageInput{req.Source.input(), {Data: stage1.Data, MimeType: stage1.MimeType}}
	stage2, err := o.gen.GenerateMultiRef(sctx, refs, restoreStonesPrompt(color))
	if err != nil {
		return fail("restore", err, stage1.Usage)
	}

	total := stage1.Usage.Add(stage2.Usage)
	img := o.finish(sctx, label, stage2, finishOptions{ratio: ratio, forceContain: true, preview: true})
	o.record(req.AccountID, domain.JobRecolor, domain.JobStatusCompleted, total, stage2.Model, meta,
		usage.Artifact{Label: label, Data: img.Data})
	return taskOutcome{image: &img, usage: total}
}
