package pipeline

import (
	"context"
	"strings"
	"time"

	"sorapixel/internal/domain"
	"sorapixel/internal/usage"
)

// HDRequest regenerates one delivered image at high resolution.
type HDRequest struct {
	AccountID string
	Source    Source
	Label     string
	Metadata  map[string]any
}

// HD makes a single synchronous generator call. The result is the purchased
// artifact, so no preview is produced.
func (o *Orchestrator) HD(ctx context.Context, req HDRequest) (res *Result, err error) {
	start := time.Now()
	defer func() { o.observe("hd", start, &err, nil) }()
	ctx, stop := o.bound(ctx)
	defer stop()

	if err := requireAccount(req.AccountID); err != nil {
		return nil, err
	}
	if err := requireSource("image", req.Source); err != nil {
		return nil, err
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = "Image"
	}

	deduction, err := o.ledger.CheckAndDeduct(ctx, req.AccountID, domain.OpHDUpscale, 1)
	if err != nil {
		return nil, err
	}

	sctx, cancel := o.subtask(ctx)
	defer cancel()
	meta := mergeMeta(req.Metadata, "source_label", label)
	raw, err := o.gen.Generate(sctx, req.Source.input(), hdPrompt)
	if err != nil {
		o.record(req.AccountID, domain.JobHDUpscale, domain.JobStatusFailed, domain.TokenUsage{}, "", mergeMeta(meta, "error", failureMessage(err)))
		return nil, generationFailed(err)
	}

	hdLabel := label + " HD"
	img := o.finish(sctx, hdLabel, raw, finishOptions{})
	o.record(req.AccountID, domain.JobHDUpscale, domain.JobStatusCompleted, raw.Usage, raw.Model,
		mergeMeta(meta, "width", img.Width, "height", img.Height),
		usage.Artifact{Label: hdLabel, Data: img.Data})
	return &Result{
		Success: true,
		Images:  []Image{img},
		Charge:  deduction.Charge,
		Balance: deduction.Balance,
		Usage:   raw.Usage,
	}, nil
}
