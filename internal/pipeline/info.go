package pipeline

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sorapixel/internal/domain"
	"sorapixel/internal/usage"
)

// InfoRequest asks for feature and/or dimension infographics.
type InfoRequest struct {
	AccountID     string
	Source        Source
	Properties    string
	Dimensions    string
	AspectRatioID string
	Logo          []byte
	Metadata      map[string]any
}

type infoTask struct {
	key    string
	label  string
	prompt string
}

// Info generates up to two infographics. Only non-empty inputs produce a
// sub-task and the charge is one unit per sub-task.
func (o *Orchestrator) Info(ctx context.Context, req InfoRequest) (res *Result, err error) {
	start := time.Now()
	var partial bool
	defer func() { o.observe("info", start, &err, &partial) }()
	ctx, stop := o.bound(ctx)
	defer stop()

	if err := requireAccount(req.AccountID); err != nil {
		return nil, err
	}
	if err := requireSource("image", req.Source); err != nil {
		return nil, err
	}
	var tasks []infoTask
	if p := strings.TrimSpace(req.Properties); p != "" {
		tasks = append(tasks, infoTask{key: "Features", label: "Product Features", prompt: featuresPrompt(p)})
	}
	if d := strings.TrimSpace(req.Dimensions); d != "" {
		tasks = append(tasks, infoTask{key: "Dimensions", label: "Product Dimensions", prompt: dimensionsPrompt(d)})
	}
	if len(tasks) == 0 {
		return nil, domain.Invalid("properties", "provide at least properties or dimensions")
	}
	ratio := resolveRatio(req.AspectRatioID)

	deduction, err := o.ledger.CheckAndDeduct(ctx, req.AccountID, domain.OpInfo, len(tasks))
	if err != nil {
		return nil, err
	}

	outcomes := make([]taskOutcome, len(tasks))
	var g errgroup.Group
	g.SetLimit(len(tasks))
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i] = o.runInfo(ctx, req, t, ratio)
			return nil
		})
	}
	_ = g.Wait()

	res = collect(outcomes)
	res.Charge, res.Balance = deduction.Charge, deduction.Balance
	partial = res.Success && len(res.Failures) > 0
	if !res.Success {
		return res, ErrAllFailed
	}
	return res, nil
}

func (o *Orchestrator) runInfo(ctx context.Context, req InfoRequest, t infoTask, ratio *domain.AspectRatio) taskOutcome {
	sctx, cancel := o.subtask(ctx)
	defer cancel()

	meta := mergeMeta(req.Metadata, "infographic", t.label)
	raw, err := o.gen.Generate(sctx, req.Source.input(), t.prompt)
	if err != nil {
		msg := failureMessage(err)
		o.logger.Warn().Err(err).Str("infographic", t.label).Msg("pipeline: info task failed")
		o.record(req.AccountID, domain.JobInfo, domain.JobStatusFailed, domain.TokenUsage{}, "", mergeMeta(meta, "error", msg))
		return taskOutcome{failure: &Failure{Label: t.label, Message: t.key + " failed: " + msg}}
	}

	img := o.finish(sctx, t.label, raw, finishOptions{ratio: ratio, forceContain: true, logo: req.Logo, preview: true})
	o.record(req.AccountID, domain.JobInfo, domain.JobStatusCompleted, raw.Usage, raw.Model, meta,
		usage.Artifact{Label: t.label, Data: img.Data})
	return taskOutcome{image: &img, usage: raw.Usage}
}
