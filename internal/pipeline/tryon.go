package pipeline

import (
	"context"
	"slices"
	"strings"
	"time"

	"sorapixel/internal/domain"
	"sorapixel/internal/providers/genai"
	"sorapixel/internal/usage"
)

// TryOnRequest renders a person wearing a jewelry piece.
type TryOnRequest struct {
	AccountID     string
	Jewelry       Source
	Person        Source
	JewelryType   string
	AspectRatioID string
	Metadata      map[string]any
}

func jewelryType(raw string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return "necklace", nil
	}
	if !slices.Contains(JewelryTypes, t) {
		return "", domain.Invalid("jewelry_type", "unknown jewelry type")
	}
	return t, nil
}

// TryOn sends the jewelry and person photos as two references in one call
// and fits the result to the requested ratio.
func (o *Orchestrator) TryOn(ctx context.Context, req TryOnRequest) (res *Result, err error) {
	start := time.Now()
	defer func() { o.observe("tryon", start, &err, nil) }()
	ctx, stop := o.bound(ctx)
	defer stop()

	if err := requireAccount(req.AccountID); err != nil {
		return nil, err
	}
	if err := requireSource("jewelry_image", req.Jewelry); err != nil {
		return nil, err
	}
	if err := requireSource("person_image", req.Person); err != nil {
		return nil, err
	}
	jtype, err := jewelryType(req.JewelryType)
	if err != nil {
		return nil, err
	}
	ratio, _ := domain.AspectRatioByID(req.AspectRatioID)

	deduction, err := o.ledger.CheckAndDeduct(ctx, req.AccountID, domain.OpTryOn, 1)
	if err != nil {
		return nil, err
	}

	sctx, cancel := o.subtask(ctx)
	defer cancel()
	meta := mergeMeta(req.Metadata, "jewelry_type", jtype, "aspect_ratio", ratio.ID)
	refs := []genai.ImageInput{req.Jewelry.input(), req.Person.input()}
	raw, err := o.gen.GenerateMultiRef(sctx, refs, tryOnPrompt(jtype, ratio))
	if err != nil {
		o.record(req.AccountID, domain.JobTryOn, domain.JobStatusFailed, domain.TokenUsage{}, "", mergeMeta(meta, "error", failureMessage(err)))
		return nil, generationFailed(err)
	}

	img := o.finish(sctx, "Try-On", raw, finishOptions{ratio: &ratio, preview: true})
	o.record(req.AccountID, domain.JobTryOn, domain.JobStatusCompleted, raw.Usage, raw.Model, meta,
		usage.Artifact{Label: "Try-On", Data: img.Data})
	return &Result{
		Success: true,
		Images:  []Image{img},
		Charge:  deduction.Charge,
		Balance: deduction.Balance,
		Usage:   raw.Usage,
	}, nil
}
