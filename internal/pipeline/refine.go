package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"sorapixel/internal/domain"
)

// RefinedScene is a scene brief and whether the product is cut out of its
// original context before placement.
type RefinedScene struct {
	Scene   string
	Isolate bool
}

type refinedSceneJSON struct {
	Scene   string `json:"scene"`
	Isolate *bool  `json:"isolate"`
}

// parseRefinedScene reads the strict {"scene","isolate"} object. A missing
// isolate field means isolate.
func parseRefinedScene(text string) (RefinedScene, error) {
	dec := json.NewDecoder(strings.NewReader(stripFences(text)))
	dec.DisallowUnknownFields()

	var raw refinedSceneJSON
	if err := dec.Decode(&raw); err != nil {
		return RefinedScene{}, fmt.Errorf("refine: decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return RefinedScene{}, errors.New("refine: trailing data after object")
	}
	scene := strings.TrimSpace(raw.Scene)
	if scene == "" {
		return RefinedScene{}, errors.New("refine: empty scene")
	}
	return RefinedScene{Scene: scene, Isolate: raw.Isolate == nil || *raw.Isolate}, nil
}

// resolveScene picks the scene for studio and pack. A custom scene with
// Refine set is rewritten by the text model first; that call happens after
// the charge, and any failure keeps the caller's own text.
func (o *Orchestrator) resolveScene(ctx context.Context, req PackRequest, sceneText string) (RefinedScene, domain.TokenUsage) {
	sc := RefinedScene{Scene: sceneText, Isolate: true}
	if !req.refines() {
		return sc, domain.TokenUsage{}
	}
	custom := strings.TrimSpace(req.Scene)

	sctx, cancel := o.subtask(ctx)
	defer cancel()
	meta := mergeMeta(req.Metadata, "scene", custom)
	out, err := o.gen.GenerateText(sctx, nil, refineScenePrompt(custom))
	if err != nil {
		o.logger.Warn().Err(err).Msg("pipeline: scene refine failed, using raw scene")
		o.record(req.AccountID, domain.JobSceneRefine, domain.JobStatusFailed, domain.TokenUsage{}, "", mergeMeta(meta, "error", failureMessage(err)))
		return sc, domain.TokenUsage{}
	}
	refined, err := parseRefinedScene(out.Text)
	if err != nil {
		o.logger.Warn().Err(err).Msg("pipeline: scene refine unparseable, using raw scene")
		o.record(req.AccountID, domain.JobSceneRefine, domain.JobStatusFailed, out.Usage, out.Model, mergeMeta(meta, "error", err.Error()))
		return sc, out.Usage
	}
	o.record(req.AccountID, domain.JobSceneRefine, domain.JobStatusCompleted, out.Usage, out.Model, mergeMeta(meta, "isolate", refined.Isolate))
	return refined, out.Usage
}
