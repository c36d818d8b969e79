package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sorapixel/internal/domain"
	"sorapixel/internal/providers/genai"
)

// Listing modes.
const (
	ListingGenerate   = "generate"
	ListingRegenerate = "regenerate"

	// MaxListingImages caps one batch request.
	MaxListingImages   = 20
	listingConcurrency = 3
)

// ListingAttributes maps onto storefront metafields.
type ListingAttributes struct {
	JewelryMaterial string `json:"jewelryMaterial"`
	GemstoneType    string `json:"gemstoneType"`
	Collection      string `json:"collection"`
	Occasion        string `json:"occasion"`
	Material        string `json:"material"`
	Stone           string `json:"stone"`
	Closure         string `json:"closure"`
}

// Listing is the structured copy generated for one product image.
type Listing struct {
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	MetaDescription string            `json:"metaDescription"`
	AltText         string            `json:"altText"`
	Attributes      ListingAttributes `json:"attributes"`
}

// ListingRequest generates listings for one or more images, or regenerates
// the listing of exactly one image.
type ListingRequest struct {
	AccountID    string
	Mode         string
	Images       []Source
	Previous     *Listing
	Instructions string
	Metadata     map[string]any
}

// ListingItem is the outcome for one input image.
type ListingItem struct {
	Index   int      `json:"index"`
	Listing *Listing `json:"listing,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ListingResult is the outcome of a listing run.
type ListingResult struct {
	Success bool              `json:"success"`
	Items   []ListingItem     `json:"items"`
	Charge  domain.Charge     `json:"-"`
	Balance domain.Balance    `json:"balance"`
	Usage   domain.TokenUsage `json:"usage"`
}

// Listing produces structured listing copy. Each image is one text call whose
// output must parse strictly; a single-image run fails as a whole on any
// error while batch items fail independently.
func (o *Orchestrator) Listing(ctx context.Context, req ListingRequest) (res *ListingResult, err error) {
	start := time.Now()
	var partial bool
	defer func() { o.observe("listing", start, &err, &partial) }()
	ctx, stop := o.bound(ctx)
	defer stop()

	if err := requireAccount(req.AccountID); err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = ListingGenerate
	}
	kind, jobKind := domain.OpListing, domain.JobListing
	switch mode {
	case ListingGenerate:
		if len(req.Images) == 0 {
			return nil, domain.Invalid("images", "at least one image is required")
		}
		if len(req.Images) > MaxListingImages {
			return nil, domain.Invalid("images", fmt.Sprintf("at most %d images per request", MaxListingImages))
		}
		if len(req.Images) > 1 {
			jobKind = domain.JobBatchListing
		}
	case ListingRegenerate:
		if len(req.Images) != 1 {
			return nil, domain.Invalid("images", "regenerate takes exactly one image")
		}
		kind = domain.OpListingRegenerate
	default:
		return nil, domain.Invalid("mode", "must be generate or regenerate")
	}
	req.Mode = mode
	for i, img := range req.Images {
		if err := requireSource(fmt.Sprintf("images[%d]", i), img); err != nil {
			return nil, err
		}
	}

	deduction, err := o.ledger.CheckAndDeduct(ctx, req.AccountID, kind, len(req.Images))
	if err != nil {
		return nil, err
	}

	prompt := listingPrompt()
	if mode == ListingRegenerate {
		prompt = regenerateListingPrompt(req.Previous, req.Instructions)
	}

	items := make([]ListingItem, len(req.Images))
	usages := make([]domain.TokenUsage, len(req.Images))
	var g errgroup.Group
	g.SetLimit(listingConcurrency)
	for i, src := range req.Images {
		g.Go(func() error {
			items[i], usages[i] = o.runListing(ctx, req, jobKind, i, src, prompt)
			return nil
		})
	}
	_ = g.Wait()

	res = &ListingResult{Items: items, Charge: deduction.Charge, Balance: deduction.Balance}
	var failed int
	for i, it := range items {
		res.Usage = res.Usage.Add(usages[i])
		if it.Listing == nil {
			failed++
		}
	}
	res.Success = failed < len(items)

	if len(items) == 1 && failed == 1 {
		return nil, generationFailed(errors.New(items[0].Error))
	}
	partial = res.Success && failed > 0
	if !res.Success {
		return res, ErrAllFailed
	}
	return res, nil
}

func (o *Orchestrator) runListing(ctx context.Context, req ListingRequest, jobKind domain.JobKind, idx int, src Source, prompt string) (ListingItem, domain.TokenUsage) {
	sctx, cancel := o.subtask(ctx)
	defer cancel()

	meta := mergeMeta(req.Metadata, "mode", req.Mode, "index", idx)
	out, err := o.gen.GenerateText(sctx, []genai.ImageInput{src.input()}, prompt)
	if err != nil {
		msg := failureMessage(err)
		o.record(req.AccountID, jobKind, domain.JobStatusFailed, domain.TokenUsage{}, "", mergeMeta(meta, "error", msg))
		return ListingItem{Index: idx, Error: msg}, domain.TokenUsage{}
	}
	listing, err := ParseListing(out.Text)
	if err != nil {
		o.logger.Warn().Err(err).Int("index", idx).Msg("pipeline: listing response rejected")
		o.record(req.AccountID, jobKind, domain.JobStatusFailed, out.Usage, out.Model, mergeMeta(meta, "error", err.Error()))
		return ListingItem{Index: idx, Error: "Failed to parse listing response"}, out.Usage
	}
	o.record(req.AccountID, jobKind, domain.JobStatusCompleted, out.Usage, out.Model, mergeMeta(meta, "title", listing.Title))
	return ListingItem{Index: idx, Listing: listing}, out.Usage
}

// ParseListing decodes generator text into a Listing. Markdown code fences
// are stripped; anything else that is not exactly one JSON object with known
// fields is rejected.
func ParseListing(text string) (*Listing, error) {
	cleaned := stripFences(text)
	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.DisallowUnknownFields()

	var l Listing
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("listing: decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("listing: trailing data after object")
	}
	if strings.TrimSpace(l.Title) == "" || strings.TrimSpace(l.Description) == "" {
		return nil, errors.New("listing: title and description are required")
	}
	applyListingDefaults(&l.Attributes)
	return &l, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && strings.EqualFold(strings.TrimSpace(s[:nl]), "json") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func applyListingDefaults(a *ListingAttributes) {
	if a.JewelryMaterial == "" {
		a.JewelryMaterial = "Metal"
	}
	if a.Collection == "" {
		a.Collection = "[TBD]"
	}
	if a.Occasion == "" {
		a.Occasion = "[TBD]"
	}
	if a.Material == "" {
		a.Material = "[TBD]"
	}
	if a.Stone == "" {
		a.Stone = "None"
	}
}
