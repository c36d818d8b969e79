package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"sorapixel/internal/middleware"
	"sorapixel/internal/pipeline"
)

type studioRequest struct {
	Image         string `json:"image" validate:"required"`
	StyleID       string `json:"style_id"`
	Scene         string `json:"scene" validate:"max=2000"`
	AspectRatioID string `json:"aspect_ratio_id"`
	Logo          string `json:"logo"`
	Refine        bool   `json:"refine"`
}

type tryOnRequest struct {
	JewelryImage  string `json:"jewelry_image" validate:"required"`
	PersonImage   string `json:"person_image" validate:"required"`
	JewelryType   string `json:"jewelry_type" validate:"omitempty,oneof=necklace earring bracelet ring"`
	AspectRatioID string `json:"aspect_ratio_id"`
}

type recolorRequest struct {
	Image         string   `json:"image" validate:"required"`
	Colors        []string `json:"colors" validate:"required,min=1,max=6,dive,required"`
	AspectRatioID string   `json:"aspect_ratio_id"`
}

type hdRequest struct {
	Image string `json:"image" validate:"required"`
	Label string `json:"label" validate:"max=200"`
}

type infoRequest struct {
	Image         string `json:"image" validate:"required"`
	Properties    string `json:"properties" validate:"max=4000"`
	Dimensions    string `json:"dimensions" validate:"max=2000"`
	AspectRatioID string `json:"aspect_ratio_id"`
	Logo          string `json:"logo"`
}

type listingRequest struct {
	Mode         string            `json:"mode" validate:"omitempty,oneof=generate regenerate"`
	Images       []string          `json:"images" validate:"required,min=1,max=20,dive,required"`
	Previous     *pipeline.Listing `json:"previous"`
	Instructions string            `json:"instructions" validate:"max=2000"`
}

// generationFailure is returned when every sub-task of a partial-success
// pipeline failed. The charge stands, so the balance is reported.
type generationFailure struct {
	Success  bool               `json:"success"`
	Error    string             `json:"error"`
	Code     string             `json:"code"`
	Failures []pipeline.Failure `json:"failures,omitempty"`
	Balance  any                `json:"balance,omitempty"`
}

func (a *App) pipelineResult(w http.ResponseWriter, r *http.Request, res *pipeline.Result, err error) {
	if err != nil {
		if errors.Is(err, pipeline.ErrAllFailed) && res != nil {
			a.json(w, http.StatusBadGateway, generationFailure{
				Error:    err.Error(),
				Code:     "generation_failed",
				Failures: res.Failures,
				Balance:  res.Balance,
			})
			return
		}
		a.fail(w, r, err)
		return
	}
	a.ok(w, res)
}

func (a *App) studioPack(w http.ResponseWriter, r *http.Request) (pipeline.PackRequest, bool) {
	var body studioRequest
	if err := a.decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return pipeline.PackRequest{}, false
	}
	src, err := decodeImage("image", body.Image)
	if err != nil {
		a.fail(w, r, err)
		return pipeline.PackRequest{}, false
	}
	logo, err := decodeOptionalImage("logo", body.Logo)
	if err != nil {
		a.fail(w, r, err)
		return pipeline.PackRequest{}, false
	}
	return pipeline.PackRequest{
		AccountID:     middleware.AccountIDFromContext(r.Context()),
		Source:        src,
		StyleID:       body.StyleID,
		Scene:         body.Scene,
		AspectRatioID: body.AspectRatioID,
		Logo:          logo,
		Metadata:      requestMeta(r),
		Refine:        body.Refine,
	}, true
}

// Studio handles POST /v1/studio/generate.
func (a *App) Studio(w http.ResponseWriter, r *http.Request) {
	req, ok := a.studioPack(w, r)
	if !ok {
		return
	}
	res, err := a.Pipelines.Studio(r.Context(), req)
	a.pipelineResult(w, r, res, err)
}

// Pack handles POST /v1/pack/generate.
func (a *App) Pack(w http.ResponseWriter, r *http.Request) {
	req, ok := a.studioPack(w, r)
	if !ok {
		return
	}
	res, err := a.Pipelines.Pack(r.Context(), req)
	a.pipelineResult(w, r, res, err)
}

// TryOn handles POST /v1/tryon.
func (a *App) TryOn(w http.ResponseWriter, r *http.Request) {
	var body tryOnRequest
	if err := a.decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	jewelry, err := decodeImage("jewelry_image", body.JewelryImage)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	person, err := decodeImage("person_image", body.PersonImage)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Pipelines.TryOn(r.Context(), pipeline.TryOnRequest{
		AccountID:     middleware.AccountIDFromContext(r.Context()),
		Jewelry:       jewelry,
		Person:        person,
		JewelryType:   body.JewelryType,
		AspectRatioID: body.AspectRatioID,
		Metadata:      requestMeta(r),
	})
	a.pipelineResult(w, r, res, err)
}

func (a *App) Recolor(w http.ResponseWriter, r *http.Request) {
	var body recolorRequest
	if err := a.decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	src, err := decodeImage("image", body.Image)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Pipelines.Recolor(r.Context(), pipeline.RecolorRequest{
		AccountID:     middleware.AccountIDFromContext(r.Context()),
		Source:        src,
		Colors:        body.Colors,
		AspectRatioID: body.AspectRatioID,
		Metadata:      requestMeta(r),
	})
	a.pipelineResult(w, r, res, err)
}

func (a *App) HD(w http.ResponseWriter, r *http.Request) {
	var body hdRequest
	if err := a.decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	src, err := decodeImage("image", body.Image)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Pipelines.HD(r.Context(), pipeline.HDRequest{
		AccountID: middleware.AccountIDFromContext(r.Context()),
		Source:    src,
		Label:     body.Label,
		Metadata:  requestMeta(r),
	})
	a.pipelineResult(w, r, res, err)
}

func (a *App) Info(w http.ResponseWriter, r *http.Request) {
	var body infoRequest
	if err := a.decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	src, err := decodeImage("image", body.Image)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	logo, err := decodeOptionalImage("logo", body.Logo)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Pipelines.Info(r.Context(), pipeline.InfoRequest{
		AccountID:     middleware.AccountIDFromContext(r.Context()),
		Source:        src,
		Properties:    body.Properties,
		Dimensions:    body.Dimensions,
		AspectRatioID: body.AspectRatioID,
		Logo:          logo,
		Metadata:      requestMeta(r),
	})
	a.pipelineResult(w, r, res, err)
}

func (a *App) Listing(w http.ResponseWriter, r *http.Request) {
	var body listingRequest
	if err := a.decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	images := make([]pipeline.Source, len(body.Images))
	for i, raw := range body.Images {
		src, err := decodeImage(fmt.Sprintf("images[%d]", i), raw)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		images[i] = src
	}
	res, err := a.Pipelines.Listing(r.Context(), pipeline.ListingRequest{
		AccountID:    middleware.AccountIDFromContext(r.Context()),
		Mode:         body.Mode,
		Images:       images,
		Previous:     body.Previous,
		Instructions: body.Instructions,
		Metadata:     requestMeta(r),
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrAllFailed) && res != nil {
			a.json(w, http.StatusBadGateway, map[string]any{
				"success": false,
				"error":   err.Error(),
				"code":    "generation_failed",
				"items":   res.Items,
				"balance": res.Balance,
			})
			return
		}
		a.fail(w, r, err)
		return
	}
	a.ok(w, res)
}
