// Package fit resizes generated images to an exact output frame, choosing
// between letterboxing, center-cropping and generator-assisted outpainting.
package fit

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	// WebP is a common upload format for product photos.
	_ "golang.org/x/image/webp"

	"sorapixel/internal/infra"
)

// OutpaintThreshold is the ratio mismatch above which cropping would lose too
// much of the subject.
const OutpaintThreshold = 0.30

// SharpenSigma is the mild sharpening applied after every resize.
const SharpenSigma = 0.8

// Mode is the geometry strategy chosen for one image.
type Mode string

const (
	ModeContain          Mode = "contain"
	ModeCover            Mode = "cover"
	ModeOutpaint         Mode = "outpaint"
	ModeOutpaintFallback Mode = "outpaint_fallback"
)

// Outpainter extends an image's canvas toward the target frame.
type Outpainter interface {
	Outpaint(ctx context.Context, src image.Image, targetW, targetH int) (image.Image, error)
}

// Target is the requested output frame.
type Target struct {
	Width        int
	Height       int
	Circular     bool
	ForceContain bool
}

// Result carries the fitted image and how it was produced.
type Result struct {
	Image     *image.NRGBA
	Mode      Mode
	RatioDiff float64
}

// Engine applies the fit algorithm. A nil outpainter makes large mismatches
// fall back to contain.
type Engine struct {
	outpainter Outpainter
	logger     zerolog.Logger
}

func NewEngine(outpainter Outpainter, logger *infra.Logger) *Engine {
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	return &Engine{outpainter: outpainter, logger: l}
}

// RatioDiff is |src-tgt| / max(src,tgt) over width/height ratios.
func RatioDiff(srcW, srcH, tgtW, tgtH int) float64 {
	src := float64(srcW) / float64(srcH)
	tgt := float64(tgtW) / float64(tgtH)
	return math.Abs(src-tgt) / math.Max(src, tgt)
}

// Decide picks the strategy without touching pixels.
func Decide(srcW, srcH int, t Target) Mode {
	if t.ForceContain {
		return ModeContain
	}
	if RatioDiff(srcW, srcH, t.Width, t.Height) > OutpaintThreshold {
		return ModeOutpaint
	}
	return ModeCover
}

// Fit produces an image of exactly t.Width x t.Height.
func (e *Engine) Fit(ctx context.Context, src image.Image, t Target) (Result, error) {
	if t.Width <= 0 || t.Height <= 0 {
		return Result{}, fmt.Errorf("fit: invalid target %dx%d", t.Width, t.Height)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return Result{}, fmt.Errorf("fit: empty source image")
	}

	mode := Decide(b.Dx(), b.Dy(), t)
	res := Result{Mode: mode, RatioDiff: RatioDiff(b.Dx(), b.Dy(), t.Width, t.Height)}

	var out *image.NRGBA
	switch mode {
	case ModeContain:
		out = Contain(src, t.Width, t.Height)
	case ModeCover:
		out = imaging.Fill(src, t.Width, t.Height, imaging.Center, imaging.Lanczos)
	case ModeOutpaint:
		extended, err := e.outpaint(ctx, src, t)
		if err != nil {
			e.logger.Warn().Err(err).
				Float64("ratio_diff", res.RatioDiff).
				Int("target_w", t.Width).
				Int("target_h", t.Height).
				Msg("fit: outpaint failed, falling back to contain")
			res.Mode = ModeOutpaintFallback
			out = Contain(src, t.Width, t.Height)
		} else {
			out = Contain(extended, t.Width, t.Height)
		}
	}

	out = imaging.Sharpen(out, SharpenSigma)
	if t.Circular {
		out = CircleMask(out)
	}
	res.Image = out
	return res, nil
}

// FitBytes decodes data, fits it and encodes the result as PNG.
func (e *Engine) FitBytes(ctx context.Context, data []byte, t Target) ([]byte, Result, error) {
	src, err := Decode(data)
	if err != nil {
		return nil, Result{}, err
	}
	res, err := e.Fit(ctx, src, t)
	if err != nil {
		return nil, Result{}, err
	}
	out, err := EncodePNG(res.Image)
	if err != nil {
		return nil, Result{}, err
	}
	return out, res, nil
}

func (e *Engine) outpaint(ctx context.Context, src image.Image, t Target) (image.Image, error) {
	if e.outpainter == nil {
		return nil, fmt.Errorf("fit: no outpainter configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.outpainter.Outpaint(ctx, src, t.Width, t.Height)
}

// Contain scales src to fit inside w x h without cropping and centers it on a
// white canvas. Smaller sources are scaled up.
func Contain(src image.Image, w, h int) *image.NRGBA {
	b := src.Bounds()
	scale := math.Min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	fw := max(1, int(math.Round(float64(b.Dx())*scale)))
	fh := max(1, int(math.Round(float64(b.Dy())*scale)))
	resized := imaging.Resize(src, min(fw, w), min(fh, h), imaging.Lanczos)
	canvas := imaging.New(w, h, color.White)
	return imaging.OverlayCenter(canvas, resized, 1.0)
}

// CircleMask clears alpha outside the centered circle of radius min(w,h)/2.
// Pixels are tested at their centers.
func CircleMask(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	r := float64(min(w, h)) / 2
	cx, cy := float64(w)/2, float64(h)/2
	out := imaging.Clone(img)
	for y := 0; y < h; y++ {
		dy := float64(y) + 0.5 - cy
		for x := 0; x < w; x++ {
			dx := float64(x) + 0.5 - cx
			if dx*dx+dy*dy > r*r {
				i := out.PixOffset(x, y)
				out.Pix[i+0], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = 0, 0, 0, 0
			}
		}
	}
	return out
}

// Decode reads an image honoring EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("fit: decode image: %w", err)
	}
	return img, nil
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("fit: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
