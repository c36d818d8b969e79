package fit

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOutpainter struct {
	calls int
	err   error
}

func (s *stubOutpainter) Outpaint(_ context.Context, src image.Image, w, h int) (image.Image, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return imaging.New(w, h, color.NRGBA{R: 10, G: 200, B: 10, A: 255}), nil
}

func solid(w, h int) image.Image {
	return imaging.New(w, h, color.NRGBA{R: 180, G: 40, B: 40, A: 255})
}

func TestRatioDecision(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		target     Target
		wantDiff   float64
		wantMode   Mode
	}{
		{name: "square to story outpaints", srcW: 1024, srcH: 1024, target: Target{Width: 1080, Height: 1920}, wantDiff: 0.4375, wantMode: ModeOutpaint},
		{name: "3:2 to 16:9 crops", srcW: 1200, srcH: 800, target: Target{Width: 1280, Height: 720}, wantDiff: 0.15625, wantMode: ModeCover},
		{name: "force contain wins", srcW: 1024, srcH: 1024, target: Target{Width: 1080, Height: 1920, ForceContain: true}, wantDiff: 0.4375, wantMode: ModeContain},
		{name: "same ratio covers", srcW: 500, srcH: 500, target: Target{Width: 1080, Height: 1080}, wantDiff: 0, wantMode: ModeCover},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantDiff, RatioDiff(tt.srcW, tt.srcH, tt.target.Width, tt.target.Height), 0.001)
			assert.Equal(t, tt.wantMode, Decide(tt.srcW, tt.srcH, tt.target))
		})
	}
}

func TestFitOutpaintPathContainsExtendedImage(t *testing.T) {
	op := &stubOutpainter{}
	e := NewEngine(op, nil)

	res, err := e.Fit(context.Background(), solid(64, 64), Target{Width: 90, Height: 160})
	require.NoError(t, err)
	assert.Equal(t, ModeOutpaint, res.Mode)
	assert.Equal(t, 1, op.calls)
	assert.Equal(t, image.Rect(0, 0, 90, 160), res.Image.Bounds())
	// The stub returns green; contain-fit must not crop it.
	c := res.Image.NRGBAAt(45, 80)
	assert.Greater(t, c.G, c.R)
}

func TestFitOutpaintFailureFallsBackToContain(t *testing.T) {
	op := &stubOutpainter{err: errors.New("model overloaded")}
	e := NewEngine(op, nil)

	res, err := e.Fit(context.Background(), solid(64, 64), Target{Width: 90, Height: 160})
	require.NoError(t, err)
	assert.Equal(t, ModeOutpaintFallback, res.Mode)
	assert.Equal(t, image.Rect(0, 0, 90, 160), res.Image.Bounds())
	// Letterbox bands are white.
	top := res.Image.NRGBAAt(45, 2)
	assert.Equal(t, uint8(255), top.R)
	assert.Equal(t, uint8(255), top.G)
	assert.Equal(t, uint8(255), top.B)
}

func TestFitForceContainExactDimensions(t *testing.T) {
	op := &stubOutpainter{}
	e := NewEngine(op, nil)
	for _, src := range []image.Image{solid(300, 100), solid(100, 300), solid(2000, 2000)} {
		res, err := e.Fit(context.Background(), src, Target{Width: 1080, Height: 1350, ForceContain: true})
		require.NoError(t, err)
		assert.Equal(t, ModeContain, res.Mode)
		assert.Equal(t, 1080, res.Image.Bounds().Dx())
		assert.Equal(t, 1350, res.Image.Bounds().Dy())
	}
	assert.Zero(t, op.calls)
}

func TestFitCoverExactDimensions(t *testing.T) {
	e := NewEngine(nil, nil)
	res, err := e.Fit(context.Background(), solid(1200, 800), Target{Width: 1280, Height: 720})
	require.NoError(t, err)
	assert.Equal(t, ModeCover, res.Mode)
	assert.Equal(t, image.Rect(0, 0, 1280, 720), res.Image.Bounds())
}

func TestFitCircularMask(t *testing.T) {
	e := NewEngine(nil, nil)
	res, err := e.Fit(context.Background(), solid(400, 400), Target{Width: 500, Height: 500, Circular: true})
	require.NoError(t, err)
	img := res.Image

	for y := 0; y < 500; y++ {
		for x := 0; x < 500; x++ {
			dx := float64(x) + 0.5 - 250
			dy := float64(y) + 0.5 - 250
			d2 := dx*dx + dy*dy
			a := img.NRGBAAt(x, y).A
			switch {
			case d2 > 250*250:
				require.Equalf(t, uint8(0), a, "pixel (%d,%d) outside radius must be transparent", x, y)
			case d2 < 249*249:
				require.Equalf(t, uint8(255), a, "pixel (%d,%d) inside radius must be opaque", x, y)
			}
		}
	}
	assert.Equal(t, uint8(0), img.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(255), img.NRGBAAt(250, 250).A)
}

func TestFitBytesRoundTrip(t *testing.T) {
	data, err := EncodePNG(solid(40, 20))
	require.NoError(t, err)
	e := NewEngine(nil, nil)
	out, res, err := e.FitBytes(context.Background(), data, Target{Width: 40, Height: 40, ForceContain: true})
	require.NoError(t, err)
	assert.Equal(t, ModeContain, res.Mode)
	img, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 40), img.Bounds())
}

func TestOutpaintPromptOrientation(t *testing.T) {
	assert.Contains(t, OutpaintPrompt(1024, 1024, 1080, 1920), "TOP and BOTTOM")
	assert.Contains(t, OutpaintPrompt(1024, 1024, 1280, 720), "LEFT and RIGHT")
}
