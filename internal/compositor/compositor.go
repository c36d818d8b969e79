// Package compositor draws brand overlays onto finished images: the logo
// pill and the diagonal preview watermark.
package compositor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	logoWidthRatio   = 0.18
	logoPadRatio     = 0.15
	pillRadiusRatio  = 0.12
	pillOpacity      = 0.7
	edgeMarginRatio  = 0.03
	markFontRatio    = 0.06
	markLineSpacing  = 3.5
	markColumnStep   = 6.0
	markOpacity      = 0.18
	markAngleDegrees = 30.0
)

// DefaultWatermark is the brand string tiled over previews.
const DefaultWatermark = "SORAPIXEL"

// Compositor is safe for concurrent use.
type Compositor struct {
	text string

	fontOnce sync.Once
	font     *opentype.Font
	fontErr  error
}

func New(watermarkText string) *Compositor {
	text := strings.ToUpper(strings.TrimSpace(watermarkText))
	if text == "" {
		text = DefaultWatermark
	}
	return &Compositor{text: text}
}

// OverlayLogo places logo in a translucent rounded pill at the top-right.
func (c *Compositor) OverlayLogo(base, logo image.Image) *image.NRGBA {
	bw := base.Bounds().Dx()
	lw := max(1, int(math.Round(float64(bw)*logoWidthRatio)))
	resized := imaging.Resize(logo, lw, 0, imaging.Lanczos)
	lw, lh := resized.Bounds().Dx(), resized.Bounds().Dy()

	pad := int(math.Round(float64(min(lw, lh)) * logoPadRatio))
	pw, ph := lw+2*pad, lh+2*pad
	radius := int(math.Round(float64(min(pw, ph)) * pillRadiusRatio))

	pill := roundedRect(pw, ph, radius, color.NRGBA{R: 255, G: 255, B: 255, A: uint8(math.Round(255 * pillOpacity))})
	pill = imaging.Overlay(pill, resized, image.Pt(pad, pad), 1.0)

	margin := int(math.Round(float64(bw) * edgeMarginRatio))
	pos := image.Pt(max(0, bw-pw-margin), max(0, margin))
	return imaging.Overlay(base, pill, pos, 1.0)
}

// Watermark tiles the brand text diagonally over the whole frame. Tiles start
// one frame outside each edge so the rotation leaves no corner uncovered.
func (c *Compositor) Watermark(base image.Image) (*image.NRGBA, error) {
	b := base.Bounds()
	w, h := b.Dx(), b.Dy()
	size := math.Max(8, math.Round(float64(w)*markFontRatio))

	tile, err := c.textTile(size)
	if err != nil {
		return nil, err
	}
	rotated := imaging.Rotate(tile, markAngleDegrees, color.Transparent)
	rw, rh := rotated.Bounds().Dx(), rotated.Bounds().Dy()

	out := imaging.Clone(base)
	lineStep := int(math.Round(size * markLineSpacing))
	colStep := int(math.Round(size * markColumnStep))
	cx, cy := float64(w)/2, float64(h)/2
	sin, cos := math.Sincos(-markAngleDegrees * math.Pi / 180)

	for y := -h; y < 2*h; y += lineStep {
		for x := -w; x < 2*w; x += colStep {
			// Rotate the tile anchor around the frame center.
			dx, dy := float64(x)-cx, float64(y)-cy
			px := cx + dx*cos - dy*sin
			py := cy + dx*sin + dy*cos
			left := int(math.Round(px)) - rw/2
			top := int(math.Round(py)) - rh/2
			if left >= w || top >= h || left+rw <= 0 || top+rh <= 0 {
				continue
			}
			out = imaging.Overlay(out, rotated, image.Pt(left, top), markOpacity)
		}
	}
	return out, nil
}

// OverlayLogoBytes decodes both images, applies the logo and returns PNG.
func (c *Compositor) OverlayLogoBytes(baseData, logoData []byte) ([]byte, error) {
	base, err := decode(baseData)
	if err != nil {
		return nil, err
	}
	logo, err := decode(logoData)
	if err != nil {
		return nil, fmt.Errorf("compositor: logo: %w", err)
	}
	return encode(c.OverlayLogo(base, logo))
}

// WatermarkBytes decodes data, applies the watermark and returns PNG.
func (c *Compositor) WatermarkBytes(data []byte) ([]byte, error) {
	base, err := decode(data)
	if err != nil {
		return nil, err
	}
	out, err := c.Watermark(base)
	if err != nil {
		return nil, err
	}
	return encode(out)
}

func (c *Compositor) textTile(size float64) (*image.NRGBA, error) {
	c.fontOnce.Do(func() {
		c.font, c.fontErr = opentype.Parse(gobold.TTF)
	})
	if c.fontErr != nil {
		return nil, fmt.Errorf("compositor: parse font: %w", c.fontErr)
	}
	face, err := opentype.NewFace(c.font, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("compositor: font face: %w", err)
	}
	defer face.Close()

	// Letter spacing of ~4px at 1080 wide, scaled with the font.
	spacing := fixed.I(max(1, int(math.Round(size/16))))
	var width fixed.Int26_6
	for _, r := range c.text {
		adv, _ := face.GlyphAdvance(r)
		width += adv + spacing
	}
	metrics := face.Metrics()
	tw := width.Ceil() + 2
	th := (metrics.Ascent + metrics.Descent).Ceil() + 2

	tile := image.NewNRGBA(image.Rect(0, 0, tw, th))
	d := &font.Drawer{
		Dst:  tile,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(1), Y: metrics.Ascent + fixed.I(1)},
	}
	for _, r := range c.text {
		d.DrawString(string(r))
		d.Dot.X += spacing
	}
	return tile, nil
}

// roundedRect fills a w x h rectangle with corner radius r, antialiased at
// the corners by pixel-center distance.
func roundedRect(w, h, r int, fill color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rf := float64(r)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cov := cornerCoverage(float64(x)+0.5, float64(y)+0.5, float64(w), float64(h), rf)
			if cov <= 0 {
				continue
			}
			i := img.PixOffset(x, y)
			img.Pix[i+0] = fill.R
			img.Pix[i+1] = fill.G
			img.Pix[i+2] = fill.B
			img.Pix[i+3] = uint8(math.Round(float64(fill.A) * cov))
		}
	}
	return img
}

func cornerCoverage(px, py, w, h, r float64) float64 {
	if r <= 0 {
		return 1
	}
	var cx, cy float64
	switch {
	case px < r && py < r:
		cx, cy = r, r
	case px > w-r && py < r:
		cx, cy = w-r, r
	case px < r && py > h-r:
		cx, cy = r, h-r
	case px > w-r && py > h-r:
		cx, cy = w-r, h-r
	default:
		return 1
	}
	d := math.Hypot(px-cx, py-cy)
	return math.Max(0, math.Min(1, r-d+0.5))
}

func decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("compositor: decode image: %w", err)
	}
	return img, nil
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("compositor: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
