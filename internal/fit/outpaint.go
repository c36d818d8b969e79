package fit

import (
	"context"
	"fmt"
	"image"

	"sorapixel/internal/providers/genai"
)

type imageGenerator interface {
	Generate(ctx context.Context, img genai.ImageInput, prompt string) (*genai.ImageResult, error)
}

// GeneratorOutpainter extends the canvas through the image generator. The
// source is first letterboxed into the target frame so the model only has to
// paint the margins.
type GeneratorOutpainter struct {
	gen imageGenerator
}

func NewGeneratorOutpainter(gen imageGenerator) *GeneratorOutpainter {
	return &GeneratorOutpainter{gen: gen}
}

func (o *GeneratorOutpainter) Outpaint(ctx context.Context, src image.Image, targetW, targetH int) (image.Image, error) {
	padded := Contain(src, targetW, targetH)
	data, err := EncodePNG(padded)
	if err != nil {
		return nil, err
	}
	res, err := o.gen.Generate(ctx, genai.ImageInput{Data: data, MimeType: "image/png"}, OutpaintPrompt(src.Bounds().Dx(), src.Bounds().Dy(), targetW, targetH))
	if err != nil {
		return nil, fmt.Errorf("outpaint: %w", err)
	}
	return Decode(res.Data)
}

// OutpaintPrompt describes which margins to fill for a source of srcW x srcH
// placed in a targetW x targetH frame.
func OutpaintPrompt(srcW, srcH, targetW, targetH int) string {
	srcRatio := float64(srcW) / float64(srcH)
	tgtRatio := float64(targetW) / float64(targetH)

	orientation := "wider"
	edges := "LEFT and RIGHT"
	grow := tgtRatio / srcRatio
	if tgtRatio < srcRatio {
		orientation = "taller"
		edges = "TOP and BOTTOM"
		grow = srcRatio / tgtRatio
	}

	return fmt.Sprintf(`Extend this product photo to a %s frame of %dx%d pixels.

The original photo sits in the center. The plain white bands along the %s edges are empty canvas.
Fill ONLY those bands with background that continues the existing scene seamlessly (same surface, lighting, shadows, colors and perspective), extending the frame about %.1fx along that axis.

RULES:
- Keep the product and every pixel of the original photo exactly as they are. Do not move, resize, redraw or recolor the product.
- Do not add new objects, text, logos or people.
- The result must look like a single photograph taken with a wider lens.`, orientation, targetW, targetH, edges, grow)
}
