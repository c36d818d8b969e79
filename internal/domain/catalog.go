package domain

// AspectRatio is a named output frame with the composition hint appended to
// generation prompts.
type AspectRatio struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	Platform        string `json:"platform"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Circular        bool   `json:"circular,omitempty"`
	CompositionHint string `json:"-"`
}

var AspectRatios = []AspectRatio{
	{
		ID: "square", Label: "Square", Platform: "Instagram Post", Width: 1080, Height: 1080,
		CompositionHint: "Compose for a SQUARE (1:1) frame. Center the product with equal space on all sides.",
	},
	{
		ID: "circle", Label: "Circle", Platform: "Profile / DP", Width: 1080, Height: 1080, Circular: true,
		CompositionHint: "Compose for a CIRCULAR crop. Keep the product centered inside the middle 70% of a square frame on a clean, uncluttered background.",
	},
	{
		ID: "portrait-4-5", Label: "Portrait 4:5", Platform: "Instagram Feed", Width: 1080, Height: 1350,
		CompositionHint: "Compose for a VERTICAL PORTRAIT (4:5) frame with slightly more space above and below the product than on the sides.",
	},
	{
		ID: "story-9-16", Label: "Story 9:16", Platform: "WhatsApp Status / Reels", Width: 1080, Height: 1920,
		CompositionHint: "Compose for a TALL VERTICAL (9:16) frame. Place the product in the center-lower area with generous background above.",
	},
	{
		ID: "landscape-16-9", Label: "Landscape 16:9", Platform: "YouTube / Facebook", Width: 1280, Height: 720,
		CompositionHint: "Compose for a WIDE LANDSCAPE (16:9) frame with the scene extending horizontally on both sides.",
	},
	{
		ID: "fb-post", Label: "FB Post", Platform: "Facebook Post", Width: 1200, Height: 628,
		CompositionHint: "Compose for a WIDE LANDSCAPE (1.91:1) frame with the product centered and background extending to both sides.",
	},
	{
		ID: "pinterest", Label: "Pinterest", Platform: "Pinterest Pin", Width: 1000, Height: 1500,
		CompositionHint: "Compose for a TALL (2:3) frame with generous vertical space above and below the product.",
	},
}

// DefaultAspectRatio is used when no ratio, or an unknown one, is requested.
var DefaultAspectRatio = AspectRatios[0]

// AspectRatioByID returns the ratio with id, or the default and false.
func AspectRatioByID(id string) (AspectRatio, bool) {
	for _, r := range AspectRatios {
		if r.ID == id {
			return r, true
		}
	}
	return DefaultAspectRatio, false
}

// Style is a studio scene preset.
type Style struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Prompt string `json:"-"`
}

var Styles = []Style{
	{ID: "clean_white", Label: "Clean White", Prompt: "Professional product photo on a pure white background, studio lighting, commercial quality, centered composition"},
	{ID: "lifestyle", Label: "Lifestyle", Prompt: "Lifestyle product photography in a natural setting, warm ambient lighting, editorial style"},
	{ID: "luxury", Label: "Luxury", Prompt: "Luxury product photography, dark moody background, dramatic lighting, premium high-end feel"},
	{ID: "nature", Label: "Nature", Prompt: "Product on a natural surface with botanical elements, soft daylight, organic aesthetic"},
	{ID: "minimal", Label: "Minimal", Prompt: "Minimalist product shot, clean gradient background, single light source, modern aesthetic"},
	{ID: "festive", Label: "Festive", Prompt: "Festive product photography, warm golden tones, bokeh lights, celebration mood"},
}

// StyleByID looks up a style preset.
func StyleByID(id string) (Style, bool) {
	for _, s := range Styles {
		if s.ID == id {
			return s, true
		}
	}
	return Style{}, false
}
