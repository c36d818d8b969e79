package pipeline

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sorapixel/internal/domain"
)

var titleCaser = cases.Title(language.English)

// displayName title-cases free-form user text for labels.
func displayName(s string) string {
	return titleCaser.String(strings.TrimSpace(s))
}

const productIsolation = `CRITICAL FIRST STEP: Product Identification & Isolation.
Analyze this image and identify the MAIN PRODUCT being showcased. It may be held in a hand, worn, placed on a messy surface or surrounded by other objects. You MUST:
1. Identify what the actual product is.
2. Extract ONLY the product itself. Remove hands, fingers, body parts, unrelated objects and the original background.
3. Use ONLY the isolated product for the final image.

`

const preserveProduct = "Keep the product EXACTLY as it is. Do not change, distort or modify it. Show ONLY the product, absolutely no hands or body parts."

// shot is one of the three pack sub-tasks.
type shot struct {
	key   string
	label string
	kind  domain.JobKind
}

var packShots = []shot{
	{key: "Hero", label: "Hero Shot", kind: domain.JobStudioHero},
	{key: "Angle", label: "Alternate Angle", kind: domain.JobStudioAngle},
	{key: "Closeup", label: "Close-up Detail", kind: domain.JobStudioCloseup},
}

// scenePrompt places the product in scene. With isolate off the product keeps
// its human context (hands, wrists, models) as the scene describes it.
func scenePrompt(scene string, isolate bool, ratio domain.AspectRatio) string {
	if !isolate {
		return fmt.Sprintf("Photograph the product from this image in this scene: %s. Keep the product EXACTLY as it is; any people, hands or bodies the scene describes belong in the shot.\n\n%s", scene, ratio.CompositionHint)
	}
	return fmt.Sprintf("%sNow place the isolated product in this scene: %s. %s\n\n%s", productIsolation, scene, preserveProduct, ratio.CompositionHint)
}

// packPrompt derives the hero, angle and closeup prompts from one scene.
func packPrompt(key string, sc RefinedScene, ratio domain.AspectRatio) string {
	base := scenePrompt(sc.Scene, sc.Isolate, ratio)
	switch key {
	case "Angle":
		return base + "\n\nShow the product from a different angle: a 3/4 perspective view, slightly rotated to reveal more of its shape, depth and form, as if seen from a slightly elevated side. Lighting must match the scene."
	case "Closeup":
		return base + "\n\nCreate a close-up detail shot. Zoom in on the texture, material quality, surface finish and craftsmanship. Macro style with shallow depth of field; the background softly blurred and the product details tack-sharp."
	default:
		return base
	}
}

func metalRecolorPrompt(color string) string {
	return fmt.Sprintf(`You are a professional jewelry retoucher. Change ONLY the metal color to: %q.

METAL (change these): band, chain links, prongs, settings, clasps, wire, frame, bezel, hook, post, back, bail.

NOT METAL (leave every pixel unchanged): diamonds, gemstones, pearls, enamel, inlay work, background, skin, clothing.

COLOR TARGET: %q. A hex code means that exact metallic hue; a name such as "rose gold" means a realistic metallic finish in that color.

Keep natural reflections, highlights and shadows. Only shift the metal hue; never flatten or paint it.

OUTPUT: the same image with only the metal color changed.`, color, color)
}

func restoreStonesPrompt(color string) string {
	return fmt.Sprintf(`You are given two images of the same piece of jewelry.
IMAGE 1 is the ORIGINAL photo. IMAGE 2 is a recolored version whose metal is now %q.

Produce IMAGE 2 again with these rules:
- Keep the metal exactly as in IMAGE 2, including its %q color, reflections and luster.
- Restore every NON-METAL region (stones, gems, pearls, enamel, background, skin, fabric) to its exact color from IMAGE 1.
- Do not move, resize or redraw anything. Geometry must match both images pixel for pixel.

OUTPUT: one image, metal from IMAGE 2, everything else from IMAGE 1.`, color, color)
}

const hdPrompt = `Regenerate this exact image at the highest resolution and detail you can produce.
Keep composition, colors, lighting, text and the product identical. Add fine surface detail and crisp edges only; do not add, remove or move anything.`

func featuresPrompt(properties string) string {
	return productIsolation + `Now, using the isolated product, create a professional e-commerce product feature infographic.

For each feature below:
- If it describes a VISIBLE part of the product, draw a circular callout on that exact area, connected by a thin line, labeled with the exact text.
- If it is a general property (e.g. "BPA Free", "Dishwasher Safe"), show it as a clean badge placed around the product instead of a callout.

Show the product prominently on a clean soft-colored background.

FEATURE TEXT, render each EXACTLY as written without rephrasing or omitting:

` + properties + `

` + preserveProduct + ` All text must be sharp and legible.`
}

func dimensionsPrompt(dimensions string) string {
	return productIsolation + `Now, using the isolated product, create a professional e-commerce dimensions infographic.

AXIS RULES:
- "Height" is VERTICAL: a vertical line from the top edge to the bottom edge, label to its right.
- "Width" and "Length" are HORIZONTAL: a horizontal line from the left edge to the right edge, label below.
- "Diameter" is a horizontal line across the widest circular section.
- "Depth" or "Thickness" is a short angled line.
Never put a height label on a horizontal line or a width label on a vertical one.

Non-spatial values (weight, capacity, material, wattage) are badges near the product, never lines.
Every dimension line has arrows at both ends touching the product edges. Lines must not overlap. Use a clean white background.

MEASUREMENT TEXT, render EXACTLY as written:

` + dimensions + `

` + preserveProduct + ` All text must be sharp and match the input exactly.`
}

const listingSchema = `{
  "title": "Product title, 50-65 characters, describing design and style",
  "description": "<p>What the piece is.</p><p>How to wear or use it.</p><ul><li>Material: ...</li><li>Stones: ...</li><li>Closure: ...</li></ul>",
  "metaDescription": "140-155 character meta description",
  "altText": "Under 125 character descriptive alt text",
  "attributes": {
    "jewelryMaterial": "Metal",
    "gemstoneType": "Cubic Zirconia / Pearl / Glass Crystal / empty string",
    "collection": "Minimal / Bold / Glam / Romance",
    "occasion": "Occasion1, Occasion2",
    "material": "Base metal with tone or finish",
    "stone": "Stone type or None",
    "closure": "Closure type or empty string"
  }
}`

const listingVoice = `You are a product copywriter for a fashion jewelry brand selling plated and alloy pieces online.
Write clear, direct, warm copy. No flowery language, no over-promises.
Never imply solid precious metals or real gemstones: write "gold-tone", "rhodium finish", "CZ" and never the words "plated" or "plating".
The title must not contain metal or stone words. If an attribute cannot be determined from the image, use "[TBD]".`

func listingPrompt() string {
	return listingVoice + `

TASK: Analyze the product image and generate a complete, store-ready listing.

OUTPUT FORMAT (strict JSON with exactly these fields, nothing else):
` + listingSchema
}

func regenerateListingPrompt(prev *Listing, instructions string) string {
	var b strings.Builder
	b.WriteString(listingVoice)
	b.WriteString("\n\nTASK: The seller wants a fresh version of this listing for the product in the image.")
	if prev != nil {
		fmt.Fprintf(&b, "\n\nCURRENT TITLE: %q\nCURRENT DESCRIPTION: %q", prev.Title, prev.Description)
	}
	if s := strings.TrimSpace(instructions); s != "" {
		fmt.Fprintf(&b, "\n\nSELLER INSTRUCTIONS: %s", s)
	}
	b.WriteString("\nRespect the seller's intent while improving clarity and search visibility.\n\nOUTPUT FORMAT (strict JSON with exactly these fields, nothing else):\n")
	b.WriteString(listingSchema)
	return b.String()
}

func refineScenePrompt(raw string) string {
	return fmt.Sprintf(`You are a product photography director. Rewrite the user's casual request into a professional scene brief and decide whether the product should be isolated.

USER REQUEST: %q

ISOLATE is true when the product should sit on a surface, in a studio or in an environment without people. ISOLATE is false when the request puts the product in a hand, on a body or in any human interaction.

Answer with exactly one JSON object and nothing else:
{"scene": "2-4 sentences covering surface or background, lighting, mood and camera angle", "isolate": true}

When isolate is false the scene must describe the human context too, for example "held in a child's hand".`, raw)
}

// JewelryTypes lists the accepted try-on jewelry types.
var JewelryTypes = []string{"necklace", "earring", "bracelet", "ring"}

var tryOnPlacement = map[string]string{
	"necklace": "around the person's neck, draping naturally along the neckline",
	"earring":  "on the person's ear, on both ears if it is a pair, hanging naturally with gravity",
	"bracelet": "around the person's wrist; if no wrist is visible, pose the arm naturally so the bracelet shows",
	"ring":     "on a suitable finger; if no hand is visible, pose the hand elegantly so the ring shows",
}

func tryOnPrompt(jewelryType string, ratio domain.AspectRatio) string {
	return fmt.Sprintf(`The FIRST image is a %[1]s. The SECOND image is a photo of a person.

Generate a hyper-realistic photograph of this exact person wearing this exact %[1]s, placed %[2]s.
- The person's face, hair, skin tone, clothing, body and pose stay identical.
- The %[1]s keeps its exact design, color, material, stones and every detail.
- Match the lighting, color temperature and shadows of the person photo, with realistic shadows and reflections where the jewelry meets skin or clothing.
- Perspective and scale follow the person's pose.
- The result must be indistinguishable from a real photograph.

COMPOSITION: %[3]s`, jewelryType, tryOnPlacement[jewelryType], ratio.CompositionHint)
}
