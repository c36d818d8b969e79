package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"sorapixel/pkg/zip"
)

type downloadImage struct {
	Label string `json:"label" validate:"max=200"`
	Image string `json:"image" validate:"required"`
}

type packDownloadRequest struct {
	Images []downloadImage `json:"images" validate:"required,min=1,max=20,dive"`
}

// PackDownload zips already delivered clean renditions into one archive.
// Nothing is generated or charged.
func (a *App) PackDownload(w http.ResponseWriter, r *http.Request) {
	var body packDownloadRequest
	if err := a.decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	assets := make([]zip.Asset, 0, len(body.Images))
	for i, img := range body.Images {
		src, err := decodeImage(fmt.Sprintf("images[%d].image", i), img.Image)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		assets = append(assets, zip.Asset{
			Filename: archiveName(img.Label, i),
			MIME:     mimetype.Detect(src.Data).String(),
			Data:     src.Data,
		})
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="sorapixel-pack.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// archiveName turns a display label into a filesystem-safe slug.
func archiveName(label string, idx int) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if name == "" {
		return fmt.Sprintf("image-%d", idx+1)
	}
	return name
}
