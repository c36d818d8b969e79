package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Asset is one file to archive. A Filename without an extension gets the one
// registered for MIME, and MIME is kept as the entry comment.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets packs assets into one zip archive. Filenames are flattened
// to their base name and clashing names get the first free numeric suffix.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	used := make(map[string]bool, len(assets))
	for i, asset := range assets {
		name := uniqueName(used, entryName(asset, i))
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Comment:  asset.MIME,
			Method:   zip.Store,
			Modified: time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

func entryName(asset Asset, idx int) string {
	name := path.Base(strings.ReplaceAll(asset.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = fmt.Sprintf("image-%d", idx+1)
	}
	if path.Ext(name) == "" && asset.MIME != "" {
		if m := mimetype.Lookup(asset.MIME); m != nil {
			name += m.Extension()
		}
	}
	return name
}

func uniqueName(used map[string]bool, name string) string {
	if !used[name] {
		used[name] = true
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, n, ext)
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}
