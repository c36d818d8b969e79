package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func readArchive(t *testing.T, data []byte) *zip.Reader {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	return zr
}

func TestArchiveAssets(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "hero.png", Data: []byte("one")},
		{Filename: "../../etc/hero.png", Data: []byte("two")},
		{Filename: "", Data: []byte("three")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets() error: %v", err)
	}
	zr := readArchive(t, data)
	want := map[string]string{"hero.png": "one", "hero-2.png": "two", "image-3": "three"}
	if len(zr.File) != len(want) {
		t.Fatalf("archive has %d files, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if want[f.Name] != string(body) {
			t.Errorf("%s = %q, want %q", f.Name, body, want[f.Name])
		}
	}
}

func TestArchiveAssetsSuffixSkipsTakenNames(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "a.png", Data: []byte("1")},
		{Filename: "a.png", Data: []byte("2")},
		{Filename: "a-2.png", Data: []byte("3")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets() error: %v", err)
	}
	zr := readArchive(t, data)
	var names []string
	seen := map[string]bool{}
	for _, f := range zr.File {
		if seen[f.Name] {
			t.Fatalf("duplicate entry %q", f.Name)
		}
		seen[f.Name] = true
		names = append(names, f.Name)
	}
	want := []string{"a.png", "a-2.png", "a-2-2.png"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestArchiveAssetsUsesMIME(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "hero-shot", MIME: "image/png", Data: []byte("1")},
		{Filename: "detail.jpg", MIME: "image/jpeg", Data: []byte("2")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets() error: %v", err)
	}
	zr := readArchive(t, data)
	if got := zr.File[0].Name; got != "hero-shot.png" {
		t.Errorf("name = %q, want hero-shot.png", got)
	}
	if got := zr.File[0].Comment; got != "image/png" {
		t.Errorf("comment = %q, want image/png", got)
	}
	if got := zr.File[1].Name; got != "detail.jpg" {
		t.Errorf("name = %q, want detail.jpg", got)
	}
}
