package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sorapixel/internal/domain"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestFileStorePutAndRead(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, err := fs.Put(context.Background(), "/acc/../acc/img.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "acc/img.png", key)

	data, err := fs.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	_, err = fs.Read(context.Background(), "acc/missing.png")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = fs.Put(context.Background(), "../escape.png", []byte("x"), "")
	assert.Error(t, err)
}

func TestArtifactUploaderKeyLayout(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	up := NewArtifactUploader(fs)
	up.newID = func() string { return "fixed" }

	data := pngBytes(t)
	stored, err := up.Upload(context.Background(), "acct-1", data)
	require.NoError(t, err)
	assert.Equal(t, "acct-1/fixed.png", stored.Path)
	assert.Equal(t, int64(len(data)), stored.Size)
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("bucket down")
}

func TestArtifactUploaderErrors(t *testing.T) {
	up := NewArtifactUploader(failingStore{})

	_, err := up.Upload(context.Background(), "acct", pngBytes(t))
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.True(t, strings.Contains(err.Error(), "bucket down"))

	_, err = up.Upload(context.Background(), "a/b", pngBytes(t))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = up.Upload(context.Background(), "acct", nil)
	assert.ErrorIs(t, err, domain.ErrStorage)
}
