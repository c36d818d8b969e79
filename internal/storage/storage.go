package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"sorapixel/internal/domain"
)

// ObjectStore is the minimal blob API shared by the filesystem and S3 drivers.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Stored describes a persisted artifact.
type Stored struct {
	Path string
	Size int64
}

// ArtifactUploader names artifacts per account and writes them to a store.
type ArtifactUploader struct {
	store ObjectStore
	newID func() string
}

func NewArtifactUploader(store ObjectStore) *ArtifactUploader {
	return &ArtifactUploader{store: store, newID: uuid.NewString}
}

// Upload writes data as {accountID}/{uuid}{ext}.
func (u *ArtifactUploader) Upload(ctx context.Context, accountID string, data []byte) (Stored, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" || strings.ContainsAny(accountID, `/\`) {
		return Stored{}, domain.Invalid("account_id", "must be a single path segment")
	}
	if len(data) == 0 {
		return Stored{}, fmt.Errorf("storage: empty artifact: %w", domain.ErrStorage)
	}
	mt := mimetype.Detect(data)
	key := path.Join(accountID, u.newID()+extension(mt))
	stored, err := u.store.Put(ctx, key, data, mt.String())
	if err != nil {
		return Stored{}, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return Stored{Path: stored, Size: int64(len(data))}, nil
}

func extension(mt *mimetype.MIME) string {
	switch {
	case mt.Is("image/png"):
		return ".png"
	case mt.Is("image/jpeg"):
		return ".jpg"
	case mt.Is("image/webp"):
		return ".webp"
	case mt.Extension() != "":
		return mt.Extension()
	default:
		return ".bin"
	}
}
