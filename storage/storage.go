package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"profai-backend/config"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Download when nothing is stored under a path.
var ErrObjectNotFound = errors.New("stored file not found")

// Storage keeps the raw course uploads until their ingest job has run.
type Storage interface {
	// Upload stores a file and returns its storage path.
	Upload(ctx context.Context, fileID uuid.UUID, filename string, data io.Reader) (string, error)
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)
	Delete(ctx context.Context, storagePath string) error
}

const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// New returns the backend selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case TypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	case TypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("an S3 bucket is required for s3 storage")
		}
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// objectPath spreads uploads over 256 prefixes and keeps the original
// name readable: "ab/abcd...-uuid_lecture_notes.pdf".
func objectPath(fileID uuid.UUID, filename string) string {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	base = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_").Replace(base)
	if base == "" {
		base = "upload"
	}
	id := fileID.String()
	return fmt.Sprintf("%s/%s_%s%s", id[:2], id, base, strings.ToLower(ext))
}
