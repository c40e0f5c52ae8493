// Package blob stores uploaded decks and generated result documents.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kalambet/deckexplain/internal/config"
)

// ErrNotExist is returned by Get when no object is stored under the key.
var ErrNotExist = errors.New("blob does not exist")

// Store is a flat key/value object store. Keys never contain path separators.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Open returns the upload and output stores selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg config.Config) (uploads, outputs Store, err error) {
	switch cfg.Storage.Backend {
	case "fs":
		if uploads, err = NewDirStore(cfg.Storage.UploadDir); err != nil {
			return nil, nil, err
		}
		if outputs, err = NewDirStore(cfg.Storage.OutputDir); err != nil {
			return nil, nil, err
		}
		return uploads, outputs, nil
	case "s3":
		client, err := NewS3Client(cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		if err := EnsureBucket(ctx, client, cfg.S3.Bucket); err != nil {
			return nil, nil, err
		}
		return NewMinIOStore(client, cfg.S3.Bucket, "uploads/"), NewMinIOStore(client, cfg.S3.Bucket, "outputs/"), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// UploadKey is the key of the uploaded deck for uid. The extension of the
// original filename is kept, lower-cased.
func UploadKey(uid, filename string) string {
	return uid + strings.ToLower(filepath.Ext(filename))
}

// ResultKey is the key of the result document for uid.
func ResultKey(uid string) string {
	return uid + ".json"
}

func validKey(key string) error {
	if key == "" || key == "." || key == ".." || filepath.Base(key) != key {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}
