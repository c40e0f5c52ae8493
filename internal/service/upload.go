// Package service holds the upload and status operations shared by the HTTP
// API, the MCP server and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/deckexplain/internal/blob"
	"github.com/kalambet/deckexplain/internal/observability"
	"github.com/kalambet/deckexplain/internal/slides"
	"github.com/kalambet/deckexplain/internal/storage"
)

var (
	ErrNoFile          = errors.New("no file part")
	ErrUnsupportedFile = errors.New("unsupported file type: expected .pptx or .pdf")
)

type UploadRequest struct {
	Filename string
	Body     io.Reader
	// Email is optional; when set the upload is attributed to that user.
	Email string
}

// UploadStore is the subset of the job store used by Uploader.
type UploadStore interface {
	CreateUpload(ctx context.Context, uid, filename, email string, at time.Time) (storage.Upload, error)
}

type Uploader struct {
	store   UploadStore
	blobs   blob.Store
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewUploader(store UploadStore, blobs blob.Store) *Uploader {
	return &Uploader{
		store:   store,
		blobs:   blobs,
		now:     time.Now,
		logger:  slog.Default(),
		metrics: observability.DefaultMetrics(),
	}
}

// Upload stores the deck and records a pending job for it, returning the
// job's uid. Rejected requests leave no trace.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (string, error) {
	if req.Body == nil || req.Filename == "" {
		return "", ErrNoFile
	}
	if _, ok := slides.FormatOf(req.Filename); !ok {
		return "", ErrUnsupportedFile
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}

	uid := uuid.NewString()
	key := blob.UploadKey(uid, req.Filename)

	m := observability.StartServerTiming(ctx, "blob")
	err = u.blobs.Put(ctx, key, data)
	m.Stop()
	if err != nil {
		return "", fmt.Errorf("storing upload: %w", err)
	}

	m = observability.StartServerTiming(ctx, "db")
	_, err = u.store.CreateUpload(ctx, uid, req.Filename, req.Email, u.now())
	m.Stop()
	if err != nil {
		if delErr := u.blobs.Delete(ctx, key); delErr != nil {
			u.logger.Warn("removing orphaned upload", "uid", uid, "error", delErr)
		}
		return "", fmt.Errorf("recording upload: %w", err)
	}

	u.metrics.RecordUpload(ctx)
	u.logger.Info("upload accepted", "uid", uid, "filename", req.Filename, "bytes", len(data))
	return uid, nil
}
