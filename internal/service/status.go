package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/deckexplain/internal/blob"
	"github.com/kalambet/deckexplain/internal/explain"
	"github.com/kalambet/deckexplain/internal/observability"
	"github.com/kalambet/deckexplain/internal/status"
	"github.com/kalambet/deckexplain/internal/storage"
)

// StatusStore is the subset of the job store used by StatusReader.
type StatusStore interface {
	GetUpload(ctx context.Context, uid string) (storage.Upload, error)
	LatestUpload(ctx context.Context, email, filename string) (storage.Upload, error)
}

// StatusReader builds status reports from the job store and result documents.
// It never recomputes anything.
type StatusReader struct {
	store   StatusStore
	results blob.Store
	logger  *slog.Logger
}

func NewStatusReader(store StatusStore, results blob.Store) *StatusReader {
	return &StatusReader{store: store, results: results, logger: slog.Default()}
}

func (r *StatusReader) Status(ctx context.Context, uid string) (status.Report, error) {
	m := observability.StartServerTiming(ctx, "db")
	up, err := r.store.GetUpload(ctx, uid)
	m.Stop()
	if errors.Is(err, storage.ErrNotFound) {
		return status.NotFoundReport(), nil
	}
	if err != nil {
		return status.Report{}, fmt.Errorf("looking up upload %s: %w", uid, err)
	}
	return r.report(ctx, up), nil
}

// Latest reports on the most recent upload of filename by the user with
// email. Unknown users and filenames are reported as not found.
func (r *StatusReader) Latest(ctx context.Context, email, filename string) (status.Report, error) {
	if email == "" || filename == "" {
		return status.NotFoundReport(), nil
	}

	m := observability.StartServerTiming(ctx, "db")
	up, err := r.store.LatestUpload(ctx, email, filename)
	m.Stop()
	if errors.Is(err, storage.ErrNotFound) {
		return status.NotFoundReport(), nil
	}
	if err != nil {
		return status.Report{}, fmt.Errorf("looking up latest upload: %w", err)
	}
	return r.report(ctx, up), nil
}

func (r *StatusReader) report(ctx context.Context, up storage.Upload) status.Report {
	rep := status.Report{
		Status:    up.Status,
		Filename:  up.Filename,
		Timestamp: status.FormatTime(up.UploadTime),
	}

	switch up.Status {
	case storage.StatusDone:
		rep.FinishTime = status.FormatTime(up.FinishTime)
		rep.Explanation = r.loadExplanation(ctx, up.UID)
	case storage.StatusFailed:
		rep.Error = up.LastError
	}
	return rep
}

// loadExplanation reads the result document of a done upload. A missing or
// unreadable document is an inconsistency; it is logged and the report goes
// out without an explanation.
func (r *StatusReader) loadExplanation(ctx context.Context, uid string) []explain.SlideExplanation {
	m := observability.StartServerTiming(ctx, "blob")
	data, err := r.results.Get(ctx, blob.ResultKey(uid))
	m.Stop()
	if err != nil {
		r.logger.Error("result document unavailable for done upload", "uid", uid, "error", err)
		return nil
	}

	var out []explain.SlideExplanation
	if err := json.Unmarshal(data, &out); err != nil {
		r.logger.Error("result document is corrupt", "uid", uid, "error", err)
		return nil
	}
	return out
}
