// Package worker turns pending uploads into result documents.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/deckexplain/internal/blob"
	"github.com/kalambet/deckexplain/internal/explain"
	"github.com/kalambet/deckexplain/internal/observability"
	"github.com/kalambet/deckexplain/internal/slides"
	"github.com/kalambet/deckexplain/internal/storage"
)

const defaultPollInterval = 10 * time.Second

// Failure reasons recorded for uploads that can never be processed.
const (
	ReasonUnsupportedFile = "unsupported file extension"
	ReasonMissingFile     = "uploaded file missing"
)

// JobStore abstracts the job store operations the worker needs.
type JobStore interface {
	ListPendingUploads(ctx context.Context) ([]storage.Upload, error)
	MarkDone(ctx context.Context, uid string, at time.Time) error
	MarkFailed(ctx context.Context, uid, reason string) error
	RecordAttemptFailure(ctx context.Context, uid, errMsg string, maxAttempts int) (string, error)
}

// Explainer generates explanations for a deck's slides.
type Explainer interface {
	ExplainAll(ctx context.Context, ss []slides.Slide) ([]explain.SlideExplanation, error)
}

type Options struct {
	// PollInterval is the sleep between scans of the pending uploads.
	PollInterval time.Duration
	// MaxAttempts moves an upload to failed after that many processing
	// errors; 0 retries forever.
	MaxAttempts int
}

// Worker processes pending uploads from the job store. Only one worker may
// run against a store at a time.
type Worker struct {
	store     JobStore
	uploads   blob.Store
	results   blob.Store
	explainer Explainer
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
	tracer    *observability.Tracer
	metrics   *observability.Metrics
}

func NewWorker(store JobStore, uploads, results blob.Store, explainer Explainer, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Worker{
		store:     store,
		uploads:   uploads,
		results:   results,
		explainer: explainer,
		opts:      opts,
		now:       time.Now,
		logger:    slog.Default(),
		tracer:    observability.DefaultTracer(),
		metrics:   observability.DefaultMetrics(),
	}
}

// Run scans for pending uploads every poll interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "poll_interval", w.opts.PollInterval, "max_attempts", w.opts.MaxAttempts)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		} else if n > 0 {
			w.logger.Info("worker iteration finished", "processed", n)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// RunOnce processes every upload that is pending at the time of the call,
// oldest first. It returns how many uploads left the pending state.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	pending, err := w.store.ListPendingUploads(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending uploads: %w", err)
	}

	finished := 0
	for _, up := range pending {
		if ctx.Err() != nil {
			return finished, nil
		}
		if w.handle(ctx, up) {
			finished++
		}
	}
	return finished, nil
}

// handle processes one upload and reports whether it reached a terminal state.
func (w *Worker) handle(ctx context.Context, up storage.Upload) bool {
	ctx, span := w.tracer.StartJob(ctx, up.UID, up.Filename)
	defer span.End()
	log := w.logger.With("uid", up.UID, "filename", up.Filename)
	start := w.now()

	format, ok := slides.FormatOf(up.Filename)
	if !ok {
		log.Warn("unsupported upload, marking failed")
		return w.fail(ctx, up.UID, ReasonUnsupportedFile)
	}

	data, err := w.uploads.Get(ctx, blob.UploadKey(up.UID, up.Filename))
	if errors.Is(err, blob.ErrNotExist) {
		log.Warn("uploaded file missing, marking failed")
		return w.fail(ctx, up.UID, ReasonMissingFile)
	}
	if err == nil {
		err = w.process(ctx, up, format, data)
	}

	if err != nil {
		if ctx.Err() != nil {
			log.Info("processing interrupted, leaving pending", "error", err)
			return false
		}
		observability.RecordError(span, err)
		return w.recordFailure(ctx, log, up.UID, err)
	}

	w.metrics.RecordJobDone(ctx, w.now().Sub(start))
	log.Info("upload processed")
	return true
}

func (w *Worker) process(ctx context.Context, up storage.Upload, format slides.Format, data []byte) error {
	deck, err := slides.ExtractBytes(data, format)
	if err != nil {
		return fmt.Errorf("extracting slides: %w", err)
	}
	observability.SetSlideCount(ctx, len(deck))

	explanations, err := w.explainer.ExplainAll(ctx, deck)
	if err != nil {
		return fmt.Errorf("explaining slides: %w", err)
	}
	if explanations == nil {
		explanations = []explain.SlideExplanation{}
	}

	doc, err := json.MarshalIndent(explanations, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding result document: %w", err)
	}
	if err := w.results.Put(ctx, blob.ResultKey(up.UID), doc); err != nil {
		return fmt.Errorf("writing result document: %w", err)
	}

	if err := w.store.MarkDone(ctx, up.UID, w.now()); err != nil {
		return fmt.Errorf("marking done: %w", err)
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, uid, reason string) bool {
	if err := w.store.MarkFailed(ctx, uid, reason); err != nil {
		w.logger.Error("failed to mark upload as failed", "uid", uid, "error", err)
		return false
	}
	w.metrics.RecordJobFailure(ctx, true)
	return true
}

func (w *Worker) recordFailure(ctx context.Context, log *slog.Logger, uid string, cause error) bool {
	st, err := w.store.RecordAttemptFailure(ctx, uid, cause.Error(), w.opts.MaxAttempts)
	if err != nil {
		log.Error("failed to record processing failure", "error", err, "cause", cause)
		return false
	}
	terminal := st == storage.StatusFailed
	w.metrics.RecordJobFailure(ctx, terminal)
	if terminal {
		log.Error("processing failed, giving up", "error", cause)
	} else {
		log.Warn("processing failed, will retry", "error", cause)
	}
	return terminal
}
