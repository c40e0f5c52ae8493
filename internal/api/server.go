// Package api exposes the upload and status operations over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/deckexplain/internal/observability"
	"github.com/kalambet/deckexplain/internal/service"
	"github.com/kalambet/deckexplain/internal/status"
)

const (
	defaultMaxUploadBytes = 50 << 20
	// multipartOverhead covers the multipart framing and the email field.
	multipartOverhead = 1 << 20
	maxMemory         = 32 << 20
)

// Uploads accepts new decks.
type Uploads interface {
	Upload(ctx context.Context, req service.UploadRequest) (string, error)
}

// Reports answers status queries.
type Reports interface {
	Status(ctx context.Context, uid string) (status.Report, error)
	Latest(ctx context.Context, email, filename string) (status.Report, error)
}

type Deps struct {
	Uploads Uploads
	Reports Reports
	// MaxUploadBytes bounds the deck size; 0 uses the default of 50MB.
	MaxUploadBytes int64
}

type UploadResponse struct {
	UID string `json:"uid"`
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(observability.ServerTiming)

	r.Get("/health", handleHealth)
	r.Post("/upload", handleUpload(deps))
	r.Get("/status/{uid}", handleStatus(deps))
	r.Get("/get_latest_upload", handleLatestUpload(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+multipartOverhead)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "upload exceeds %d bytes", deps.MaxUploadBytes)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", service.ErrNoFile)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading file part: %v", err)
			return
		}
		defer file.Close()

		if header.Size > deps.MaxUploadBytes {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "upload exceeds %d bytes", deps.MaxUploadBytes)
			return
		}

		uid, err := deps.Uploads.Upload(r.Context(), service.UploadRequest{
			Filename: header.Filename,
			Body:     file,
			Email:    r.FormValue("email"),
		})
		switch {
		case errors.Is(err, service.ErrNoFile), errors.Is(err, service.ErrUnsupportedFile):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			slog.Error("upload failed", "filename", header.Filename, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store upload")
			return
		}

		writeJSON(w, UploadResponse{UID: uid})
	}
}

// handleStatus accepts filename and email query parameters for compatibility
// with older clients; only the uid is used.
func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := chi.URLParam(r, "uid")

		rep, err := deps.Reports.Status(r.Context(), uid)
		if err != nil {
			slog.Error("status lookup failed", "uid", uid, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to look up upload")
			return
		}
		writeJSON(w, rep)
	}
}

func handleLatestUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		rep, err := deps.Reports.Latest(r.Context(), q.Get("email"), q.Get("filename"))
		if err != nil {
			slog.Error("latest upload lookup failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to look up upload")
			return
		}
		writeJSON(w, rep)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
