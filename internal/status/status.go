// Package status defines the report returned by the status endpoints and
// decoded by the client.
package status

import (
	"encoding/json"
	"time"

	"github.com/kalambet/deckexplain/internal/explain"
)

// TimeFormat is the wire layout of Report timestamps.
const TimeFormat = time.RFC3339

const (
	Pending  = "pending"
	Done     = "done"
	Failed   = "failed"
	NotFound = "not found"
)

// Report describes one upload. Only Status is set when the upload is unknown.
// Explanation is present only when Status is Done and the result document
// could be read; Error only when Status is Failed.
type Report struct {
	Status      string                     `json:"status"`
	Filename    string                     `json:"filename,omitempty"`
	Timestamp   string                     `json:"timestamp,omitempty"`
	Explanation []explain.SlideExplanation `json:"explanation,omitempty"`
	FinishTime  string                     `json:"finish_time,omitempty"`
	Error       string                     `json:"error,omitempty"`
}

func NotFoundReport() Report {
	return Report{Status: NotFound}
}

func (r Report) IsDone() bool {
	return r.Status == Done
}

func (r Report) IsFailed() bool {
	return r.Status == Failed
}

func (r Report) IsNotFound() bool {
	return r.Status == NotFound
}

// MarshalJSON always emits explanation for done reports, as [] when the deck
// had no text slides or the result document could not be read.
func (r Report) MarshalJSON() ([]byte, error) {
	type wire Report
	if !r.IsDone() {
		return json.Marshal(wire(r))
	}
	out := struct {
		wire
		Explanation []explain.SlideExplanation `json:"explanation"`
	}{wire: wire(r), Explanation: r.Explanation}
	if out.Explanation == nil {
		out.Explanation = []explain.SlideExplanation{}
	}
	return json.Marshal(out)
}

// Finished reports whether the upload will not change state again.
func (r Report) Finished() bool {
	return r.IsDone() || r.IsFailed()
}

// UploadTime parses Timestamp. It returns the zero time for unknown uploads.
func (r Report) UploadTime() (time.Time, error) {
	return parseOptional(r.Timestamp)
}

// FinishedAt parses FinishTime. It returns the zero time until the upload is done.
func (r Report) FinishedAt() (time.Time, error) {
	return parseOptional(r.FinishTime)
}

// FormatTime renders t in TimeFormat, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

func parseOptional(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimeFormat, v)
}
