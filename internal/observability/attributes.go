// Package observability wires OpenTelemetry tracing and metrics and the
// Server-Timing header into the pipeline.
//
// Instruments are created from the global providers, which are no-ops until
// the embedding program installs an SDK.
package observability

import "go.opentelemetry.io/otel/attribute"

const (
	TracerName = "github.com/kalambet/deckexplain"
	MeterName  = "github.com/kalambet/deckexplain"
)

const (
	AttrUploadUID   = "deckexplain.upload.uid"
	AttrFilename    = "deckexplain.upload.filename"
	AttrSlideNumber = "deckexplain.slide.number"
	AttrSlideCount  = "deckexplain.slide.count"
	AttrOutcome     = "deckexplain.outcome"
)

// Completion call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeRateLimit = "rate_limited"
	OutcomeAuth      = "auth_error"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

func UploadUIDAttr(uid string) attribute.KeyValue {
	return attribute.String(AttrUploadUID, uid)
}

func SlideNumberAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrSlideNumber, n)
}
