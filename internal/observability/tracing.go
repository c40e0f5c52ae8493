package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with pipeline-specific span helpers.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// DefaultTracer uses the globally registered TracerProvider.
func DefaultTracer() *Tracer {
	return NewTracer(otel.GetTracerProvider())
}

// StartJob starts a span covering one upload processed by the worker.
func (t *Tracer) StartJob(ctx context.Context, uid, filename string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "deckexplain.job", trace.WithAttributes(
		UploadUIDAttr(uid),
		attribute.String(AttrFilename, filename),
	))
}

// StartSlide starts a span for one slide explanation, including retries.
func (t *Tracer) StartSlide(ctx context.Context, number int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "deckexplain.explain_slide", trace.WithAttributes(SlideNumberAttr(number)))
}

// SetSlideCount records how many slides were extracted on the span in ctx.
func SetSlideCount(ctx context.Context, n int) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(AttrSlideCount, n))
}

// RecordError marks span as failed with err.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
