// Package explain turns extracted slides into natural-language explanations.
package explain

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/deckexplain/internal/completion"
	"github.com/kalambet/deckexplain/internal/observability"
	"github.com/kalambet/deckexplain/internal/slides"
)

const (
	defaultCooldown  = 60 * time.Second
	defaultMaxTokens = 1024
)

// SlideExplanation is one entry of a result document.
type SlideExplanation struct {
	SlideNumber int    `json:"slide_number"`
	Explanation string `json:"explanation"`
}

// Completer is the subset of the completion client the generator needs.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (completion.Response, error)
}

type Options struct {
	Model     string
	MaxTokens int
	// Cooldown is the wait after a rate-limited call before retrying.
	Cooldown time.Duration
	// Concurrency caps in-flight slide calls in ExplainAll; 0 means no cap.
	Concurrency int
}

// Generator produces explanations through a completion API.
type Generator struct {
	client  Completer
	opts    Options
	logger  *slog.Logger
	tracer  *observability.Tracer
	metrics *observability.Metrics
}

func NewGenerator(client Completer, opts Options) *Generator {
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return &Generator{
		client:  client,
		opts:    opts,
		logger:  slog.Default(),
		tracer:  observability.DefaultTracer(),
		metrics: observability.DefaultMetrics(),
	}
}

// Prompt builds the completion prompt for s.
func Prompt(s slides.Slide) string {
	var b strings.Builder
	b.WriteString("Slide ")
	b.WriteString(strconv.Itoa(s.Number))
	b.WriteString(":")
	for _, t := range s.Texts {
		b.WriteString("\n")
		b.WriteString(t)
	}
	b.WriteString("\n\nAI, please explain the slide.")
	return b.String()
}

// Explain returns the explanation for one slide. Rate-limited calls are
// retried after the cooldown until they succeed or ctx is done. Every other
// failure is logged and yields "".
func (g *Generator) Explain(ctx context.Context, s slides.Slide) string {
	ctx, span := g.tracer.StartSlide(ctx, s.Number)
	defer span.End()

	req := completion.Request{
		Model:     g.opts.Model,
		Prompt:    Prompt(s),
		MaxTokens: g.opts.MaxTokens,
	}

	for {
		g.logger.Debug("explaining slide", "slide", s.Number)
		resp, err := g.client.Complete(ctx, req)
		if err == nil {
			g.metrics.RecordCompletion(ctx, observability.OutcomeOK)
			return resp.Text()
		}

		switch {
		case completion.IsRateLimit(err):
			g.metrics.RecordCompletion(ctx, observability.OutcomeRateLimit)
			g.logger.Warn("rate limit exceeded, waiting before retry", "slide", s.Number, "cooldown", g.opts.Cooldown)
			select {
			case <-ctx.Done():
				observability.RecordError(span, ctx.Err())
				return ""
			case <-time.After(g.opts.Cooldown):
			}
			continue
		case completion.IsAuth(err):
			g.metrics.RecordCompletion(ctx, observability.OutcomeAuth)
			g.logger.Error("invalid API key", "slide", s.Number, "error", err)
		case completion.IsTimeout(err):
			g.metrics.RecordCompletion(ctx, observability.OutcomeTimeout)
			g.logger.Error("completion request timed out", "slide", s.Number, "error", err)
		default:
			g.metrics.RecordCompletion(ctx, observability.OutcomeError)
			g.logger.Error("completion request failed", "slide", s.Number, "error", err)
		}
		observability.RecordError(span, err)
		return ""
	}
}

// ExplainAll explains every slide concurrently and returns the results in
// input order. The only error is ctx's.
func (g *Generator) ExplainAll(ctx context.Context, ss []slides.Slide) ([]SlideExplanation, error) {
	results := make([]SlideExplanation, len(ss))

	eg, egCtx := errgroup.WithContext(ctx)
	if g.opts.Concurrency > 0 {
		eg.SetLimit(g.opts.Concurrency)
	}
	for i, s := range ss {
		eg.Go(func() error {
			results[i] = SlideExplanation{
				SlideNumber: s.Number,
				Explanation: g.Explain(egCtx, s),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
