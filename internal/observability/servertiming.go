package observability

import (
	"context"
	"net/http"

	servertiming "github.com/mitchellh/go-server-timing"
)

// ServerTimingMetric wraps the server-timing library's Metric type.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// Stop stops the timing metric.
func (m *ServerTimingMetric) Stop() {
	if m != nil && m.metric != nil {
		m.metric.Stop()
	}
}

// StartServerTiming starts a metric on the request's Server-Timing header.
// Outside of ServerTiming middleware it returns a no-op metric.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	timing := servertiming.FromContext(ctx)
	if timing == nil {
		return &ServerTimingMetric{}
	}
	return &ServerTimingMetric{metric: timing.NewMetric(name).Start()}
}

// ServerTiming is chi-compatible middleware that emits the Server-Timing header.
func ServerTiming(next http.Handler) http.Handler {
	return servertiming.Middleware(next, nil)
}
