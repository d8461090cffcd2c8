package completion

import "context"

// Counter names emitted by the engine.
const (
	MetricExecutionCount  = "worker_execution_count"
	MetricExecutionFailed = "worker_execution_failed"
)

// Metrics is a best-effort counter sink.
type Metrics interface {
	Inc(ctx context.Context, name string)
}

// NopMetrics discards all increments.
type NopMetrics struct{}

func (NopMetrics) Inc(context.Context, string) {}
