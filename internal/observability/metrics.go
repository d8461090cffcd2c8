// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"net/http"
	"sync"

	"flowplane/internal/logger"

	"github.com/cockroachdb/errors"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// Each call uses its own registry, so it can be called more than once per process.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, errors.Wrap(err, "create prometheus exporter")
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), provider.Shutdown, nil
}

// Counters creates Int64Counters on first use and increments them by name.
type Counters struct {
	meter metric.Meter
	log   *zap.SugaredLogger

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
}

// NewCounters creates Counters on meter. A nil meter uses the global provider.
func NewCounters(meter metric.Meter, log *zap.SugaredLogger) *Counters {
	if meter == nil {
		meter = otel.Meter("flowplane")
	}
	return &Counters{meter: meter, log: logger.OrNop(log), counters: make(map[string]metric.Int64Counter)}
}

// Inc adds one to the counter called name. Failures are logged.
func (c *Counters) Inc(ctx context.Context, name string) {
	counter, err := c.counter(name)
	if err != nil {
		c.log.Warnw("Failed to create counter", "name", name, "error", err)
		return
	}
	counter.Add(ctx, 1)
}

func (c *Counters) counter(name string) (metric.Int64Counter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, ok := c.counters[name]; ok {
		return counter, nil
	}
	counter, err := c.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	c.counters[name] = counter
	return counter, nil
}
