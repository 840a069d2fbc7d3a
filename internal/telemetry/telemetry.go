// Package telemetry installs the global OpenTelemetry MeterProvider that
// backs the package-level counters registered in internal/monitor and
// internal/httpapi (the "events ingested, SSE clients, monitor
// escalations" instruments named in SPEC_FULL.md's domain-stack table),
// mirroring the teacher's internal/storage/dolt package, which registers
// its metric instruments against the global otel.Meter(...) at init time
// and expects a real provider to be installed later by a telemetry.Init()
// call — that call lives here, since the teacher's own telemetry package
// wasn't part of the retrieved pack.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Init installs the global MeterProvider: an OTLP/HTTP exporter when
// OTEL_EXPORTER_OTLP_ENDPOINT is set, otherwise a stdout exporter for
// local development. The returned shutdown func flushes and tears down
// the provider; callers should defer it.
func Init(ctx context.Context) (shutdown func(context.Context) error, err error) {
	reader, err := newReader(ctx)
	if err != nil {
		return nil, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

func newReader(ctx context.Context) (metric.Reader, error) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, err
		}
		return metric.NewPeriodicReader(exp, metric.WithInterval(30*time.Second)), nil
	}

	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	return metric.NewPeriodicReader(exp, metric.WithInterval(30*time.Second)), nil
}
