// ABOUTME: OpenTelemetry provider type and the New constructor for flashring telemetry
// ABOUTME: New validates the config and returns the no-op Telemetry; no SDK providers are set up

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TelemetryProvider holds OpenTelemetry SDK meter and tracer provider fields.
// It has no methods, does not implement Telemetry, and is not constructed by
// New.
type TelemetryProvider struct {
	config         Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	tracer         oteltrace.Tracer
	resource       *sdkresource.Resource
}

// New returns the no-op Telemetry when cfg.Enabled is false, an error when
// cfg fails Validate, and the no-op Telemetry for every other config.
func New(cfg Config) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	// For now, return a no-op implementation until the OpenTelemetry API is properly configured
	// TODO: Implement full OpenTelemetry provider setup
	return NewNoop(), nil
}

// TODO: Implement full OpenTelemetry provider with proper API once interfaces are stable
