package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "prdforge"

// Metrics holds all prdforge metric instruments.
type Metrics struct {
	ProviderCalls    metric.Int64Counter
	ProviderFailures metric.Int64Counter
	Generations      metric.Int64Counter
	Clarifications   metric.Int64Counter
	StageDuration    metric.Float64Histogram
	QualityScore     metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates all metric instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ProviderCalls, err = meter.Int64Counter("prdforge.provider.calls",
		metric.WithDescription("Provider calls attempted"))
	if err != nil {
		return nil, err
	}

	m.ProviderFailures, err = meter.Int64Counter("prdforge.provider.failures",
		metric.WithDescription("Provider calls that failed, by error kind"))
	if err != nil {
		return nil, err
	}

	m.Generations, err = meter.Int64Counter("prdforge.generations",
		metric.WithDescription("Finished generate calls, by status"))
	if err != nil {
		return nil, err
	}

	m.Clarifications, err = meter.Int64Counter("prdforge.clarifications",
		metric.WithDescription("Resolved clarification questions, by source"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("prdforge.stage.duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.QualityScore, err = meter.Float64Histogram("prdforge.quality.composite",
		metric.WithDescription("Composite quality score of delivered documents"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
