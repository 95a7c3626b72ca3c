package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/guillermoBallester/joinest"

// Instruments holds pre-created OTel metric instruments. It implements
// port.Instrumentation.
type Instruments struct {
	EstimateCount    metric.Int64Counter
	EstimateDuration metric.Float64Histogram
	EstimateErrors   metric.Int64Counter
	ToolDuration     metric.Float64Histogram
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	return newInstrumentsFromMeter(noop.NewMeterProvider().Meter(meterName))
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	estimateCount, _ := meter.Int64Counter("joinest.estimate.count",
		metric.WithDescription("Join size estimates produced, by case"),
	)
	estimateDuration, _ := meter.Float64Histogram("joinest.estimate.duration",
		metric.WithDescription("Time spent gathering statistics and classifying a join, in milliseconds"),
		metric.WithUnit("ms"),
	)
	estimateErrors, _ := meter.Int64Counter("joinest.estimate.errors",
		metric.WithDescription("Estimates that failed on an unknown table or an unavailable database"),
	)
	toolDuration, _ := meter.Float64Histogram("joinest.tool.duration",
		metric.WithDescription("MCP tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Instruments{
		EstimateCount:    estimateCount,
		EstimateDuration: estimateDuration,
		EstimateErrors:   estimateErrors,
		ToolDuration:     toolDuration,
	}
}

func (i *Instruments) RecordEstimateDuration(ctx context.Context, ms float64) {
	i.EstimateDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementEstimates(ctx context.Context, joinCase string) {
	i.EstimateCount.Add(ctx, 1, metric.WithAttributes(attribute.String("join.case", joinCase)))
}

func (i *Instruments) IncrementEstimateErrors(ctx context.Context) {
	i.EstimateErrors.Add(ctx, 1)
}

func (i *Instruments) RecordToolDuration(ctx context.Context, ms float64) {
	i.ToolDuration.Record(ctx, ms)
}
