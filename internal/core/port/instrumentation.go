package port

import "context"

// Instrumentation records application-level metrics.
type Instrumentation interface {
	RecordEstimateDuration(ctx context.Context, ms float64)
	IncrementEstimates(ctx context.Context, joinCase string)
	IncrementEstimateErrors(ctx context.Context)
	RecordToolDuration(ctx context.Context, ms float64)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) RecordEstimateDuration(context.Context, float64) {}
func (NoopInstrumentation) IncrementEstimates(context.Context, string)      {}
func (NoopInstrumentation) IncrementEstimateErrors(context.Context)         {}
func (NoopInstrumentation) RecordToolDuration(context.Context, float64)     {}
