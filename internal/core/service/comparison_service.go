package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/joinest/internal/core/domain"
	"github.com/guillermoBallester/joinest/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type sourceKey struct{}

// WithSource returns a context carrying the caller name ("cli" or an MCP tool
// name) for audit logging.
func WithSource(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, sourceKey{}, name)
}

func sourceFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(sourceKey{}).(string); ok {
		return v
	}
	return ""
}

// CompareOptions selects which diagnostic queries run after the estimate.
type CompareOptions struct {
	// SkipActual leaves the real join unexecuted; ActualSize is then UnknownSize.
	SkipActual bool
	// WithPlanner also asks the database planner for its own row estimate.
	WithPlanner bool
}

// ComparisonService runs an estimate and, optionally, the real join so the two
// can be reported side by side.
type ComparisonService struct {
	estimator *Estimator
	prober    port.JoinProber
	auditor   port.Auditor
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewComparisonService(estimator *Estimator, prober port.JoinProber, auditor port.Auditor, logger *slog.Logger, tracer trace.Tracer) *ComparisonService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return &ComparisonService{
		estimator: estimator,
		prober:    prober,
		auditor:   auditor,
		logger:    logger,
		tracer:    tracer,
	}
}

// Estimate runs only the estimator and audits the run.
func (s *ComparisonService) Estimate(ctx context.Context, left, right string) (*domain.Comparison, error) {
	return s.Compare(ctx, left, right, CompareOptions{SkipActual: true})
}

// Compare estimates the join of left and right and, unless opts.SkipActual,
// executes it to measure the true size. Failures of the estimate or of the
// real join are fatal; a failed planner lookup only leaves PlannerSize unknown.
func (s *ComparisonService) Compare(ctx context.Context, left, right string, opts CompareOptions) (*domain.Comparison, error) {
	ctx, span := s.tracer.Start(ctx, "ComparisonService.Compare",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.Bool("join.skip_actual", opts.SkipActual),
		),
	)
	defer span.End()

	start := time.Now()
	cmp := &domain.Comparison{
		RunID:       uuid.NewString(),
		Result:      domain.EstimationResult{EstimatedSize: domain.UnknownSize},
		ActualSize:  domain.UnknownSize,
		PlannerSize: domain.UnknownSize,
	}

	err := s.compare(ctx, left, right, opts, cmp)
	cmp.Duration = time.Since(start)

	s.auditor.Record(ctx, port.AuditEntry{
		RunID:         cmp.RunID,
		Source:        sourceFromCtx(ctx),
		Left:          left,
		Right:         right,
		Case:          cmp.Result.Case.String(),
		EstimatedSize: cmp.Result.EstimatedSize,
		ActualSize:    cmp.ActualSize,
		DurationMS:    cmp.Duration.Milliseconds(),
		Err:           err,
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("join.run_id", cmp.RunID))
	if diff, ok := cmp.EstimationError(); ok {
		span.SetAttributes(attribute.Int64("join.estimation_error", diff))
	}
	return cmp, nil
}

func (s *ComparisonService) compare(ctx context.Context, left, right string, opts CompareOptions, cmp *domain.Comparison) error {
	res, err := s.estimator.Estimate(ctx, left, right)
	if err != nil {
		return err
	}
	cmp.Result = res

	if opts.WithPlanner {
		planned, err := s.prober.PlannerJoinSize(ctx, res.Left, res.Right)
		if err != nil {
			// Non-fatal: the planner estimate is enrichment only.
			s.logger.WarnContext(ctx, "planner estimate unavailable",
				slog.String("join.left", res.Left),
				slog.String("join.right", res.Right),
				slog.String("error.message", err.Error()),
			)
		} else {
			cmp.PlannerSize = planned
		}
	}

	if opts.SkipActual {
		return nil
	}

	actual, err := s.prober.ActualJoinSize(ctx, res.Left, res.Right)
	if err != nil {
		return fmt.Errorf("measuring actual join size: %w", err)
	}
	cmp.ActualSize = actual
	return nil
}
