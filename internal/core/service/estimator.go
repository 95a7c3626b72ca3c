package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"strings"
	"time"

	"github.com/guillermoBallester/joinest/internal/core/domain"
	"github.com/guillermoBallester/joinest/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Estimator predicts |R ⋈ S| from catalog structure and statistics.
// It holds no per-call state and may be shared across goroutines as long as
// the Catalog and Statistics it wraps are safe for concurrent use.
type Estimator struct {
	catalog port.Catalog
	stats   port.Statistics
	logger  *slog.Logger
	tracer  trace.Tracer
	inst    port.Instrumentation
}

func NewEstimator(catalog port.Catalog, stats port.Statistics, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *Estimator {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	return &Estimator{
		catalog: catalog,
		stats:   stats,
		logger:  logger,
		tracer:  tracer,
		inst:    inst,
	}
}

// joinFacts is everything gathered about R and S before the rules run.
// It is read-only once built.
type joinFacts struct {
	left, right         string
	leftRows, rightRows int64
	shared              domain.AttributeSet
	leftFK              domain.AttributeSet // R -> S
	rightFK             domain.AttributeSet // S -> R
}

func (f *joinFacts) result(c domain.JoinCase, size int64) domain.EstimationResult {
	return domain.EstimationResult{
		Left:          f.left,
		Right:         f.right,
		EstimatedSize: size,
		Case:          c,
		Diagnostic: domain.Diagnostic{
			LeftRows:         f.leftRows,
			RightRows:        f.rightRows,
			SharedAttributes: f.shared.Sorted(),
		},
	}
}

// rule inspects the facts and either produces a result (matched) or defers
// to the next rule.
type rule struct {
	name  string
	apply func(ctx context.Context, f *joinFacts) (res domain.EstimationResult, matched bool, err error)
}

// rules returns the cases in priority order. Structural guarantees come
// before the distinct-count heuristic, and the first match wins.
func (e *Estimator) rules() []rule {
	return []rule{
		{name: "disjoint", apply: e.disjoint},
		{name: "key_in_left", apply: e.keyInLeft},
		{name: "foreign_key_reference", apply: e.foreignKeyReference},
		{name: "single_non_key_attribute", apply: e.singleNonKeyAttribute},
	}
}

// Estimate classifies the join of table1 and table2 and returns its estimated
// size. An unclassifiable pair is not an error: the result carries
// domain.CaseNone and domain.UnknownSize.
func (e *Estimator) Estimate(ctx context.Context, table1, table2 string) (domain.EstimationResult, error) {
	left := strings.TrimSpace(table1)
	right := strings.TrimSpace(table2)

	ctx, span := e.tracer.Start(ctx, "Estimator.Estimate",
		trace.WithAttributes(
			attribute.String("join.left", left),
			attribute.String("join.right", right),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := e.estimate(ctx, left, right)
	e.inst.RecordEstimateDuration(ctx, float64(time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.inst.IncrementEstimateErrors(ctx)
		e.logger.ErrorContext(ctx, "join estimation failed",
			slog.String("join.left", left),
			slog.String("join.right", right),
			slog.String("error.message", err.Error()),
		)
		return domain.EstimationResult{}, err
	}

	span.SetAttributes(
		attribute.String("join.case", res.Case.String()),
		attribute.Int64("join.estimate", res.EstimatedSize),
	)
	e.inst.IncrementEstimates(ctx, res.Case.String())

	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("join.left", left),
		slog.String("join.right", right),
		slog.String("join.case", res.Case.String()),
		slog.Int64("join.estimate", res.EstimatedSize),
	}
	if soft := res.Err(); soft != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error.message", soft.Error()))
		span.AddEvent(soft.Error())
	}
	e.logger.LogAttrs(ctx, level, "join estimated", attrs...)
	return res, nil
}

func (e *Estimator) estimate(ctx context.Context, left, right string) (domain.EstimationResult, error) {
	if err := e.checkTablesExist(ctx, left, right); err != nil {
		return domain.EstimationResult{}, err
	}

	facts, err := e.gather(ctx, left, right)
	if err != nil {
		return domain.EstimationResult{}, err
	}

	for _, r := range e.rules() {
		res, matched, err := r.apply(ctx, facts)
		if err != nil {
			return domain.EstimationResult{}, fmt.Errorf("evaluating %s: %w", r.name, err)
		}
		e.logger.DebugContext(ctx, "rule evaluated",
			slog.String("rule", r.name),
			slog.Bool("matched", matched),
		)
		if matched {
			return res, nil
		}
	}

	return facts.result(domain.CaseNone, domain.UnknownSize), nil
}

// checkTablesExist runs before any statistics are gathered so a bad name
// costs only catalog lookups.
func (e *Estimator) checkTablesExist(ctx context.Context, names ...string) error {
	var missing []string
	for _, name := range names {
		ok, err := e.catalog.TableExists(ctx, name)
		if err != nil {
			return fmt.Errorf("checking table %q: %w", name, err)
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &domain.UnknownTableError{Tables: missing}
	}
	return nil
}

func (e *Estimator) gather(ctx context.Context, left, right string) (*joinFacts, error) {
	f := &joinFacts{left: left, right: right}

	leftCols, err := e.catalog.ColumnsOf(ctx, left)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %q: %w", left, err)
	}
	if f.leftFK, err = e.catalog.ForeignKeysReferencing(ctx, left, right); err != nil {
		return nil, fmt.Errorf("reading foreign keys %q -> %q: %w", left, right, err)
	}
	if f.leftRows, err = e.stats.RowCount(ctx, left); err != nil {
		return nil, fmt.Errorf("counting rows of %q: %w", left, err)
	}

	rightCols, err := e.catalog.ColumnsOf(ctx, right)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %q: %w", right, err)
	}
	if f.rightFK, err = e.catalog.ForeignKeysReferencing(ctx, right, left); err != nil {
		return nil, fmt.Errorf("reading foreign keys %q -> %q: %w", right, left, err)
	}
	if f.rightRows, err = e.stats.RowCount(ctx, right); err != nil {
		return nil, fmt.Errorf("counting rows of %q: %w", right, err)
	}

	f.shared = leftCols.Intersect(rightCols)
	return f, nil
}

// Case 1: no shared attributes, so every pair of tuples matches.
func (e *Estimator) disjoint(_ context.Context, f *joinFacts) (domain.EstimationResult, bool, error) {
	if !f.shared.IsEmpty() {
		return domain.EstimationResult{}, false, nil
	}
	return f.result(domain.CaseDisjoint, saturatingMulDiv(f.leftRows, f.rightRows, 1)), true, nil
}

// Case 2: each S tuple joins with at most one R tuple.
func (e *Estimator) keyInLeft(ctx context.Context, f *joinFacts) (domain.EstimationResult, bool, error) {
	isKey, err := e.stats.IsKeyFor(ctx, f.left, f.shared)
	if err != nil {
		return domain.EstimationResult{}, false, err
	}
	if !isKey {
		return domain.EstimationResult{}, false, nil
	}
	return f.result(domain.CaseKeyInLeft, f.rightRows), true, nil
}

// Case 3: the shared attributes are a foreign key of one side referencing
// the other; every referencing tuple matches exactly one referenced tuple.
// S -> R is tried before R -> S.
func (e *Estimator) foreignKeyReference(_ context.Context, f *joinFacts) (domain.EstimationResult, bool, error) {
	switch {
	case f.rightFK.ContainsAll(f.shared):
		res := f.result(domain.CaseForeignKeyReference, f.rightRows)
		res.Diagnostic.ForeignKey = domain.RightReferencesLeft
		return res, true, nil
	case f.leftFK.ContainsAll(f.shared):
		res := f.result(domain.CaseForeignKeyReference, f.leftRows)
		res.Diagnostic.ForeignKey = domain.LeftReferencesRight
		return res, true, nil
	default:
		return domain.EstimationResult{}, false, nil
	}
}

// Case 4: one shared attribute A that is a key of neither side. Case 2 has
// already ruled out A being a key of R.
func (e *Estimator) singleNonKeyAttribute(ctx context.Context, f *joinFacts) (domain.EstimationResult, bool, error) {
	attr, ok := f.shared.Only()
	if !ok {
		return domain.EstimationResult{}, false, nil
	}

	isKey, err := e.stats.IsKeyFor(ctx, f.right, f.shared)
	if err != nil {
		return domain.EstimationResult{}, false, err
	}
	if isKey {
		return domain.EstimationResult{}, false, nil
	}

	leftDistinct, err := e.stats.DistinctProjectionCount(ctx, f.left, attr)
	if err != nil {
		return domain.EstimationResult{}, false, err
	}
	rightDistinct, err := e.stats.DistinctProjectionCount(ctx, f.right, attr)
	if err != nil {
		return domain.EstimationResult{}, false, err
	}

	res := f.result(domain.CaseSingleNonKeyAttribute, minQuotient(f.leftRows, f.rightRows, leftDistinct, rightDistinct))
	res.Diagnostic.LeftDistinct = leftDistinct
	res.Diagnostic.RightDistinct = rightDistinct
	res.Diagnostic.LeftFanOut = domain.ClassifyFanOut(leftDistinct, f.leftRows)
	res.Diagnostic.RightFanOut = domain.ClassifyFanOut(rightDistinct, f.rightRows)
	return res, true, nil
}

// minQuotient returns min(r*s/a, r*s/b) with truncating division.
// A zero divisor means that side holds only NULLs in the join column, and
// NULL never equals anything, so nothing can match.
func minQuotient(r, s, a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return min(saturatingMulDiv(r, s, a), saturatingMulDiv(r, s, b))
}

// saturatingMulDiv returns x*y/d for non-negative x, y and positive d,
// computing the product in 128 bits and clamping at math.MaxInt64.
func saturatingMulDiv(x, y, d int64) int64 {
	if x <= 0 || y <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(x), uint64(y))
	if hi >= uint64(d) {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(d))
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}
