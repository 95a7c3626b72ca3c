package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/guillermoBallester/joinest/internal/core/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Prober executes a natural join, or asks the planner about it, so an
// estimate can be checked against reality.
type Prober struct {
	exec     *Executor
	resolver *resolver
}

func NewProber(pool *pgxpool.Pool, exec *Executor, schemas []string) *Prober {
	return &Prober{
		exec:     exec,
		resolver: &resolver{pool: pool, schemas: schemas},
	}
}

func (p *Prober) ActualJoinSize(ctx context.Context, left, right string) (int64, error) {
	l, r, err := p.resolvePair(ctx, left, right)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := p.exec.Scalar(ctx, naturalJoinCountSQL(l, r), &n); err != nil {
		return 0, fmt.Errorf("%w: joining %s and %s: %w", domain.ErrStatisticsUnavailable, l, r, err)
	}
	return n, nil
}

func (p *Prober) PlannerJoinSize(ctx context.Context, left, right string) (int64, error) {
	l, r, err := p.resolvePair(ctx, left, right)
	if err != nil {
		return 0, err
	}

	var plan string
	if err := p.exec.Scalar(ctx, explainNaturalJoinSQL(l, r), &plan); err != nil {
		return 0, fmt.Errorf("%w: explaining join of %s and %s: %w", domain.ErrStatisticsUnavailable, l, r, err)
	}
	return parsePlanRows([]byte(plan))
}

func (p *Prober) resolvePair(ctx context.Context, left, right string) (relation, relation, error) {
	l, err := p.resolve(ctx, left)
	if err != nil {
		return relation{}, relation{}, err
	}
	r, err := p.resolve(ctx, right)
	if err != nil {
		return relation{}, relation{}, err
	}
	return l, r, nil
}

func (p *Prober) resolve(ctx context.Context, name string) (relation, error) {
	rel, found, err := p.resolver.lookup(ctx, name)
	if err != nil {
		return relation{}, fmt.Errorf("%w: %w", domain.ErrStatisticsUnavailable, err)
	}
	if !found {
		return relation{}, fmt.Errorf("table %q %w", name, domain.ErrNotFound)
	}
	return rel, nil
}

// explainOutput is the top level of EXPLAIN (FORMAT JSON).
type explainOutput []struct {
	Plan struct {
		PlanRows *float64 `json:"Plan Rows"`
	} `json:"Plan"`
}

// parsePlanRows extracts the root node's "Plan Rows" estimate.
func parsePlanRows(raw []byte) (int64, error) {
	var out explainOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decoding EXPLAIN output: %w", err)
	}
	if len(out) == 0 || out[0].Plan.PlanRows == nil {
		return 0, errors.New("EXPLAIN output has no Plan Rows")
	}
	return int64(math.Round(*out[0].Plan.PlanRows)), nil
}
