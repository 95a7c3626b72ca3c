package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/guillermoBallester/joinest/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatsMode selects where row and distinct counts come from.
type StatsMode string

const (
	// StatsModeExact runs aggregate queries against the live tables.
	StatsModeExact StatsMode = "exact"
	// StatsModeCatalog reads pg_class.reltuples and pg_stats.n_distinct,
	// falling back to exact counts when the planner has nothing to offer.
	StatsModeCatalog StatsMode = "catalog"
)

func ParseStatsMode(s string) (StatsMode, error) {
	switch m := StatsMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", StatsModeExact:
		return StatsModeExact, nil
	case StatsModeCatalog:
		return StatsModeCatalog, nil
	default:
		return "", fmt.Errorf("invalid stats mode %q (must be exact or catalog)", s)
	}
}

// Statistics answers row and distinct-value questions about tables.
type Statistics struct {
	pool     *pgxpool.Pool
	exec     *Executor
	resolver *resolver
	mode     StatsMode
}

func NewStatistics(pool *pgxpool.Pool, exec *Executor, schemas []string, mode StatsMode) *Statistics {
	if mode == "" {
		mode = StatsModeExact
	}
	return &Statistics{
		pool:     pool,
		exec:     exec,
		resolver: &resolver{pool: pool, schemas: schemas},
		mode:     mode,
	}
}

func (s *Statistics) RowCount(ctx context.Context, table string) (int64, error) {
	rel, err := s.resolve(ctx, table)
	if err != nil {
		return 0, err
	}

	if s.mode == StatsModeCatalog {
		n, ok, err := s.catalogRowCount(ctx, rel)
		if err != nil {
			return 0, err
		}
		if ok {
			return n, nil
		}
	}

	var n int64
	if err := s.exec.Scalar(ctx, countRowsSQL(rel), &n); err != nil {
		return 0, fmt.Errorf("%w: counting rows of %s: %w", domain.ErrStatisticsUnavailable, rel, err)
	}
	return n, nil
}

func (s *Statistics) DistinctProjectionCount(ctx context.Context, table, column string) (int64, error) {
	rel, err := s.resolve(ctx, table)
	if err != nil {
		return 0, err
	}

	if s.mode == StatsModeCatalog {
		n, ok, err := s.catalogDistinct(ctx, rel, column)
		if err != nil {
			return 0, err
		}
		if ok {
			return n, nil
		}
	}

	var n int64
	if err := s.exec.Scalar(ctx, countDistinctSQL(rel, column), &n); err != nil {
		return 0, fmt.Errorf("%w: counting distinct %s.%s: %w", domain.ErrStatisticsUnavailable, rel, column, err)
	}
	return n, nil
}

// IsKeyFor always counts exactly, and compares against count(*) from the
// same statement rather than the catalog row estimate: neither reltuples nor
// a sampled n_distinct can prove uniqueness.
func (s *Statistics) IsKeyFor(ctx context.Context, table string, attrs domain.AttributeSet) (bool, error) {
	if attrs.IsEmpty() {
		return false, nil
	}

	rel, err := s.resolve(ctx, table)
	if err != nil {
		return false, err
	}

	var isKey bool
	if err := s.exec.Scalar(ctx, isKeySQL(rel, attrs.Sorted()), &isKey); err != nil {
		return false, fmt.Errorf("%w: counting distinct tuples of %s: %w", domain.ErrStatisticsUnavailable, rel, err)
	}
	return isKey, nil
}

// catalogRowCount returns ok=false when the table has never been analyzed.
func (s *Statistics) catalogRowCount(ctx context.Context, rel relation) (n int64, ok bool, err error) {
	var reltuples float64
	if err := s.pool.QueryRow(ctx, queryRelTuples, rel.Schema, rel.Name).Scan(&reltuples); err != nil {
		return 0, false, fmt.Errorf("%w: reading reltuples of %s: %w", domain.ErrStatisticsUnavailable, rel, err)
	}
	if reltuples < 0 {
		return 0, false, nil
	}
	return int64(math.Round(reltuples)), true, nil
}

// catalogDistinct returns ok=false when pg_stats has no row for the column.
func (s *Statistics) catalogDistinct(ctx context.Context, rel relation, column string) (n int64, ok bool, err error) {
	rows, ok, err := s.catalogRowCount(ctx, rel)
	if err != nil || !ok {
		return 0, false, err
	}

	var nDistinct float64
	err = s.pool.QueryRow(ctx, queryColumnNDistinct, rel.Schema, rel.Name, column).Scan(&nDistinct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: reading n_distinct of %s.%s: %w", domain.ErrStatisticsUnavailable, rel, column, err)
	}
	return pgDistinctToAbsolute(nDistinct, rows), true, nil
}

func (s *Statistics) resolve(ctx context.Context, name string) (relation, error) {
	rel, found, err := s.resolver.lookup(ctx, name)
	if err != nil {
		return relation{}, fmt.Errorf("%w: %w", domain.ErrStatisticsUnavailable, err)
	}
	if !found {
		return relation{}, fmt.Errorf("table %q %w", name, domain.ErrNotFound)
	}
	return rel, nil
}

// pgDistinctToAbsolute converts pg_stats n_distinct to an absolute distinct count.
// pg_stats semantics:
//   - -1.0 = all values unique → returns rowEstimate
//   - negative = fraction of rows that are distinct (e.g., -0.5 = 50% unique)
//   - positive = estimated number of distinct values
func pgDistinctToAbsolute(nDistinct float64, rowEstimate int64) int64 {
	if nDistinct == -1 {
		return rowEstimate
	}
	if nDistinct < 0 {
		return int64(math.Round(-nDistinct * float64(rowEstimate)))
	}
	return int64(math.Round(nDistinct))
}
