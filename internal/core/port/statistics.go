package port

import (
	"context"

	"github.com/guillermoBallester/joinest/internal/core/domain"
)

// Statistics answers numeric questions about relations. Implementations wrap
// failures in domain.ErrStatisticsUnavailable.
type Statistics interface {
	RowCount(ctx context.Context, table string) (int64, error)
	DistinctProjectionCount(ctx context.Context, table, column string) (int64, error)
	// IsKeyFor reports whether projecting table onto attrs yields as many
	// distinct tuples as table has rows. Both sides are counted exactly,
	// whatever RowCount returns. An empty attrs is never a key and must not
	// cause a query.
	IsKeyFor(ctx context.Context, table string, attrs domain.AttributeSet) (bool, error)
}

// JoinProber runs the join itself, for comparing an estimate with reality.
type JoinProber interface {
	ActualJoinSize(ctx context.Context, left, right string) (int64, error)
	// PlannerJoinSize is the database planner's row estimate for the join.
	PlannerJoinSize(ctx context.Context, left, right string) (int64, error)
}
