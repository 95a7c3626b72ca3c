package port

import (
	"context"

	"github.com/guillermoBallester/joinest/internal/core/domain"
)

// Catalog answers structural questions about relations. Table names are
// matched case-insensitively. Implementations wrap connectivity and query
// failures in domain.ErrCatalogUnavailable.
type Catalog interface {
	TableExists(ctx context.Context, name string) (bool, error)
	ColumnsOf(ctx context.Context, table string) (domain.AttributeSet, error)
	// ForeignKeysReferencing returns the columns of fromTable that belong to a
	// foreign key whose target is toTable. Empty when no such key exists.
	ForeignKeysReferencing(ctx context.Context, fromTable, toTable string) (domain.AttributeSet, error)
}

// TableInfo is a table visible to the estimator.
type TableInfo struct {
	Schema      string `json:"schema"`
	Name        string `json:"name"`
	RowEstimate int64  `json:"row_estimate"` // -1 when never analyzed
}

// TableLister enumerates the tables a caller may pass to the estimator.
type TableLister interface {
	ListTables(ctx context.Context) ([]TableInfo, error)
}
