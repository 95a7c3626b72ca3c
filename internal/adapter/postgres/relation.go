package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// relation is a table resolved to its schema and stored name.
type relation struct {
	Schema string
	Name   string
}

func (r relation) quoted() string {
	return quoteIdent(r.Schema) + "." + quoteIdent(r.Name)
}

func (r relation) String() string {
	return r.Schema + "." + r.Name
}

// resolver maps user-supplied table names onto catalog relations within the
// configured schemas.
type resolver struct {
	pool    *pgxpool.Pool
	schemas []string // empty means all non-system schemas
}

// lookup returns found=false, with no error, when the table does not exist.
func (r *resolver) lookup(ctx context.Context, name string) (rel relation, found bool, err error) {
	filter, filterArgs := schemaFilter(r.schemas, "n.nspname", 2) // $1 is name
	query := fmt.Sprintf(queryResolveTable, filter)

	args := make([]any, 0, 1+len(filterArgs))
	args = append(args, name)
	args = append(args, filterArgs...)

	err = r.pool.QueryRow(ctx, query, args...).Scan(&rel.Schema, &rel.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return relation{}, false, nil
		}
		return relation{}, false, fmt.Errorf("resolving table %q: %w", name, err)
	}
	return rel, true, nil
}
