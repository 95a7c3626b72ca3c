package postgres

import (
	"context"
	"fmt"
	"math"

	"github.com/guillermoBallester/joinest/internal/core/domain"
	"github.com/guillermoBallester/joinest/internal/core/port"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog reads relation structure from the PostgreSQL system catalogs.
type Catalog struct {
	pool     *pgxpool.Pool
	resolver *resolver
}

func NewCatalog(pool *pgxpool.Pool, schemas []string) *Catalog {
	return &Catalog{
		pool:     pool,
		resolver: &resolver{pool: pool, schemas: schemas},
	}
}

func (c *Catalog) TableExists(ctx context.Context, name string) (bool, error) {
	_, found, err := c.resolver.lookup(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err)
	}
	return found, nil
}

func (c *Catalog) ColumnsOf(ctx context.Context, table string) (domain.AttributeSet, error) {
	rel, err := c.resolve(ctx, table)
	if err != nil {
		return nil, err
	}

	rows, err := c.pool.Query(ctx, queryColumnNames, rel.Schema, rel.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: querying columns of %s: %w", domain.ErrCatalogUnavailable, rel, err)
	}
	defer rows.Close()

	cols := domain.NewAttributeSet()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scanning column: %w", domain.ErrCatalogUnavailable, err)
		}
		cols[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating columns: %w", domain.ErrCatalogUnavailable, err)
	}
	return cols, nil
}

func (c *Catalog) ForeignKeysReferencing(ctx context.Context, fromTable, toTable string) (domain.AttributeSet, error) {
	from, err := c.resolve(ctx, fromTable)
	if err != nil {
		return nil, err
	}
	to, err := c.resolve(ctx, toTable)
	if err != nil {
		return nil, err
	}

	rows, err := c.pool.Query(ctx, queryForeignKeyColumns, from.Schema, from.Name, to.Schema, to.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: querying foreign keys %s -> %s: %w", domain.ErrCatalogUnavailable, from, to, err)
	}
	defer rows.Close()

	cols := domain.NewAttributeSet()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scanning fk column: %w", domain.ErrCatalogUnavailable, err)
		}
		cols[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating fk columns: %w", domain.ErrCatalogUnavailable, err)
	}
	return cols, nil
}

// ListTables returns every base table visible in the configured schemas with
// the planner's row estimate (-1 when never analyzed).
func (c *Catalog) ListTables(ctx context.Context) ([]port.TableInfo, error) {
	filter, args := schemaFilter(c.resolver.schemas, "n.nspname", 1)
	query := fmt.Sprintf(queryListTables, filter)

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing tables: %w", domain.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var tables []port.TableInfo
	for rows.Next() {
		var (
			t         port.TableInfo
			reltuples float64
		)
		if err := rows.Scan(&t.Schema, &t.Name, &reltuples); err != nil {
			return nil, fmt.Errorf("%w: scanning table row: %w", domain.ErrCatalogUnavailable, err)
		}
		t.RowEstimate = int64(math.Round(reltuples))
		if reltuples < 0 {
			t.RowEstimate = -1
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating tables: %w", domain.ErrCatalogUnavailable, err)
	}
	return tables, nil
}

func (c *Catalog) resolve(ctx context.Context, name string) (relation, error) {
	rel, found, err := c.resolver.lookup(ctx, name)
	if err != nil {
		return relation{}, fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err)
	}
	if !found {
		return relation{}, c.notFound(name)
	}
	return rel, nil
}

func (c *Catalog) notFound(name string) error {
	if len(c.resolver.schemas) > 0 {
		return fmt.Errorf("table %q %w in schemas %v", name, domain.ErrNotFound, c.resolver.schemas)
	}
	return fmt.Errorf("table %q %w", name, domain.ErrNotFound)
}
