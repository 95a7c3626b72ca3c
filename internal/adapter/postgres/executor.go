package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/guillermoBallester/joinest/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Executor runs generated single-value statements (counts, EXPLAIN output)
// inside a read-only transaction. Every statement is checked by the
// StatementValidator first.
type Executor struct {
	pool         *pgxpool.Pool
	validator    *domain.StatementValidator
	queryTimeout time.Duration
}

// NewExecutor returns an Executor. A zero queryTimeout leaves statements
// unbounded.
func NewExecutor(pool *pgxpool.Pool, queryTimeout time.Duration) *Executor {
	return &Executor{
		pool:         pool,
		validator:    domain.NewStatementValidator(),
		queryTimeout: queryTimeout,
	}
}

// Scalar runs sql and scans its single-row, single-column result into dest.
func (e *Executor) Scalar(ctx context.Context, sql string, dest any, args ...any) error {
	if err := e.validator.Validate(sql); err != nil {
		return fmt.Errorf("rejecting generated statement: %w", err)
	}

	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET LOCAL lets PostgreSQL cancel the statement server-side and is
	// scoped to this transaction.
	if e.queryTimeout > 0 {
		timeoutMS := e.queryTimeout.Milliseconds()
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%d'", timeoutMS)); err != nil {
			return fmt.Errorf("setting statement timeout: %w", err)
		}
	}

	if err := tx.QueryRow(ctx, sql, args...).Scan(dest); err != nil {
		return fmt.Errorf("executing query: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
