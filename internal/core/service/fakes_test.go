package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/guillermoBallester/joinest/internal/core/domain"
	"github.com/guillermoBallester/joinest/internal/core/port"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- in-memory database backing both Catalog and Statistics ---

type fakeTable struct {
	columns []string
	rows    []map[string]any
	// fks maps a referenced table to the referencing columns in this table.
	fks map[string][]string
	// reportedRows, when set, is what RowCount returns instead of
	// len(rows), like a stale reltuples.
	reportedRows *int64
}

type fakeDB struct {
	mu     sync.Mutex
	tables map[string]*fakeTable // keyed by lower-case name

	catalogErr error
	statsErr   error

	catalogCalls int
	statsCalls   int
	queries      []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{tables: make(map[string]*fakeTable)}
}

func (db *fakeDB) addTable(name string, columns []string, rows []map[string]any) *fakeTable {
	t := &fakeTable{columns: columns, rows: rows, fks: make(map[string][]string)}
	db.tables[strings.ToLower(name)] = t
	return t
}

func (t *fakeTable) withFK(target string, cols ...string) *fakeTable {
	t.fks[strings.ToLower(target)] = append(t.fks[strings.ToLower(target)], cols...)
	return t
}

func (t *fakeTable) withReportedRows(n int64) *fakeTable {
	t.reportedRows = &n
	return t
}

func (db *fakeDB) table(name string) (*fakeTable, error) {
	t, ok := db.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, domain.ErrNotFound)
	}
	return t, nil
}

func (db *fakeDB) catalogCall(op string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.catalogCalls++
	db.queries = append(db.queries, op)
	if db.catalogErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, db.catalogErr)
	}
	return nil
}

func (db *fakeDB) statsCall(op string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.statsCalls++
	db.queries = append(db.queries, op)
	if db.statsErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrStatisticsUnavailable, db.statsErr)
	}
	return nil
}

func (db *fakeDB) TableExists(_ context.Context, name string) (bool, error) {
	if err := db.catalogCall("exists " + name); err != nil {
		return false, err
	}
	_, ok := db.tables[strings.ToLower(name)]
	return ok, nil
}

func (db *fakeDB) ColumnsOf(_ context.Context, table string) (domain.AttributeSet, error) {
	if err := db.catalogCall("columns " + table); err != nil {
		return nil, err
	}
	t, err := db.table(table)
	if err != nil {
		return nil, err
	}
	return domain.NewAttributeSet(t.columns...), nil
}

func (db *fakeDB) ForeignKeysReferencing(_ context.Context, fromTable, toTable string) (domain.AttributeSet, error) {
	if err := db.catalogCall("fks " + fromTable + " " + toTable); err != nil {
		return nil, err
	}
	t, err := db.table(fromTable)
	if err != nil {
		return nil, err
	}
	return domain.NewAttributeSet(t.fks[strings.ToLower(toTable)]...), nil
}

func (db *fakeDB) RowCount(_ context.Context, table string) (int64, error) {
	if err := db.statsCall("count " + table); err != nil {
		return 0, err
	}
	t, err := db.table(table)
	if err != nil {
		return 0, err
	}
	if t.reportedRows != nil {
		return *t.reportedRows, nil
	}
	return int64(len(t.rows)), nil
}

// DistinctProjectionCount ignores NULLs, like count(DISTINCT col).
func (db *fakeDB) DistinctProjectionCount(_ context.Context, table, column string) (int64, error) {
	if err := db.statsCall("distinct " + table + "." + column); err != nil {
		return 0, err
	}
	t, err := db.table(table)
	if err != nil {
		return 0, err
	}
	seen := make(map[any]struct{})
	for _, r := range t.rows {
		if v := r[column]; v != nil {
			seen[v] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

// IsKeyFor treats NULL as a value, like SELECT DISTINCT.
func (db *fakeDB) IsKeyFor(_ context.Context, table string, attrs domain.AttributeSet) (bool, error) {
	if attrs.IsEmpty() {
		return false, nil
	}
	if err := db.statsCall("key " + table + " " + strings.Join(attrs.Sorted(), ",")); err != nil {
		return false, err
	}
	t, err := db.table(table)
	if err != nil {
		return false, err
	}
	seen := make(map[string]struct{})
	for _, r := range t.rows {
		parts := make([]string, 0, attrs.Len())
		for _, a := range attrs.Sorted() {
			parts = append(parts, fmt.Sprintf("%v", r[a]))
		}
		seen[strings.Join(parts, "\x00")] = struct{}{}
	}
	return len(seen) == len(t.rows), nil
}

// --- mock JoinProber ---

type mockProber struct {
	actual      int64
	planned     int64
	actualErr   error
	plannerErr  error
	actualCalls int
	planCalls   int
}

func (m *mockProber) ActualJoinSize(context.Context, string, string) (int64, error) {
	m.actualCalls++
	return m.actual, m.actualErr
}

func (m *mockProber) PlannerJoinSize(context.Context, string, string) (int64, error) {
	m.planCalls++
	return m.planned, m.plannerErr
}

// --- recording Auditor ---

type recordingAuditor struct {
	entries []port.AuditEntry
}

func (a *recordingAuditor) Record(_ context.Context, e port.AuditEntry) {
	a.entries = append(a.entries, e)
}

func (a *recordingAuditor) Close() error { return nil }

// --- row generators ---

// rowsOf builds n rows where column col takes i % distinct.
func rowsOf(n, distinct int, col string, extra ...string) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		r := map[string]any{col: i % distinct}
		for _, c := range extra {
			r[c] = fmt.Sprintf("%s-%d", c, i)
		}
		rows[i] = r
	}
	return rows
}

// sequentialRows builds n rows with a unique integer key col.
func sequentialRows(n int, col string, extra ...string) []map[string]any {
	return rowsOf(n, n, col, extra...)
}
