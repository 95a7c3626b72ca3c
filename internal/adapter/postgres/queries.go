package postgres

import "fmt"

// queryResolveTable finds the schema and stored name of a table, matching the
// name case-insensitively. An exact-case match wins over a folded one.
// $1 = table name; schema filter placeholder at %s starts at $2.
const queryResolveTable = `
	SELECT n.nspname, c.relname
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE lower(c.relname) = lower($1) AND c.relkind IN ('r', 'p') AND %s
	ORDER BY (c.relname = $1) DESC, n.nspname
	LIMIT 1`

// queryListTables has one %s placeholder for the schema filter clause.
const queryListTables = `
	SELECT n.nspname, c.relname, c.reltuples::float8
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE c.relkind IN ('r', 'p') AND %s
	ORDER BY n.nspname, c.relname`

// queryColumnNames fetches the live column names of a table.
// $1 = schema, $2 = table_name.
const queryColumnNames = `
	SELECT a.attname
	FROM pg_attribute a
	JOIN pg_class c ON c.oid = a.attrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
	ORDER BY a.attnum`

// queryForeignKeyColumns fetches the referencing columns of every foreign key
// declared on one table that targets another.
// $1/$2 = referencing schema/table, $3/$4 = referenced schema/table.
const queryForeignKeyColumns = `
	SELECT DISTINCT a.attname
	FROM pg_constraint con
	JOIN pg_class src ON src.oid = con.conrelid
	JOIN pg_namespace sn ON sn.oid = src.relnamespace
	JOIN pg_class dst ON dst.oid = con.confrelid
	JOIN pg_namespace dn ON dn.oid = dst.relnamespace
	CROSS JOIN LATERAL unnest(con.conkey) AS k(attnum)
	JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
	WHERE con.contype = 'f'
		AND sn.nspname = $1 AND src.relname = $2
		AND dn.nspname = $3 AND dst.relname = $4`

// queryRelTuples fetches the planner's row estimate. Negative means the table
// was never vacuumed or analyzed.
// $1 = schema, $2 = table_name.
const queryRelTuples = `
	SELECT c.reltuples::float8
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2`

// queryColumnNDistinct fetches pg_stats.n_distinct for one column.
// $1 = schema, $2 = table_name, $3 = column.
const queryColumnNDistinct = `
	SELECT s.n_distinct::float8
	FROM pg_stats s
	WHERE s.schemaname = $1 AND s.tablename = $2 AND s.attname = $3
	ORDER BY s.inherited
	LIMIT 1`

// --- generated statistics statements ---

func countRowsSQL(rel relation) string {
	return fmt.Sprintf("SELECT count(*) FROM %s", rel.quoted())
}

// countDistinctSQL ignores NULLs.
func countDistinctSQL(rel relation, column string) string {
	return fmt.Sprintf("SELECT count(DISTINCT %s) FROM %s", quoteIdent(column), rel.quoted())
}

// isKeySQL compares the number of distinct projections onto columns with
// count(*) in one snapshot. SELECT DISTINCT treats NULLs as equal, so a NULL
// tuple counts once.
func isKeySQL(rel relation, columns []string) string {
	return fmt.Sprintf("SELECT (SELECT count(*) FROM (SELECT DISTINCT %s FROM %s) AS k) = (SELECT count(*) FROM %s)",
		quoteIdents(columns), rel.quoted(), rel.quoted())
}

func naturalJoinCountSQL(left, right relation) string {
	return fmt.Sprintf("SELECT count(*) FROM %s NATURAL JOIN %s", left.quoted(), right.quoted())
}

func explainNaturalJoinSQL(left, right relation) string {
	return fmt.Sprintf("EXPLAIN (FORMAT JSON) SELECT * FROM %s NATURAL JOIN %s", left.quoted(), right.quoted())
}
