package db

import (
	"context"
	"fmt"

	"db_respawn/internal/graph"
)

// MySQLDialect targets MySQL and MariaDB.
type MySQLDialect struct{}

func (MySQLDialect) Provider() string { return ProviderMySQL }

const mysqlTablesQuery = `
SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')`

const mysqlRelationshipsQuery = `
SELECT kcu.constraint_name, kcu.referenced_table_schema, kcu.referenced_table_name, kcu.table_schema, kcu.table_name
FROM information_schema.key_column_usage kcu
WHERE kcu.referenced_table_name IS NOT NULL
  AND kcu.table_schema NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')`

// crossSchema reports whether listing should span every user schema instead
// of only the connection's current database.
func (MySQLDialect) crossSchema(f Filter) bool {
	return len(f.SchemasToInclude) > 0 && len(f.SchemasToExclude) == 0
}

func (d MySQLDialect) ListTables(ctx context.Context, q Querier, f Filter) ([]graph.Table, error) {
	query := mysqlTablesQuery
	if !d.crossSchema(f) {
		query += "\n  AND table_schema = DATABASE()"
	}
	tables, err := queryTables(ctx, q, query+"\nORDER BY table_schema, table_name")
	if err != nil {
		return nil, err
	}
	return f.filterTables(tables), nil
}

// ListRelationships returns one row per constrained column; the graph
// builder collapses them by name.
func (d MySQLDialect) ListRelationships(ctx context.Context, q Querier, f Filter) ([]graph.Relationship, error) {
	query := mysqlRelationshipsQuery
	if !d.crossSchema(f) {
		query += "\n  AND kcu.table_schema = DATABASE()"
	}
	rels, err := queryRelationships(ctx, q, query+"\nORDER BY kcu.table_schema, kcu.table_name, kcu.constraint_name")
	if err != nil {
		return nil, err
	}
	return f.filterRelationships(rels), nil
}

func (MySQLDialect) ListTemporalTables(context.Context, Querier, Filter) ([]TemporalTable, error) {
	return nil, ErrUnsupported
}

// RenderDelete turns off foreign-key checks for the session when the graph
// has cycles or self references. InnoDB checks self references row by row,
// so a plain DELETE can fail on them.
func (d MySQLDialect) RenderDelete(g *graph.Graph, opts DeleteOptions) string {
	relax := len(g.CyclicalTableRelationships) > 0 || len(g.SelfReferencingRelationships) > 0

	var s script
	if relax {
		s.add("SET FOREIGN_KEY_CHECKS = 0")
	}
	for _, t := range g.AllTables() {
		s.add(opts.statement(t, d.deleteStatement))
	}
	if relax {
		s.add("SET FOREIGN_KEY_CHECKS = 1")
	}
	return s.String()
}

// RestoreSession turns foreign-key checks back on. The setting belongs to the
// session, so a rollback does not undo it.
func (MySQLDialect) RestoreSession() []string {
	return []string{"SET FOREIGN_KEY_CHECKS = 1"}
}

func (MySQLDialect) RenderReseed(tables []graph.Table) (string, error) {
	var s script
	for _, t := range tables {
		s.add(fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = 1", qualified(t, quoteBacktick)))
	}
	return s.String(), nil
}

func (MySQLDialect) RenderVersioning([]TemporalTable, bool) (string, error) {
	return "", ErrUnsupported
}

func (MySQLDialect) SupportsReseed() bool { return true }

func (MySQLDialect) SupportsTemporalTables() bool { return false }

func (MySQLDialect) deleteStatement(t graph.Table) string {
	return fmt.Sprintf("DELETE FROM %s;", qualified(t, quoteBacktick))
}
