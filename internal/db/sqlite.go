package db

import (
	"context"
	"fmt"
	"strconv"

	"db_respawn/internal/graph"
)

// SQLiteDialect targets SQLite through modernc.org/sqlite. Tables carry no
// schema.
type SQLiteDialect struct{}

func (SQLiteDialect) Provider() string { return ProviderSQLite }

const sqliteTablesQuery = `
SELECT '' AS schema_name, name
FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`

const sqliteForeignKeysQuery = `SELECT id, "table" FROM pragma_foreign_key_list(?)`

func (SQLiteDialect) ListTables(ctx context.Context, q Querier, f Filter) ([]graph.Table, error) {
	tables, err := queryTables(ctx, q, sqliteTablesQuery)
	if err != nil {
		return nil, err
	}
	return f.filterTables(tables), nil
}

// ListRelationships reads pragma_foreign_key_list for every table. SQLite
// foreign keys are unnamed, so the name is derived from the child table and
// the key id.
func (d SQLiteDialect) ListRelationships(ctx context.Context, q Querier, f Filter) ([]graph.Relationship, error) {
	tables, err := queryTables(ctx, q, sqliteTablesQuery)
	if err != nil {
		return nil, err
	}
	var out []graph.Relationship
	for _, child := range tables {
		rels, err := d.foreignKeys(ctx, q, child)
		if err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", child, err)
		}
		out = append(out, rels...)
	}
	return f.filterRelationships(out), nil
}

func (SQLiteDialect) foreignKeys(ctx context.Context, q Querier, child graph.Table) ([]graph.Relationship, error) {
	rows, err := q.QueryContext(ctx, sqliteForeignKeysQuery, child.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.Relationship
	for rows.Next() {
		var (
			id     int
			parent string
		)
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, err
		}
		out = append(out, graph.Relationship{
			Name:   relationshipName(child, "fk"+strconv.Itoa(id)),
			Parent: graph.Table{Name: parent},
			Child:  child,
		})
	}
	return out, rows.Err()
}

func (SQLiteDialect) ListTemporalTables(context.Context, Querier, Filter) ([]TemporalTable, error) {
	return nil, ErrUnsupported
}

// RenderDelete defers foreign-key checks to commit when the graph has cycles.
// The pragma resets itself when the transaction ends.
func (d SQLiteDialect) RenderDelete(g *graph.Graph, opts DeleteOptions) string {
	var s script
	if len(g.CyclicalTableRelationships) > 0 {
		s.add("PRAGMA defer_foreign_keys = ON")
	}
	for _, t := range g.AllTables() {
		s.add(opts.statement(t, d.deleteStatement))
	}
	return s.String()
}

func (SQLiteDialect) RenderReseed([]graph.Table) (string, error) {
	return "", ErrUnsupported
}

func (SQLiteDialect) RenderVersioning([]TemporalTable, bool) (string, error) {
	return "", ErrUnsupported
}

func (SQLiteDialect) SupportsReseed() bool { return false }

func (SQLiteDialect) SupportsTemporalTables() bool { return false }

func (SQLiteDialect) deleteStatement(t graph.Table) string {
	return fmt.Sprintf("DELETE FROM %s;", qualified(t, quoteDouble))
}
