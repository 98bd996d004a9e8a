package db

import (
	"context"
	"fmt"

	"db_respawn/internal/graph"
)

// SQLServerDialect targets Microsoft SQL Server. It is the only dialect that
// handles temporal tables.
type SQLServerDialect struct{}

func (SQLServerDialect) Provider() string { return ProviderSQLServer }

const sqlserverTablesQuery = `
SELECT s.name, t.name
FROM sys.tables t
JOIN sys.schemas s ON s.schema_id = t.schema_id
WHERE t.is_ms_shipped = 0
ORDER BY s.name, t.name`

const sqlserverRelationshipsQuery = `
SELECT fk.name, ps.name, pt.name, cs.name, ct.name
FROM sys.foreign_keys fk
JOIN sys.tables pt ON pt.object_id = fk.referenced_object_id
JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
JOIN sys.tables ct ON ct.object_id = fk.parent_object_id
JOIN sys.schemas cs ON cs.schema_id = ct.schema_id
ORDER BY cs.name, ct.name, fk.name`

const sqlserverTemporalQuery = `
SELECT s.name, t.name, hs.name, h.name
FROM sys.tables t
JOIN sys.schemas s ON s.schema_id = t.schema_id
JOIN sys.tables h ON h.object_id = t.history_table_id
JOIN sys.schemas hs ON hs.schema_id = h.schema_id
WHERE t.temporal_type = 2
ORDER BY s.name, t.name`

func (SQLServerDialect) ListTables(ctx context.Context, q Querier, f Filter) ([]graph.Table, error) {
	tables, err := queryTables(ctx, q, sqlserverTablesQuery)
	if err != nil {
		return nil, err
	}
	return f.filterTables(tables), nil
}

func (SQLServerDialect) ListRelationships(ctx context.Context, q Querier, f Filter) ([]graph.Relationship, error) {
	rels, err := queryRelationships(ctx, q, sqlserverRelationshipsQuery)
	if err != nil {
		return nil, err
	}
	return f.filterRelationships(rels), nil
}

func (SQLServerDialect) ListTemporalTables(ctx context.Context, q Querier, f Filter) ([]TemporalTable, error) {
	rows, err := q.QueryContext(ctx, sqlserverTemporalQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TemporalTable
	for rows.Next() {
		var tt TemporalTable
		if err := rows.Scan(&tt.Table.Schema, &tt.Table.Name, &tt.History.Schema, &tt.History.Name); err != nil {
			return nil, err
		}
		if f.Allows(tt.Table) {
			out = append(out, tt)
		}
	}
	return out, rows.Err()
}

// RenderDelete suspends every constraint on the child side of each cyclic
// relationship and re-validates them once the tables are empty.
func (d SQLServerDialect) RenderDelete(g *graph.Graph, opts DeleteOptions) string {
	relaxed := endpoints(g.CyclicalTableRelationships, childEnd)

	var s script
	for _, t := range relaxed {
		s.add(fmt.Sprintf("ALTER TABLE %s NOCHECK CONSTRAINT ALL", d.quote(t)))
	}
	for _, t := range g.AllTables() {
		s.add(opts.statement(t, d.deleteStatement))
	}
	for _, t := range relaxed {
		s.add(fmt.Sprintf("ALTER TABLE %s WITH CHECK CHECK CONSTRAINT ALL", d.quote(t)))
	}
	return s.String()
}

// RenderReseed reseeds identity columns that have handed out a value, so the
// next insert gets the first value again.
func (d SQLServerDialect) RenderReseed(tables []graph.Table) (string, error) {
	var s script
	for _, t := range tables {
		name := "N" + quoteString(d.quote(t))
		s.add(fmt.Sprintf(
			"IF EXISTS (SELECT 1 FROM sys.identity_columns WHERE object_id = OBJECT_ID(%s) AND last_value IS NOT NULL) DBCC CHECKIDENT (%s, RESEED, 0)",
			name, name,
		))
	}
	return s.String(), nil
}

func (d SQLServerDialect) RenderVersioning(tables []TemporalTable, on bool) (string, error) {
	var s script
	for _, tt := range tables {
		if on {
			s.add(fmt.Sprintf("ALTER TABLE %s SET (SYSTEM_VERSIONING = ON (HISTORY_TABLE = %s))", d.quote(tt.Table), d.quote(tt.History)))
		} else {
			s.add(fmt.Sprintf("ALTER TABLE %s SET (SYSTEM_VERSIONING = OFF)", d.quote(tt.Table)))
		}
	}
	return s.String(), nil
}

func (SQLServerDialect) SupportsReseed() bool { return true }

func (SQLServerDialect) SupportsTemporalTables() bool { return true }

func (d SQLServerDialect) deleteStatement(t graph.Table) string {
	return fmt.Sprintf("DELETE %s;", d.quote(t))
}

func (SQLServerDialect) quote(t graph.Table) string {
	return qualified(t, quoteBracket)
}
