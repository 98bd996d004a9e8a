package db

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"db_respawn/internal/graph"
)

// PostgresDialect targets PostgreSQL through the pgx stdlib driver.
type PostgresDialect struct{}

func (PostgresDialect) Provider() string { return ProviderPostgres }

const postgresTablesQuery = `
SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
  AND table_schema NOT LIKE 'pg_toast%'
ORDER BY table_schema, table_name`

const postgresRelationshipsQuery = `
SELECT con.conname, pns.nspname, ptab.relname, fns.nspname, ftab.relname
FROM pg_constraint con
JOIN pg_class ftab ON ftab.oid = con.conrelid
JOIN pg_namespace fns ON fns.oid = ftab.relnamespace
JOIN pg_class ptab ON ptab.oid = con.confrelid
JOIN pg_namespace pns ON pns.oid = ptab.relnamespace
WHERE con.contype = 'f'
ORDER BY fns.nspname, ftab.relname, con.conname`

func (PostgresDialect) ListTables(ctx context.Context, q Querier, f Filter) ([]graph.Table, error) {
	tables, err := queryTables(ctx, q, postgresTablesQuery)
	if err != nil {
		return nil, err
	}
	return f.filterTables(tables), nil
}

func (PostgresDialect) ListRelationships(ctx context.Context, q Querier, f Filter) ([]graph.Relationship, error) {
	rels, err := queryRelationships(ctx, q, postgresRelationshipsQuery)
	if err != nil {
		return nil, err
	}
	return f.filterRelationships(rels), nil
}

func (PostgresDialect) ListTemporalTables(context.Context, Querier, Filter) ([]TemporalTable, error) {
	return nil, ErrUnsupported
}

// RenderDelete disables triggers, and with them foreign-key enforcement, on
// both ends of every cyclic relationship for the duration of the deletes.
func (d PostgresDialect) RenderDelete(g *graph.Graph, opts DeleteOptions) string {
	relaxed := endpoints(g.CyclicalTableRelationships, bothEnds)

	var s script
	for _, t := range relaxed {
		s.add(fmt.Sprintf("ALTER TABLE %s DISABLE TRIGGER ALL", d.quote(t)))
	}
	for _, t := range g.AllTables() {
		s.add(opts.statement(t, d.deleteStatement))
	}
	for _, t := range relaxed {
		s.add(fmt.Sprintf("ALTER TABLE %s ENABLE TRIGGER ALL", d.quote(t)))
	}
	return s.String()
}

func (PostgresDialect) RenderReseed([]graph.Table) (string, error) {
	return "", ErrUnsupported
}

func (PostgresDialect) RenderVersioning([]TemporalTable, bool) (string, error) {
	return "", ErrUnsupported
}

func (PostgresDialect) SupportsReseed() bool { return false }

func (PostgresDialect) SupportsTemporalTables() bool { return false }

func (d PostgresDialect) deleteStatement(t graph.Table) string {
	return fmt.Sprintf("DELETE FROM %s;", d.quote(t))
}

func (PostgresDialect) quote(t graph.Table) string {
	return qualified(t, pq.QuoteIdentifier)
}
