package db

import (
	"strings"

	"db_respawn/internal/graph"
)

// Filter restricts which tables take part in a reset.
//
// Schemas and tables are two independent axes. On each axis an exclude list,
// when present, wins and the include list is ignored.
type Filter struct {
	TablesToInclude  []graph.Table
	TablesToIgnore   []graph.Table
	SchemasToInclude []string
	SchemasToExclude []string
}

// Allows reports whether t passes the filter.
func (f Filter) Allows(t graph.Table) bool {
	switch {
	case len(f.SchemasToExclude) > 0:
		if containsFold(f.SchemasToExclude, t.Schema) {
			return false
		}
	case len(f.SchemasToInclude) > 0:
		if !containsFold(f.SchemasToInclude, t.Schema) {
			return false
		}
	}
	switch {
	case len(f.TablesToIgnore) > 0:
		if matchesAny(f.TablesToIgnore, t) {
			return false
		}
	case len(f.TablesToInclude) > 0:
		if !matchesAny(f.TablesToInclude, t) {
			return false
		}
	}
	return true
}

// AllowsRelationship reports whether both ends of r pass the filter.
func (f Filter) AllowsRelationship(r graph.Relationship) bool {
	return f.Allows(r.Parent) && f.Allows(r.Child)
}

func (f Filter) filterTables(in []graph.Table) []graph.Table {
	out := in[:0]
	for _, t := range in {
		if f.Allows(t) {
			out = append(out, t)
		}
	}
	return out
}

func (f Filter) filterRelationships(in []graph.Relationship) []graph.Relationship {
	out := in[:0]
	for _, r := range in {
		if f.AllowsRelationship(r) {
			out = append(out, r)
		}
	}
	return out
}

// DeleteOptions tunes RenderDelete.
type DeleteOptions struct {
	// FormatDeleteStatement, when set, renders the statement that empties a
	// single table instead of the dialect default. It may span several
	// statements; comments are dropped before execution.
	FormatDeleteStatement func(graph.Table) string
}

func (o DeleteOptions) statement(t graph.Table, def func(graph.Table) string) string {
	if o.FormatDeleteStatement != nil {
		return terminate(o.FormatDeleteStatement(t))
	}
	return def(t)
}

// TemporalTable pairs a system-versioned table with its history table.
type TemporalTable struct {
	Table   graph.Table `json:"table"`
	History graph.Table `json:"history"`
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func matchesAny(patterns []graph.Table, t graph.Table) bool {
	for _, p := range patterns {
		if t.Matches(p) {
			return true
		}
	}
	return false
}

func terminate(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if !strings.HasSuffix(stmt, ";") {
		if strings.Contains(stmt, "--") {
			// a trailing line comment would swallow the terminator
			stmt += "\n"
		}
		stmt += ";"
	}
	return stmt
}
