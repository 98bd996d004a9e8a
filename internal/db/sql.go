package db

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"db_respawn/internal/graph"
)

// script accumulates terminated statements, one per line.
type script struct {
	b strings.Builder
}

func (s *script) add(stmt string) {
	s.b.WriteString(terminate(stmt))
	s.b.WriteByte('\n')
}

func (s *script) String() string { return s.b.String() }

type quoteFunc func(string) string

func qualified(t graph.Table, quote quoteFunc) string {
	if t.Schema == "" {
		return quote(t.Name)
	}
	return quote(t.Schema) + "." + quote(t.Name)
}

func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteBracket(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// relationshipName qualifies a constraint name with its table so names stay
// unique across a database.
func relationshipName(child graph.Table, constraint string) string {
	return child.String() + "." + constraint
}

// endpoints returns the distinct tables selected by pick, sorted.
func endpoints(rels []graph.Relationship, pick func(graph.Relationship) []graph.Table) []graph.Table {
	seen := make(map[string]struct{})
	var out []graph.Table
	for _, r := range rels {
		for _, t := range pick(r) {
			if _, ok := seen[t.Key()]; ok {
				continue
			}
			seen[t.Key()] = struct{}{}
			out = append(out, t)
		}
	}
	slices.SortFunc(out, graph.Compare)
	return out
}

func bothEnds(r graph.Relationship) []graph.Table { return []graph.Table{r.Parent, r.Child} }

func childEnd(r graph.Relationship) []graph.Table { return []graph.Table{r.Child} }

// SplitStatements splits a rendered script on semicolons that are outside of
// quotes, backticks, brackets and Postgres dollar-quoted bodies. Line and
// block comments are dropped. Drivers differ in multi-statement support, so
// scripts are always executed one statement at a time.
func SplitStatements(sqlText string) []string {
	var (
		out     []string
		current strings.Builder
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			out = append(out, stmt)
		}
		current.Reset()
	}

	src := []rune(sqlText)
	for i := 0; i < len(src); i++ {
		r := src[i]
		switch {
		case r == '-' && next(src, i) == '-':
			// the newline is kept so the comment still separates tokens
			i = indexFrom(src, i+2, "\n") - 1
			continue
		case r == '/' && next(src, i) == '*':
			i = indexFrom(src, i+2, "*/") + 1
			current.WriteRune(' ')
			continue
		case r == '\'' || r == '"' || r == '`' || r == '[':
			closer := r
			if r == '[' {
				closer = ']'
			}
			end := min(indexFrom(src, i+1, string(closer)), len(src)-1)
			current.WriteString(string(src[i : end+1]))
			i = end
			continue
		case r == '$':
			if tag, ok := dollarTag(src, i); ok {
				end := min(indexFrom(src, i+len(tag), tag)+len(tag), len(src))
				current.WriteString(string(src[i:end]))
				i = end - 1
				continue
			}
		case r == ';':
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return out
}

func next(src []rune, i int) rune {
	if i+1 < len(src) {
		return src[i+1]
	}
	return 0
}

// indexFrom returns the index of seq in src at or after from, or len(src).
func indexFrom(src []rune, from int, seq string) int {
	want := []rune(seq)
	for i := from; i+len(want) <= len(src); i++ {
		if slices.Equal(src[i:i+len(want)], want) {
			return i
		}
	}
	return len(src)
}

// dollarTag reports the $tag$ opening a dollar-quoted body at src[i].
// Positional parameters such as $1 are not tags.
func dollarTag(src []rune, i int) (string, bool) {
	for j := i + 1; j < len(src); j++ {
		r := src[j]
		switch {
		case r == '$':
			return string(src[i : j+1]), true
		case r == '_' || unicode.IsLetter(r):
		case unicode.IsDigit(r) && j > i+1:
		default:
			return "", false
		}
	}
	return "", false
}

// queryTables runs a query returning (schema, name) rows.
func queryTables(ctx context.Context, q Querier, query string, args ...any) ([]graph.Table, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.Table
	for rows.Next() {
		var t graph.Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// queryRelationships runs a query returning (constraint, parent schema,
// parent table, child schema, child table) rows.
func queryRelationships(ctx context.Context, q Querier, query string, args ...any) ([]graph.Relationship, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.Relationship
	for rows.Next() {
		var (
			constraint string
			r          graph.Relationship
		)
		if err := rows.Scan(&constraint, &r.Parent.Schema, &r.Parent.Name, &r.Child.Schema, &r.Child.Name); err != nil {
			return nil, err
		}
		r.Name = relationshipName(r.Child, constraint)
		out = append(out, r)
	}
	return out, rows.Err()
}
