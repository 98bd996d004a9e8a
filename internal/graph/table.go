package graph

import "strings"

// Table identifies a relational table by an optional schema and a name.
type Table struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
}

// NewTable returns a Table for the given schema and name.
func NewTable(schema, name string) Table {
	return Table{Schema: schema, Name: name}
}

// ParseTable parses "schema.table" or "table".
func ParseTable(s string) Table {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "."); i > 0 {
		return Table{Schema: s[:i], Name: s[i+1:]}
	}
	return Table{Name: s}
}

// Key is the case-insensitive identity of the table.
func (t Table) Key() string {
	return strings.ToLower(t.Schema) + "." + strings.ToLower(t.Name)
}

// Equal reports whether t and o name the same table, ignoring case.
func (t Table) Equal(o Table) bool {
	return strings.EqualFold(t.Schema, o.Schema) && strings.EqualFold(t.Name, o.Name)
}

// Matches reports whether t is selected by pattern. An empty pattern schema
// matches any schema.
func (t Table) Matches(pattern Table) bool {
	if pattern.Schema != "" && !strings.EqualFold(t.Schema, pattern.Schema) {
		return false
	}
	return strings.EqualFold(t.Name, pattern.Name)
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Compare orders tables case-insensitively by schema, then name.
func Compare(a, b Table) int {
	if c := strings.Compare(strings.ToLower(a.Schema), strings.ToLower(b.Schema)); c != 0 {
		return c
	}
	return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}

// Relationship is a single foreign-key constraint. Parent is the referenced
// (primary key) table and Child the referencing (foreign key) table.
//
// Two relationships with the same Name are the same constraint, which lets
// adapters return one row per constrained column without creating duplicates.
type Relationship struct {
	Name   string `json:"name"`
	Parent Table  `json:"parent"`
	Child  Table  `json:"child"`
}

// Equal compares relationships by constraint name.
func (r Relationship) Equal(o Relationship) bool {
	return r.Name == o.Name
}

// IsSelfReferencing reports whether both ends are the same table.
func (r Relationship) IsSelfReferencing() bool {
	return r.Parent.Equal(r.Child)
}
