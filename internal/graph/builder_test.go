package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rel(name string, parent, child Table) Relationship {
	return Relationship{Name: name, Parent: parent, Child: child}
}

var (
	tA = NewTable("dbo", "A")
	tB = NewTable("dbo", "B")
	tC = NewTable("dbo", "C")
	tD = NewTable("dbo", "D")
)

func TestBuildNoRelationships(t *testing.T) {
	g := Build([]Table{tC, tA, tB}, nil)

	assert.Equal(t, []Table{tA, tB, tC}, g.ToDelete)
	assert.Empty(t, g.CyclicalTables)
	assert.Empty(t, g.CyclicalTableRelationships)
	assert.False(t, g.HasCycles())
}

func TestBuildEmptyInput(t *testing.T) {
	g := Build(nil, nil)
	assert.Empty(t, g.ToDelete)
	assert.Empty(t, g.CyclicalTables)
}

func TestBuildDiamondChain(t *testing.T) {
	g := Build(
		[]Table{tA, tB, tC},
		[]Relationship{
			rel("fk_b_a", tA, tB),
			rel("fk_c_b", tB, tC),
			rel("fk_c_a", tA, tC),
		},
	)

	assert.Equal(t, []Table{tC, tB, tA}, g.ToDelete)
	assert.Empty(t, g.CyclicalTables)
}

func TestBuildMutualCycle(t *testing.T) {
	ab := rel("fk_b_a", tA, tB)
	ba := rel("fk_a_b", tB, tA)
	g := Build([]Table{tA, tB}, []Relationship{ab, ba})

	assert.Empty(t, g.ToDelete)
	assert.Equal(t, []Table{tA, tB}, g.CyclicalTables)
	assert.ElementsMatch(t, []Relationship{ab, ba}, g.CyclicalTableRelationships)
	assert.True(t, g.HasCycles())
}

func TestBuildCycleDoesNotDisturbIndependentChain(t *testing.T) {
	g := Build(
		[]Table{tD, tC, tB, tA},
		[]Relationship{
			rel("fk_b_a", tA, tB),
			rel("fk_a_b", tB, tA),
			rel("fk_d_c", tC, tD),
		},
	)

	assert.Equal(t, []Table{tD, tC}, g.ToDelete)
	assert.Equal(t, []Table{tA, tB}, g.CyclicalTables)
	require.Len(t, g.CyclicalTableRelationships, 2)
	for _, r := range g.CyclicalTableRelationships {
		assert.NotEqual(t, "fk_d_c", r.Name)
	}
}

func TestBuildTableReferencingCycleStaysOrdered(t *testing.T) {
	// C references A, which is in a cycle with B. C is not cyclic itself.
	g := Build(
		[]Table{tA, tB, tC},
		[]Relationship{
			rel("fk_b_a", tA, tB),
			rel("fk_a_b", tB, tA),
			rel("fk_c_a", tA, tC),
		},
	)

	assert.Equal(t, []Table{tC}, g.ToDelete)
	assert.Equal(t, []Table{tA, tB}, g.CyclicalTables)
	assert.Len(t, g.CyclicalTableRelationships, 3)
}

func TestBuildSelfReferenceIsNotACycle(t *testing.T) {
	self := rel("fk_a_parent", tA, tA)
	g := Build([]Table{tA, tB}, []Relationship{self, rel("fk_b_a", tA, tB)})

	assert.Equal(t, []Table{tB, tA}, g.ToDelete)
	assert.Empty(t, g.CyclicalTables)
	assert.Equal(t, []Relationship{self}, g.SelfReferencingRelationships)
}

func TestBuildIgnoresUnresolvedEndpoints(t *testing.T) {
	missing := NewTable("dbo", "missing")
	g := Build(
		[]Table{tA, tB},
		[]Relationship{
			rel("fk_b_missing", missing, tB),
			rel("fk_missing_a", tA, missing),
		},
	)

	assert.Equal(t, []Table{tA, tB}, g.ToDelete)
	assert.Empty(t, g.CyclicalTables)
}

func TestBuildDeduplicatesRelationshipsByName(t *testing.T) {
	// Multi-column keys come back as one row per column.
	g := Build(
		[]Table{tA, tB},
		[]Relationship{
			rel("fk_b_a", tA, tB),
			rel("fk_b_a", tA, tB),
			// Same name, different endpoints: the first one wins.
			rel("fk_b_a", tB, tA),
		},
	)

	assert.Equal(t, []Table{tB, tA}, g.ToDelete)
	assert.Empty(t, g.CyclicalTables)
}

func TestBuildDeduplicatesTablesCaseInsensitively(t *testing.T) {
	g := Build([]Table{tA, NewTable("DBO", "a"), tB}, nil)
	assert.Len(t, g.ToDelete, 2)
}

func TestBuildOverlappingCycles(t *testing.T) {
	// A<->B and B<->C share B; D hangs off C; E is reached only via a cross
	// edge into an already finished component member.
	tE := NewTable("dbo", "E")
	g := Build(
		[]Table{tA, tB, tC, tD, tE},
		[]Relationship{
			rel("r1", tA, tB),
			rel("r2", tB, tA),
			rel("r3", tB, tC),
			rel("r4", tC, tB),
			rel("r5", tC, tD),
			rel("r6", tA, tE),
			rel("r7", tE, tB),
		},
	)

	assert.Equal(t, []Table{tD}, g.ToDelete)
	assert.Equal(t, []Table{tA, tB, tC, tE}, g.CyclicalTables)
}

func TestBuildCyclicRelationshipsMatchByNameAcrossSchemas(t *testing.T) {
	other := NewTable("audit", "A")
	x := NewTable("audit", "X")
	g := Build(
		[]Table{tA, tB, other, x},
		[]Relationship{
			rel("fk_b_a", tA, tB),
			rel("fk_a_b", tB, tA),
			rel("fk_x_audit_a", other, x),
		},
	)

	assert.Equal(t, []Table{tA, tB}, g.CyclicalTables)
	assert.Len(t, g.CyclicalTableRelationships, 3)
	assert.Equal(t, []Table{x, other}, g.ToDelete)
}

func TestBuildIsIdempotent(t *testing.T) {
	tables := []Table{tA, tB, tC, tD}
	rels := []Relationship{
		rel("fk_b_a", tA, tB),
		rel("fk_a_b", tB, tA),
		rel("fk_d_c", tC, tD),
	}
	first := Build(tables, rels)
	second := Build(
		[]Table{NewTable("dbo", "D"), NewTable("dbo", "C"), NewTable("dbo", "B"), NewTable("dbo", "A")},
		[]Relationship{rels[2], rels[1], rels[0]},
	)

	assert.Equal(t, first, second)
}

func TestBuildDeepChainDoesNotRecurse(t *testing.T) {
	const depth = 50_000
	tables := make([]Table, depth)
	rels := make([]Relationship, 0, depth-1)
	for i := range tables {
		tables[i] = NewTable("s", fmtIndex(i))
		if i > 0 {
			rels = append(rels, rel("fk_"+fmtIndex(i), tables[i-1], tables[i]))
		}
	}

	g := Build(tables, rels)
	require.Len(t, g.ToDelete, depth)
	assert.Equal(t, tables[depth-1], g.ToDelete[0])
	assert.Equal(t, tables[0], g.ToDelete[depth-1])
}

func TestParseTable(t *testing.T) {
	tests := []struct {
		in   string
		want Table
	}{
		{"users", Table{Name: "users"}},
		{"public.users", Table{Schema: "public", Name: "users"}},
		{" app.v1.users ", Table{Schema: "app.v1", Name: "users"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTable(tt.in))
		})
	}
}

func TestTableMatches(t *testing.T) {
	users := NewTable("public", "Users")
	assert.True(t, users.Matches(Table{Name: "users"}))
	assert.True(t, users.Matches(NewTable("PUBLIC", "users")))
	assert.False(t, users.Matches(NewTable("audit", "users")))
	assert.False(t, users.Matches(Table{Name: "orders"}))
}

func TestTableEqualityAndOrdering(t *testing.T) {
	assert.True(t, NewTable("Public", "Users").Equal(NewTable("public", "users")))
	assert.Equal(t, NewTable("Public", "Users").Key(), NewTable("public", "USERS").Key())
	assert.Negative(t, Compare(NewTable("a", "z"), NewTable("B", "a")))
	assert.Equal(t, "public.users", NewTable("public", "users").String())
	assert.Equal(t, "users", Table{Name: "users"}.String())
}

func TestRelationshipEquality(t *testing.T) {
	assert.True(t, rel("fk", tA, tB).Equal(rel("fk", tC, tD)))
	assert.False(t, rel("fk1", tA, tB).Equal(rel("fk2", tA, tB)))
	assert.True(t, rel("fk", tA, NewTable("DBO", "a")).IsSelfReferencing())
}
