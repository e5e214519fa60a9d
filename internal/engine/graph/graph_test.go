package graph

import (
	"testing"
)

var (
	bldg  = Namespace("urn:bldg#")
	brick = Namespace("https://brickschema.org/schema/Brick#")
	a     = IRI(RDFType)
)

func TestGraph_AddRemoveMembership(t *testing.T) {
	g := New()
	vav := NewTriple(bldg.Term("vav1"), a, brick.Term("VAV"))

	if !g.Add(vav) {
		t.Fatal("expected first add to change membership")
	}
	if g.Add(vav) {
		t.Fatal("expected duplicate add to be a no-op")
	}
	if g.Len() != 1 {
		t.Fatalf("expected len 1, got %d", g.Len())
	}
	if !g.Remove(vav) {
		t.Fatal("expected remove of present triple to change membership")
	}
	if g.Remove(vav) {
		t.Fatal("expected remove of absent triple to be a no-op")
	}
	if g.Len() != 0 {
		t.Fatalf("expected empty graph, got %d", g.Len())
	}
}

func TestGraph_ApplyLastOpWins(t *testing.T) {
	x := NewTriple(bldg.Term("zone1"), a, brick.Term("HVAC_Zone"))
	y := NewTriple(bldg.Term("zone1"), brick.Term("hasPart"), bldg.Term("room1"))

	cases := []struct {
		name string
		ops  []Op
		want []Triple
	}{
		{"add", []Op{Add(x)}, []Triple{x}},
		{"add then remove", []Op{Add(x), Remove(x)}, nil},
		{"remove then add", []Op{Remove(x), Add(x)}, []Triple{x}},
		{"remove absent", []Op{Remove(y)}, nil},
		{"re-add removed", []Op{Add(x), Remove(x), Add(x), Add(y)}, []Triple{x, y}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New()
			g.ApplyAll(tc.ops)
			if !g.Equal(New(tc.want...)) {
				t.Fatalf("expected %v, got %v", tc.want, g.Triples())
			}
		})
	}
}

func TestInvertOps_RestoresState(t *testing.T) {
	x := NewTriple(bldg.Term("vav1"), a, brick.Term("VAV"))
	y := NewTriple(bldg.Term("vav1"), brick.Term("feeds"), bldg.Term("zone1"))
	base := New(y)

	ops := []Op{Add(x), Remove(y), Add(y), Remove(x), Add(x)}
	g := base.Clone()
	g.ApplyAll(ops)
	g.ApplyAll(InvertOps(ops))

	if !g.Equal(base) {
		t.Fatalf("expected inverse ops to restore %v, got %v", base.Triples(), g.Triples())
	}
	inv := InvertOps(ops)
	if inv[0] != Remove(x) || inv[len(inv)-1] != Remove(x) {
		t.Fatalf("unexpected inverse order: %v", inv)
	}
}

func TestGraph_MatchAndInstances(t *testing.T) {
	g := New(
		NewTriple(bldg.Term("Floor1"), a, brick.Term("Floor")),
		NewTriple(bldg.Term("Floor2"), a, brick.Term("Floor")),
		NewTriple(bldg.Term("Building"), a, brick.Term("Building")),
		NewTriple(bldg.Term("Building"), brick.Term("hasPart"), bldg.Term("Floor1")),
	)

	floor := brick.Term("Floor")
	floors := g.InstancesOf(floor)
	if len(floors) != 2 {
		t.Fatalf("expected 2 floors, got %d", len(floors))
	}

	subj := bldg.Term("Building")
	got := g.Match(Pattern{Subject: &subj})
	if len(got) != 2 {
		t.Fatalf("expected 2 triples about Building, got %d", len(got))
	}
	if len(g.Match(Pattern{})) != g.Len() {
		t.Fatal("empty pattern should match every triple")
	}
}

func TestGraph_DifferenceAndClone(t *testing.T) {
	x := NewTriple(bldg.Term("a"), a, brick.Term("VAV"))
	y := NewTriple(bldg.Term("b"), a, brick.Term("VAV"))
	g1 := New(x, y)
	g2 := g1.Clone()
	g2.Remove(y)

	if g1.Len() != 2 {
		t.Fatal("clone must not share storage with the original")
	}
	diff := g1.Difference(g2)
	if len(diff) != 1 || diff[0] != y {
		t.Fatalf("expected difference [y], got %v", diff)
	}
	if len(g2.Difference(g1)) != 0 {
		t.Fatal("expected empty reverse difference")
	}
}

func TestTerm_StringAndEquality(t *testing.T) {
	cases := []struct {
		term Term
		want string
	}{
		{IRI("urn:bldg#vav1"), "<urn:bldg#vav1>"},
		{Blank("b0"), "_:b0"},
		{Literal("My Building"), `"My Building"`},
		{LangLiteral("Gebäude", "DE"), `"Gebäude"@de`},
		{TypedLiteral("42", "http://www.w3.org/2001/XMLSchema#integer"), `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{Literal("line\n\"quoted\""), `"line\n\"quoted\""`},
	}
	for _, tc := range cases {
		if got := tc.term.String(); got != tc.want {
			t.Errorf("expected %s, got %s", tc.want, got)
		}
	}

	if TypedLiteral("x", XSDString) != Literal("x") {
		t.Error("xsd:string literal should equal a plain literal")
	}
	if Literal("1") == TypedLiteral("1", "http://www.w3.org/2001/XMLSchema#integer") {
		t.Error("typed and plain literals must differ")
	}
}

func TestTriple_Validate(t *testing.T) {
	ok := NewTriple(bldg.Term("vav1"), a, Literal("x"))
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := NewTriple(Literal("x"), a, bldg.Term("vav1"))
	if err := bad.Validate(); err == nil {
		t.Fatal("expected literal subject to be rejected")
	}
	bad = NewTriple(bldg.Term("vav1"), Blank("p"), bldg.Term("vav1"))
	if err := bad.Validate(); err == nil {
		t.Fatal("expected blank predicate to be rejected")
	}
}

func TestTerm_ValidateRejectsUnrenderableTerms(t *testing.T) {
	tests := []struct {
		name string
		term Term
		ok   bool
	}{
		{"iri", bldg.Term("vav1"), true},
		{"blank", Blank("b0"), true},
		{"blank with inner dot", Blank("a.b"), true},
		{"blank with space", Blank("a b"), false},
		{"blank with trailing dot", Blank("x."), false},
		{"empty blank", Blank(""), false},
		{"lang literal", LangLiteral("hi", "en-US"), true},
		{"underscore lang tag", LangLiteral("hi", "en_US"), false},
		{"invalid utf-8 literal", Literal("\xff"), false},
		{"multiline literal", Literal("a\nb"), true},
		{"iri with newline", IRI("urn:a\nb"), false},
		{"datatype with control char", TypedLiteral("1", "urn:\x01int"), false},
		{"lang and datatype", Term{Kind: KindLiteral, Value: "x", Lang: "en", Datatype: "urn:dt"}, false},
		{"upper case lang tag", Term{Kind: KindLiteral, Value: "x", Lang: "EN"}, false},
		{"explicit xsd:string", Term{Kind: KindLiteral, Value: "x", Datatype: XSDString}, false},
		{"zero term", Term{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.term.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected %v to be valid, got %v", tt.term, err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected %#v to be rejected", tt.term)
			}
		})
	}

	bad := NewTriple(bldg.Term("vav1"), a, Blank("a b"))
	if err := bad.Validate(); err == nil {
		t.Fatal("triple validation should check every term")
	}
}

func TestEffectiveOps_DropsRedundantOps(t *testing.T) {
	x := NewTriple(bldg.Term("vav1"), a, brick.Term("VAV"))
	y := NewTriple(bldg.Term("vav2"), a, brick.Term("VAV"))
	base := New(x)

	ops := []Op{Add(x), Remove(y), Add(y), Add(y)}
	eff := EffectiveOps(base, ops)
	if len(eff) != 1 || eff[0] != Add(y) {
		t.Fatalf("expected only Add(y) to be effective, got %v", eff)
	}

	g := base.Clone()
	g.ApplyAll(ops)
	g.ApplyAll(InvertOps(eff))
	if !g.Equal(base) {
		t.Fatalf("expected effective inverse to restore base, got %v", g.Triples())
	}

	naive := base.Clone()
	naive.ApplyAll(ops)
	naive.ApplyAll(InvertOps(ops))
	if naive.Has(x) {
		t.Fatal("naive inverse of a redundant add is expected to drop x")
	}
}
