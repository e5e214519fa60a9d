package ntriples

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"vrdf/internal/engine/graph"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		name string
		line string
		want graph.Triple
	}{
		{
			name: "iris",
			line: `<urn:bldg#vav1> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <https://brickschema.org/schema/Brick#VAV> .`,
			want: graph.NewTriple(graph.IRI("urn:bldg#vav1"), graph.IRI(graph.RDFType), graph.IRI("https://brickschema.org/schema/Brick#VAV")),
		},
		{
			name: "plain literal no space before dot",
			line: `<urn:bldg#b> <http://www.w3.org/2000/01/rdf-schema#label> "My Building".`,
			want: graph.NewTriple(graph.IRI("urn:bldg#b"), graph.IRI(graph.RDFSLabel), graph.Literal("My Building")),
		},
		{
			name: "language literal",
			line: `<urn:x> <urn:p> "Gebäude"@de .`,
			want: graph.NewTriple(graph.IRI("urn:x"), graph.IRI("urn:p"), graph.LangLiteral("Gebäude", "de")),
		},
		{
			name: "typed literal",
			line: `<urn:x> <urn:p> "42"^^<http://www.w3.org/2001/XMLSchema#integer> .`,
			want: graph.NewTriple(graph.IRI("urn:x"), graph.IRI("urn:p"), graph.TypedLiteral("42", "http://www.w3.org/2001/XMLSchema#integer")),
		},
		{
			name: "escapes",
			line: `<urn:x> <urn:p> "tab\there \"q\" é" .`,
			want: graph.NewTriple(graph.IRI("urn:x"), graph.IRI("urn:p"), graph.Literal("tab\there \"q\" é")),
		},
		{
			name: "blank nodes",
			line: `_:b0 <urn:p> _:b1.`,
			want: graph.NewTriple(graph.Blank("b0"), graph.IRI("urn:p"), graph.Blank("b1")),
		},
		{
			name: "trailing comment",
			line: `<urn:x> <urn:p> <urn:o> . # note`,
			want: graph.NewTriple(graph.IRI("urn:x"), graph.IRI("urn:p"), graph.IRI("urn:o")),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLine(tc.line)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestParseLine_Rejects(t *testing.T) {
	bad := []string{
		`<urn:x> <urn:p> <urn:o>`,
		`<urn:x> <urn:p> .`,
		`"lit" <urn:p> <urn:o> .`,
		`<urn:x> _:p <urn:o> .`,
		`<urn:x> <urn:p> "unterminated .`,
		`<urn:x <urn:p> <urn:o> .`,
		`<urn:x> <urn:p> <urn:o> . extra`,
		`<urn:x> <urn:p> "bad\q" .`,
	}
	for _, line := range bad {
		if _, err := ParseLine(line); err == nil {
			t.Errorf("expected error for %q", line)
		}
	}
}

func TestRoundTrip_TermRendering(t *testing.T) {
	triples := []graph.Triple{
		graph.NewTriple(graph.IRI("urn:a b"), graph.IRI("urn:p"), graph.Literal("multi\nline \\ \"x\"")),
		graph.NewTriple(graph.Blank("n1"), graph.IRI("urn:p"), graph.LangLiteral("hi", "en-GB")),
		graph.NewTriple(graph.IRI("urn:s"), graph.IRI("urn:p"), graph.TypedLiteral("1.5", "http://www.w3.org/2001/XMLSchema#decimal")),
	}
	for _, tr := range triples {
		got, err := ParseLine(tr.String())
		if err != nil {
			t.Fatalf("parse %q: %v", tr.String(), err)
		}
		if got != tr {
			t.Fatalf("expected %v, got %v", tr, got)
		}
	}
}

func TestDecoder_SkipsCommentsAndReportsLine(t *testing.T) {
	doc := strings.Join([]string{
		"# header",
		"",
		`<urn:a> <urn:p> <urn:b> .`,
		`<urn:a> <urn:p> oops .`,
	}, "\n")

	dec := NewDecoder(strings.NewReader(doc))
	if _, err := dec.Next(); err != nil {
		t.Fatalf("first statement: %v", err)
	}
	_, err := dec.Next()
	var syn *SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	if syn.Line != 4 {
		t.Fatalf("expected error on line 4, got %d", syn.Line)
	}
}

func TestWriteGraph_SortedAndReadable(t *testing.T) {
	g := graph.New(
		graph.NewTriple(graph.IRI("urn:b"), graph.IRI("urn:p"), graph.Literal("2")),
		graph.NewTriple(graph.IRI("urn:a"), graph.IRI("urn:p"), graph.Literal("1")),
	)
	var buf bytes.Buffer
	if err := WriteGraph(&buf, g); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "<urn:a>") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}

	back, err := ReadAll(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !graph.New(back...).Equal(g) {
		t.Fatalf("expected round trip to preserve graph, got %v", back)
	}
}

func TestParseTerm(t *testing.T) {
	term, err := ParseTerm(`"3"^^<http://www.w3.org/2001/XMLSchema#integer>`)
	if err != nil {
		t.Fatal(err)
	}
	if term.Kind != graph.KindLiteral || term.Datatype == "" {
		t.Fatalf("unexpected term %+v", term)
	}
	if _, err := ParseTerm(`<urn:x> <urn:y>`); err == nil {
		t.Fatal("expected trailing input error")
	}
}
