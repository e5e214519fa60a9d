package output

import (
	"fmt"
	"strings"

	"vrdf/internal/engine/graph"
)

type MermaidGenerator struct {
	graph *graph.Graph
	opts  Options
}

func NewMermaidGenerator(g *graph.Graph, opts Options) *MermaidGenerator {
	return &MermaidGenerator{graph: g, opts: opts}
}

func (m *MermaidGenerator) Generate() (string, error) {
	var b strings.Builder
	l := newLayout(m.graph, m.opts.MaxTriples)

	b.WriteString("flowchart LR\n")
	for _, n := range l.nodes {
		text := mermaidText(label(n.term, m.opts.Prefixes))
		switch {
		case n.class:
			fmt.Fprintf(&b, "  %s([\"%s\"])\n", n.id, text)
		case n.term.Kind == graph.KindLiteral:
			fmt.Fprintf(&b, "  %s>\"%s\"]\n", n.id, text)
		default:
			fmt.Fprintf(&b, "  %s[\"%s\"]\n", n.id, text)
		}
	}

	typ := graph.IRI(graph.RDFType)
	for _, t := range l.triples {
		from, to := l.byTerm[t.Subject], l.byTerm[t.Object]
		if t.Predicate == typ {
			fmt.Fprintf(&b, "  %s -.->|a| %s\n", from.id, to.id)
			continue
		}
		fmt.Fprintf(&b, "  %s -->|\"%s\"| %s\n", from.id, mermaidText(label(t.Predicate, m.opts.Prefixes)), to.id)
	}

	classes := make([]string, 0)
	for _, n := range l.nodes {
		if n.class {
			classes = append(classes, n.id)
		}
	}
	if len(classes) > 0 {
		b.WriteString("  classDef class fill:#fffde7,stroke:#b59f00\n")
		fmt.Fprintf(&b, "  class %s class\n", strings.Join(classes, ","))
	}
	if n := l.truncated(m.graph); n > 0 {
		fmt.Fprintf(&b, "  %%%% %d more triple(s) not shown\n", n)
	}
	return b.String(), nil
}

var mermaidEscaper = strings.NewReplacer(`"`, "#quot;", "\n", " ", "|", "#124;")

func mermaidText(s string) string {
	return mermaidEscaper.Replace(s)
}
