// # internal/output/dot.go
package output

import (
	"fmt"
	"strings"

	"vrdf/internal/engine/graph"
)

type DOTGenerator struct {
	graph *graph.Graph
	opts  Options
}

func NewDOTGenerator(g *graph.Graph, opts Options) *DOTGenerator {
	return &DOTGenerator{graph: g, opts: opts}
}

func (d *DOTGenerator) Generate(name string) (string, error) {
	var buf strings.Builder
	l := newLayout(d.graph, d.opts.MaxTriples)

	fmt.Fprintf(&buf, "digraph %s {\n", dotID(name))
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  node [shape=box, style=rounded, fontname=\"Helvetica\", fontsize=10];\n")
	buf.WriteString("  edge [fontname=\"Helvetica\", fontsize=8, penwidth=1.2];\n")
	buf.WriteString("  overlap=false;\n\n")

	for _, n := range l.nodes {
		attrs := fmt.Sprintf("label=%s", dotID(label(n.term, d.opts.Prefixes)))
		switch {
		case n.term.Kind == graph.KindLiteral:
			attrs += ", shape=plaintext"
		case n.class:
			attrs += ", shape=ellipse, style=filled, fillcolor=\"lightyellow\""
		case n.term.Kind == graph.KindBlank:
			attrs += ", style=\"rounded,dashed\""
		}
		fmt.Fprintf(&buf, "  %s [%s];\n", n.id, attrs)
	}
	buf.WriteString("\n")

	typ := graph.IRI(graph.RDFType)
	for _, t := range l.triples {
		from, to := l.byTerm[t.Subject], l.byTerm[t.Object]
		if t.Predicate == typ {
			fmt.Fprintf(&buf, "  %s -> %s [label=\"a\", style=dashed, color=\"gray40\"];\n", from.id, to.id)
			continue
		}
		fmt.Fprintf(&buf, "  %s -> %s [label=%s];\n", from.id, to.id, dotID(label(t.Predicate, d.opts.Prefixes)))
	}
	if n := l.truncated(d.graph); n > 0 {
		fmt.Fprintf(&buf, "\n  // %d more triple(s) not shown\n", n)
	}
	buf.WriteString("}\n")
	return buf.String(), nil
}

func dotID(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s) + `"`
}
