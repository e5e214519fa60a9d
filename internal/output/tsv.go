// # internal/output/tsv.go
package output

import (
	"strings"

	"vrdf/internal/engine/graph"
)

type TSVGenerator struct {
	graph *graph.Graph
	opts  Options
}

func NewTSVGenerator(g *graph.Graph, opts Options) *TSVGenerator {
	return &TSVGenerator{graph: g, opts: opts}
}

// Generate writes one row per triple. IRIs are compacted when a prefix
// matches; other terms keep their N-Triples form.
func (t *TSVGenerator) Generate() (string, error) {
	var buf strings.Builder
	buf.WriteString("Subject\tPredicate\tObject\n")

	l := newLayout(t.graph, t.opts.MaxTriples)
	for _, tr := range l.triples {
		buf.WriteString(tsvField(label(tr.Subject, t.opts.Prefixes)))
		buf.WriteByte('\t')
		buf.WriteString(tsvField(label(tr.Predicate, t.opts.Prefixes)))
		buf.WriteByte('\t')
		buf.WriteString(tsvField(label(tr.Object, t.opts.Prefixes)))
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}

var tsvEscaper = strings.NewReplacer("\t", `\t`, "\n", `\n`, "\r", `\r`)

func tsvField(s string) string {
	return tsvEscaper.Replace(s)
}
