// Package output renders a materialized dataset for people and tools:
// Graphviz DOT, Mermaid flowcharts and tab-separated rows.
package output

import (
	"fmt"
	"sort"
	"strings"

	"vrdf/internal/engine/graph"
)

// Options tune every generator.
type Options struct {
	// Prefixes compact IRIs in labels, e.g. brick -> https://brickschema.org/schema/Brick#.
	Prefixes map[string]string
	// MaxTriples truncates large graphs; 0 renders everything.
	MaxTriples int
}

// Compact shortens iri with the longest matching namespace in prefixes.
func Compact(iri string, prefixes map[string]string) string {
	best, bestNS := "", ""
	for name, ns := range prefixes {
		if strings.HasPrefix(iri, ns) && len(ns) > len(bestNS) {
			best, bestNS = name, ns
		}
	}
	if bestNS == "" {
		return iri
	}
	return best + ":" + iri[len(bestNS):]
}

func label(t graph.Term, prefixes map[string]string) string {
	switch t.Kind {
	case graph.KindIRI:
		return Compact(t.Value, prefixes)
	case graph.KindBlank:
		return "_:" + t.Value
	default:
		return t.String()
	}
}

type node struct {
	id    string
	term  graph.Term
	class bool
}

// layout assigns stable ids to every term used as a node. Objects of
// rdf:type are flagged as classes.
type layout struct {
	triples []graph.Triple
	nodes   []*node
	byTerm  map[graph.Term]*node
}

func newLayout(g *graph.Graph, max int) *layout {
	ts := g.Triples()
	if max > 0 && len(ts) > max {
		ts = ts[:max]
	}
	l := &layout{triples: ts, byTerm: make(map[graph.Term]*node)}
	typ := graph.IRI(graph.RDFType)
	for _, t := range ts {
		l.add(t.Subject)
		o := l.add(t.Object)
		if t.Predicate == typ {
			o.class = true
		}
	}
	sort.Slice(l.nodes, func(i, j int) bool {
		return l.nodes[i].term.String() < l.nodes[j].term.String()
	})
	for i, n := range l.nodes {
		n.id = fmt.Sprintf("n%d", i)
	}
	return l
}

func (l *layout) add(t graph.Term) *node {
	if n, ok := l.byTerm[t]; ok {
		return n
	}
	n := &node{term: t}
	l.byTerm[t] = n
	l.nodes = append(l.nodes, n)
	return n
}

func (l *layout) truncated(g *graph.Graph) int {
	return g.Len() - len(l.triples)
}
