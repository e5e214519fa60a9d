// # internal/engine/graph/graph.go
package graph

import (
	"iter"
	"sort"
)

// Graph is a set of triples keyed by structural identity. It is not safe for
// concurrent mutation; materialized graphs handed to callers are private
// copies, so callers may mutate them freely.
type Graph struct {
	triples map[Triple]struct{}
}

func New(triples ...Triple) *Graph {
	g := &Graph{triples: make(map[Triple]struct{}, len(triples))}
	for _, t := range triples {
		g.triples[t] = struct{}{}
	}
	return g
}

func NewWithCapacity(n int) *Graph {
	if n < 0 {
		n = 0
	}
	return &Graph{triples: make(map[Triple]struct{}, n)}
}

// Add inserts t and reports whether membership changed.
func (g *Graph) Add(t Triple) bool {
	if _, ok := g.triples[t]; ok {
		return false
	}
	g.triples[t] = struct{}{}
	return true
}

// Remove deletes t and reports whether membership changed.
func (g *Graph) Remove(t Triple) bool {
	if _, ok := g.triples[t]; !ok {
		return false
	}
	delete(g.triples, t)
	return true
}

// Apply folds one operation into the set.
func (g *Graph) Apply(op Op) {
	switch op.Kind {
	case OpAdd:
		g.triples[op.Triple] = struct{}{}
	case OpRemove:
		delete(g.triples, op.Triple)
	}
}

// ApplyAll folds ops in order.
func (g *Graph) ApplyAll(ops []Op) {
	for _, op := range ops {
		g.Apply(op)
	}
}

func (g *Graph) Has(t Triple) bool {
	if g == nil {
		return false
	}
	_, ok := g.triples[t]
	return ok
}

func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.triples)
}

// All iterates the set in unspecified order.
func (g *Graph) All() iter.Seq[Triple] {
	return func(yield func(Triple) bool) {
		if g == nil {
			return
		}
		for t := range g.triples {
			if !yield(t) {
				return
			}
		}
	}
}

// Triples returns the members sorted by their N-Triples rendering, which
// gives stable output for printing and comparisons in tests.
func (g *Graph) Triples() []Triple {
	if g == nil {
		return nil
	}
	out := make([]Triple, 0, len(g.triples))
	for t := range g.triples {
		out = append(out, t)
	}
	SortTriples(out)
	return out
}

func SortTriples(ts []Triple) {
	sort.Slice(ts, func(i, j int) bool {
		return ts[i].String() < ts[j].String()
	})
}

func (g *Graph) Clone() *Graph {
	if g == nil {
		return New()
	}
	out := &Graph{triples: make(map[Triple]struct{}, len(g.triples))}
	for t := range g.triples {
		out.triples[t] = struct{}{}
	}
	return out
}

// Union adds every member of other into g.
func (g *Graph) Union(other *Graph) {
	if other == nil {
		return
	}
	for t := range other.triples {
		g.triples[t] = struct{}{}
	}
}

// Difference returns the members of g that are not in other.
func (g *Graph) Difference(other *Graph) []Triple {
	out := make([]Triple, 0)
	if g == nil {
		return out
	}
	for t := range g.triples {
		if !other.Has(t) {
			out = append(out, t)
		}
	}
	SortTriples(out)
	return out
}

func (g *Graph) Equal(other *Graph) bool {
	if g.Len() != other.Len() {
		return false
	}
	for t := range g.All() {
		if !other.Has(t) {
			return false
		}
	}
	return true
}

// Pattern is a triple pattern; a nil position matches anything.
type Pattern struct {
	Subject   *Term
	Predicate *Term
	Object    *Term
}

func (p Pattern) matches(t Triple) bool {
	if p.Subject != nil && *p.Subject != t.Subject {
		return false
	}
	if p.Predicate != nil && *p.Predicate != t.Predicate {
		return false
	}
	if p.Object != nil && *p.Object != t.Object {
		return false
	}
	return true
}

// Match returns the sorted triples that satisfy the pattern.
func (g *Graph) Match(p Pattern) []Triple {
	out := make([]Triple, 0)
	for t := range g.All() {
		if p.matches(t) {
			out = append(out, t)
		}
	}
	SortTriples(out)
	return out
}

// InstancesOf returns the distinct subjects typed as class.
func (g *Graph) InstancesOf(class Term) []Term {
	typ := IRI(RDFType)
	seen := make(map[Term]struct{})
	out := make([]Term, 0)
	for _, t := range g.Match(Pattern{Predicate: &typ, Object: &class}) {
		if _, ok := seen[t.Subject]; ok {
			continue
		}
		seen[t.Subject] = struct{}{}
		out = append(out, t.Subject)
	}
	return out
}

// EffectiveOps replays ops over a copy of base and returns only those that
// changed membership when applied, in order. Inverting the result restores
// base exactly, which plain InvertOps does not guarantee when ops contain
// redundant adds or removes.
func EffectiveOps(base *Graph, ops []Op) []Op {
	g := base.Clone()
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		changed := false
		switch op.Kind {
		case OpAdd:
			changed = g.Add(op.Triple)
		case OpRemove:
			changed = g.Remove(op.Triple)
		}
		if changed {
			out = append(out, op)
		}
	}
	return out
}
