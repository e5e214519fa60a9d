package graph

import (
	"fmt"
)

// Triple is an immutable (subject, predicate, object) statement. Equality is
// structural, so Triple values can be compared with == and used as map keys.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

func NewTriple(s, p, o Term) Triple {
	return Triple{Subject: s, Predicate: p, Object: o}
}

// Validate checks the RDF positional rules (subjects are IRIs or blank
// nodes, predicates are IRIs) and that every term survives an N-Triples
// round trip.
func (t Triple) Validate() error {
	switch t.Subject.Kind {
	case KindIRI, KindBlank:
	default:
		return fmt.Errorf("subject must be an IRI or blank node, got %s", t.Subject.Kind)
	}
	if t.Predicate.Kind != KindIRI {
		return fmt.Errorf("predicate must be an IRI, got %s", t.Predicate.Kind)
	}
	if t.Object.Kind == 0 {
		return fmt.Errorf("object term is empty")
	}
	if t.Subject.Value == "" || t.Predicate.Value == "" {
		return fmt.Errorf("subject and predicate must not be empty")
	}
	for _, term := range [...]Term{t.Subject, t.Predicate, t.Object} {
		if err := term.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// String renders the triple as one N-Triples statement without the newline.
func (t Triple) String() string {
	return t.Subject.String() + " " + t.Predicate.String() + " " + t.Object.String() + " ."
}

// OpKind is the kind of a logged operation.
type OpKind uint8

const (
	OpAdd OpKind = iota + 1
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Op is a single add or remove of one triple. Ops are applied strictly in
// order; redundant ops are legal and kept.
type Op struct {
	Kind   OpKind
	Triple Triple
}

func Add(t Triple) Op {
	return Op{Kind: OpAdd, Triple: t}
}

func Remove(t Triple) Op {
	return Op{Kind: OpRemove, Triple: t}
}

// Inverse swaps add and remove.
func (o Op) Inverse() Op {
	switch o.Kind {
	case OpAdd:
		return Op{Kind: OpRemove, Triple: o.Triple}
	case OpRemove:
		return Op{Kind: OpAdd, Triple: o.Triple}
	default:
		return o
	}
}

// InvertOps returns the compensating sequence for ops: each op inverted, in
// reverse order.
func InvertOps(ops []Op) []Op {
	out := make([]Op, len(ops))
	for i, op := range ops {
		out[len(ops)-1-i] = op.Inverse()
	}
	return out
}
