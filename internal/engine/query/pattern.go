// Package query parses single triple-pattern queries such as
//
//	?vav a brick:VAV LIMIT 10
//
// and evaluates them against a materialized graph.
package query

import (
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"

	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/ntriples"
)

var (
	tokenRE  = regexp.MustCompile(`<[^>]*>|"(?:[^"\\]|\\.)*"(?:@[A-Za-z0-9-]+|\^\^(?:<[^>]*>|\S+))?|\S+`)
	limitRE  = regexp.MustCompile(`(?i)\s+LIMIT\s+(\S+)\s*$`)
	varRE    = regexp.MustCompile(`^\?[A-Za-z_][A-Za-z0-9_]*$`)
	pnameRE  = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)?:(\S*)$`)
	typedLit = regexp.MustCompile(`^(".*")\^\^([^<].*)$`)
)

// DefaultPrefixes are always available unless overridden.
var DefaultPrefixes = map[string]string{
	"rdf":   "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"rdfs":  "http://www.w3.org/2000/01/rdf-schema#",
	"owl":   "http://www.w3.org/2002/07/owl#",
	"xsd":   "http://www.w3.org/2001/XMLSchema#",
	"brick": "https://brickschema.org/schema/Brick#",
}

var positions = [3]string{"subject", "predicate", "object"}

// Query is one parsed triple pattern. Vars holds the variable name bound at
// each position, or "" for a fixed term or an anonymous wildcard.
type Query struct {
	Pattern graph.Pattern
	Vars    [3]string
	Limit   int
}

// Parse reads "<s> <p> <o> [LIMIT n]". A position may be a variable
// (?name), the wildcard *, the keyword a (rdf:type), a prefixed name, or an
// N-Triples term.
func Parse(raw string, prefixes map[string]string) (Query, error) {
	pm := maps.Clone(DefaultPrefixes)
	maps.Copy(pm, prefixes)

	var q Query
	body := strings.TrimSpace(raw)
	if m := limitRE.FindStringSubmatchIndex(body); m != nil {
		n, err := strconv.Atoi(body[m[2]:m[3]])
		if err != nil || n <= 0 {
			return Query{}, fmt.Errorf("invalid LIMIT %q: must be a positive integer", body[m[2]:m[3]])
		}
		q.Limit = n
		body = body[:m[0]]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), " .")

	tokens := tokenRE.FindAllString(body, -1)
	if len(tokens) != 3 {
		return Query{}, fmt.Errorf("invalid pattern: expected subject predicate object, got %d term(s)", len(tokens))
	}
	slots := [3]**graph.Term{&q.Pattern.Subject, &q.Pattern.Predicate, &q.Pattern.Object}
	for i, tok := range tokens {
		term, name, err := parseSlot(tok, i, pm)
		if err != nil {
			return Query{}, fmt.Errorf("%s: %w", positions[i], err)
		}
		q.Vars[i] = name
		*slots[i] = term
	}
	if err := q.checkKinds(); err != nil {
		return Query{}, err
	}
	return q, nil
}

func parseSlot(tok string, pos int, prefixes map[string]string) (*graph.Term, string, error) {
	switch {
	case tok == "*":
		return nil, "", nil
	case varRE.MatchString(tok):
		return nil, tok[1:], nil
	case tok == "a" && pos == 1:
		t := graph.IRI(graph.RDFType)
		return &t, "", nil
	case strings.HasPrefix(tok, "<"), strings.HasPrefix(tok, "_:"):
		t, err := ntriples.ParseTerm(tok)
		return &t, "", err
	case strings.HasPrefix(tok, `"`):
		// "1"^^xsd:int style datatypes are expanded before parsing
		if m := typedLit.FindStringSubmatch(tok); m != nil {
			dt, err := expand(m[2], prefixes)
			if err != nil {
				return nil, "", err
			}
			tok = m[1] + "^^<" + dt + ">"
		}
		t, err := ntriples.ParseTerm(tok)
		return &t, "", err
	}
	iri, err := expand(tok, prefixes)
	if err != nil {
		return nil, "", err
	}
	t := graph.IRI(iri)
	return &t, "", nil
}

func expand(pname string, prefixes map[string]string) (string, error) {
	m := pnameRE.FindStringSubmatch(pname)
	if m == nil {
		return "", fmt.Errorf("unrecognized term %q", pname)
	}
	ns, ok := prefixes[m[1]]
	if !ok {
		return "", fmt.Errorf("unknown prefix %q", m[1])
	}
	return ns + m[2], nil
}

func (q Query) checkKinds() error {
	if s := q.Pattern.Subject; s != nil && s.Kind == graph.KindLiteral {
		return fmt.Errorf("subject: literals cannot be subjects")
	}
	if p := q.Pattern.Predicate; p != nil && p.Kind != graph.KindIRI {
		return fmt.Errorf("predicate: must be an IRI")
	}
	return nil
}

// Bindings maps each named variable to its term in t. A variable used in
// more than one position must bind the same term in each.
func (q Query) Bindings(t graph.Triple) (map[string]graph.Term, bool) {
	terms := [3]graph.Term{t.Subject, t.Predicate, t.Object}
	out := make(map[string]graph.Term, 3)
	for i, name := range q.Vars {
		if name == "" {
			continue
		}
		if prev, ok := out[name]; ok && prev != terms[i] {
			return nil, false
		}
		out[name] = terms[i]
	}
	return out, true
}

// Run returns the matching triples in sorted order, truncated to Limit.
// Triples whose repeated variables disagree are skipped.
func (q Query) Run(g *graph.Graph) []graph.Triple {
	all := g.Match(q.Pattern)
	out := make([]graph.Triple, 0, len(all))
	for _, t := range all {
		if _, ok := q.Bindings(t); !ok {
			continue
		}
		out = append(out, t)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}
