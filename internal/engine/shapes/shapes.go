// Package shapes checks a graph against a small YAML rule set: every
// instance of a class must carry the listed predicates within count bounds.
//
//	prefixes:
//	  brick: https://brickschema.org/schema/Brick#
//	shapes:
//	  - name: vav
//	    class: brick:VAV
//	    required: [brick:feeds]
//	    properties:
//	      - path: brick:hasPoint
//	        max_count: 8
//	        node_kind: iri
package shapes

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"vrdf/internal/engine/graph"
)

const maxRules = 1024

type fileYAML struct {
	Prefixes map[string]string `yaml:"prefixes"`
	Shapes   []shapeYAML       `yaml:"shapes"`
}

type shapeYAML struct {
	Name       string         `yaml:"name"`
	Class      string         `yaml:"class"`
	Required   []string       `yaml:"required"`
	Properties []propertyYAML `yaml:"properties"`
}

type propertyYAML struct {
	Path     string `yaml:"path"`
	MinCount int    `yaml:"min_count"`
	MaxCount *int   `yaml:"max_count"`
	NodeKind string `yaml:"node_kind"`
}

// Property constrains the values of one predicate on a focus node.
type Property struct {
	Path     graph.Term
	MinCount int
	// MaxCount < 0 means unbounded.
	MaxCount int
	// NodeKind is zero when any term kind is allowed.
	NodeKind graph.TermKind
}

type Shape struct {
	Name       string
	Class      graph.Term
	Properties []Property
}

// Validator checks graphs against a fixed set of shapes.
type Validator struct {
	shapes []Shape
}

// Load reads a rules file.
func Load(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading shapes file: %w", err)
	}
	v, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Parse builds a validator from YAML rules.
func Parse(data []byte) (*Validator, error) {
	var doc fileYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	if len(doc.Shapes) > maxRules {
		return nil, fmt.Errorf("too many shapes: %d (max %d)", len(doc.Shapes), maxRules)
	}

	expand := func(s string) (graph.Term, error) {
		s = strings.TrimSpace(s)
		if s == "" {
			return graph.Term{}, fmt.Errorf("empty IRI")
		}
		if strings.Contains(s, "://") || strings.HasPrefix(s, "urn:") {
			return graph.IRI(s), nil
		}
		prefix, local, ok := strings.Cut(s, ":")
		if !ok {
			return graph.Term{}, fmt.Errorf("%q is neither an absolute IRI nor a prefixed name", s)
		}
		ns, ok := doc.Prefixes[prefix]
		if !ok {
			return graph.Term{}, fmt.Errorf("unknown prefix %q in %q", prefix, s)
		}
		return graph.IRI(ns + local), nil
	}

	out := &Validator{shapes: make([]Shape, 0, len(doc.Shapes))}
	seen := make(map[string]struct{}, len(doc.Shapes))
	for i, sy := range doc.Shapes {
		name := strings.TrimSpace(sy.Name)
		if name == "" {
			name = fmt.Sprintf("shape[%d]", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate shape name %q", name)
		}
		seen[name] = struct{}{}

		class, err := expand(sy.Class)
		if err != nil {
			return nil, fmt.Errorf("%s.class: %w", name, err)
		}
		shape := Shape{Name: name, Class: class}
		for _, req := range sy.Required {
			path, err := expand(req)
			if err != nil {
				return nil, fmt.Errorf("%s.required: %w", name, err)
			}
			shape.Properties = append(shape.Properties, Property{Path: path, MinCount: 1, MaxCount: -1})
		}
		for j, py := range sy.Properties {
			prop, err := buildProperty(py, expand)
			if err != nil {
				return nil, fmt.Errorf("%s.properties[%d]: %w", name, j, err)
			}
			shape.Properties = append(shape.Properties, prop)
		}
		out.shapes = append(out.shapes, shape)
	}
	return out, nil
}

func buildProperty(py propertyYAML, expand func(string) (graph.Term, error)) (Property, error) {
	path, err := expand(py.Path)
	if err != nil {
		return Property{}, fmt.Errorf("path: %w", err)
	}
	p := Property{Path: path, MinCount: py.MinCount, MaxCount: -1}
	if p.MinCount < 0 {
		return Property{}, fmt.Errorf("min_count must be >= 0")
	}
	if py.MaxCount != nil {
		if *py.MaxCount < p.MinCount {
			return Property{}, fmt.Errorf("max_count %d is below min_count %d", *py.MaxCount, p.MinCount)
		}
		p.MaxCount = *py.MaxCount
	}
	switch strings.ToLower(strings.TrimSpace(py.NodeKind)) {
	case "":
	case "iri":
		p.NodeKind = graph.KindIRI
	case "blank":
		p.NodeKind = graph.KindBlank
	case "literal":
		p.NodeKind = graph.KindLiteral
	default:
		return Property{}, fmt.Errorf("node_kind must be iri, blank or literal; got %q", py.NodeKind)
	}
	return p, nil
}

func (v *Validator) Shapes() []Shape {
	out := make([]Shape, len(v.shapes))
	copy(out, v.shapes)
	return out
}

// Violation is one failed constraint on one focus node.
type Violation struct {
	Shape   string
	Focus   graph.Term
	Path    graph.Term
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: %s (shape %s)", v.Focus, v.Path, v.Message, v.Shape)
}

// Check returns every violation in g, ordered by shape then focus node.
func (v *Validator) Check(ctx context.Context, g *graph.Graph) ([]Violation, error) {
	var out []Violation
	for _, shape := range v.shapes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		focus := g.InstancesOf(shape.Class)
		sort.Slice(focus, func(i, j int) bool { return focus[i].String() < focus[j].String() })
		for _, node := range focus {
			for _, prop := range shape.Properties {
				out = append(out, checkProperty(g, shape.Name, node, prop)...)
			}
		}
	}
	return out, nil
}

func checkProperty(g *graph.Graph, shape string, node graph.Term, prop Property) []Violation {
	values := g.Match(graph.Pattern{Subject: &node, Predicate: &prop.Path})
	var out []Violation
	report := func(msg string) {
		out = append(out, Violation{Shape: shape, Focus: node, Path: prop.Path, Message: msg})
	}
	if len(values) < prop.MinCount {
		report(fmt.Sprintf("expected at least %d value(s), found %d", prop.MinCount, len(values)))
	}
	if prop.MaxCount >= 0 && len(values) > prop.MaxCount {
		report(fmt.Sprintf("expected at most %d value(s), found %d", prop.MaxCount, len(values)))
	}
	if prop.NodeKind != 0 {
		for _, t := range values {
			if t.Object.Kind != prop.NodeKind {
				report(fmt.Sprintf("value %s is not a %s", t.Object, prop.NodeKind))
			}
		}
	}
	return out
}

// Validate reports whether g conforms and, if not, a line per violation.
func (v *Validator) Validate(ctx context.Context, g *graph.Graph) (bool, string, error) {
	violations, err := v.Check(ctx, g)
	if err != nil {
		return false, "", err
	}
	if len(violations) == 0 {
		return true, "", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d violation(s):", len(violations))
	for _, vi := range violations {
		b.WriteString("\n  - ")
		b.WriteString(vi.String())
	}
	return false, b.String(), nil
}
