package graph

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// TermKind distinguishes the three RDF term shapes.
type TermKind uint8

const (
	KindIRI TermKind = iota + 1
	KindBlank
	KindLiteral
)

func (k TermKind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Term is an opaque RDF identifier. It is a comparable value type so that
// triples built from terms can key a map directly.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string // literals only; empty means xsd:string
	Lang     string // literals only; mutually exclusive with Datatype
}

const (
	RDFType   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	RDFSLabel = "http://www.w3.org/2000/01/rdf-schema#label"
	XSDString = "http://www.w3.org/2001/XMLSchema#string"
)

func IRI(v string) Term {
	return Term{Kind: KindIRI, Value: v}
}

func Blank(id string) Term {
	return Term{Kind: KindBlank, Value: id}
}

func Literal(v string) Term {
	return Term{Kind: KindLiteral, Value: v}
}

func TypedLiteral(v, datatype string) Term {
	if datatype == XSDString {
		datatype = ""
	}
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

func LangLiteral(v, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Lang: strings.ToLower(lang)}
}

// Namespace builds IRIs by suffixing a base, e.g. Namespace("urn:bldg#").Term("vav1").
type Namespace string

func (ns Namespace) Term(local string) Term {
	return IRI(string(ns) + local)
}

func (t Term) IsZero() bool {
	return t.Kind == 0 && t.Value == ""
}

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + escapeIRI(t.Value) + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := `"` + EscapeLiteral(t.Value) + `"`
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != "" {
			return s + "^^<" + escapeIRI(t.Datatype) + ">"
		}
		return s
	default:
		return ""
	}
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// EscapeLiteral escapes a lexical form for use between double quotes.
func EscapeLiteral(s string) string {
	return literalEscaper.Replace(s)
}

func escapeIRI(s string) string {
	if !strings.ContainsAny(s, "<>\" {}|^`\\") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '<', '>', '"', ' ', '{', '}', '|', '^', '`', '\\':
			b.WriteString(`\u00`)
			b.WriteString(strings.ToUpper(hex2(byte(r))))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hex2(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0x0f]})
}

var (
	blankLabelPattern = regexp.MustCompile(`^[A-Za-z0-9_](?:[A-Za-z0-9_.\-]*[A-Za-z0-9_\-])?$`)
	langTagPattern    = regexp.MustCompile(`^[A-Za-z]+(?:-[A-Za-z0-9]+)*$`)
)

// Validate reports whether t renders to N-Triples that parse back to t.
func (t Term) Validate() error {
	switch t.Kind {
	case KindIRI:
		return validateIRI("IRI", t.Value)
	case KindBlank:
		if !blankLabelPattern.MatchString(t.Value) {
			return fmt.Errorf("invalid blank node label %q", t.Value)
		}
	case KindLiteral:
		if !utf8.ValidString(t.Value) {
			return fmt.Errorf("literal %q is not valid UTF-8", t.Value)
		}
		if t.Lang != "" && t.Datatype != "" {
			return fmt.Errorf("literal %q has both a language tag and a datatype", t.Value)
		}
		if t.Lang != "" && !langTagPattern.MatchString(t.Lang) {
			return fmt.Errorf("invalid language tag %q", t.Lang)
		}
		if t.Lang != strings.ToLower(t.Lang) {
			return fmt.Errorf("language tag %q is not lower case", t.Lang)
		}
		if t.Datatype == XSDString {
			return fmt.Errorf("xsd:string literals carry no datatype")
		}
		if t.Datatype != "" {
			return validateIRI("datatype", t.Datatype)
		}
	default:
		return fmt.Errorf("unknown term kind %d", t.Kind)
	}
	return nil
}

func validateIRI(what, v string) error {
	if !utf8.ValidString(v) {
		return fmt.Errorf("%s %q is not valid UTF-8", what, v)
	}
	for _, r := range v {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%s %q contains control character %U", what, v, r)
		}
	}
	return nil
}
