// Package ntriples reads and writes the line-based N-Triples format. It is
// the document boundary of the store: triples parsed here are staged into a
// changeset, and materialized graphs are written back out with Encoder.
package ntriples

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"vrdf/internal/engine/graph"
)

// SyntaxError reports a malformed statement with its 1-based line number.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("ntriples: line %d: %s", e.Line, e.Msg)
}

// Decoder pulls triples from a reader one statement at a time.
type Decoder struct {
	sc   *bufio.Scanner
	line int
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{sc: sc}
}

// Next returns the next triple, or io.EOF when the input is exhausted.
func (d *Decoder) Next() (graph.Triple, error) {
	for d.sc.Scan() {
		d.line++
		raw := strings.TrimSpace(d.sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		t, err := ParseLine(raw)
		if err != nil {
			return graph.Triple{}, &SyntaxError{Line: d.line, Msg: err.Error()}
		}
		return t, nil
	}
	if err := d.sc.Err(); err != nil {
		return graph.Triple{}, fmt.Errorf("read ntriples: %w", err)
	}
	return graph.Triple{}, io.EOF
}

// ReadAll decodes every statement in r.
func ReadAll(r io.Reader) ([]graph.Triple, error) {
	dec := NewDecoder(r)
	out := make([]graph.Triple, 0)
	for {
		t, err := dec.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
}

// ParseLine parses a single statement such as `<s> <p> "o"@en .`.
func ParseLine(line string) (graph.Triple, error) {
	p := &termParser{src: strings.TrimSpace(line)}
	s, err := p.term()
	if err != nil {
		return graph.Triple{}, fmt.Errorf("subject: %w", err)
	}
	pr, err := p.term()
	if err != nil {
		return graph.Triple{}, fmt.Errorf("predicate: %w", err)
	}
	o, err := p.term()
	if err != nil {
		return graph.Triple{}, fmt.Errorf("object: %w", err)
	}
	p.skipSpace()
	if !p.consume('.') {
		return graph.Triple{}, fmt.Errorf("expected '.' at offset %d", p.pos)
	}
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] != '#' {
		return graph.Triple{}, fmt.Errorf("unexpected trailing input %q", p.src[p.pos:])
	}
	t := graph.NewTriple(s, pr, o)
	if err := t.Validate(); err != nil {
		return graph.Triple{}, err
	}
	return t, nil
}

// ParseTerm parses one term in N-Triples syntax, e.g. `<urn:x>` or `"1"^^<…>`.
func ParseTerm(s string) (graph.Term, error) {
	p := &termParser{src: strings.TrimSpace(s)}
	t, err := p.term()
	if err != nil {
		return graph.Term{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return graph.Term{}, fmt.Errorf("unexpected trailing input %q", p.src[p.pos:])
	}
	return t, nil
}

type termParser struct {
	src string
	pos int
}

func (p *termParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *termParser) consume(c byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *termParser) term() (graph.Term, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return graph.Term{}, fmt.Errorf("unexpected end of statement")
	}
	switch {
	case p.src[p.pos] == '<':
		iri, err := p.iri()
		if err != nil {
			return graph.Term{}, err
		}
		return graph.IRI(iri), nil
	case strings.HasPrefix(p.src[p.pos:], "_:"):
		p.pos += 2
		start := p.pos
		for p.pos < len(p.src) && !isDelimiter(p.src[p.pos]) {
			p.pos++
		}
		// a label may contain dots but never ends with one
		for p.pos > start && p.src[p.pos-1] == '.' {
			p.pos--
		}
		if p.pos == start {
			return graph.Term{}, fmt.Errorf("empty blank node label")
		}
		return graph.Blank(p.src[start:p.pos]), nil
	case p.src[p.pos] == '"':
		return p.literal()
	default:
		return graph.Term{}, fmt.Errorf("unexpected character %q at offset %d", p.src[p.pos], p.pos)
	}
}

func isDelimiter(c byte) bool {
	return c == ' ' || c == '\t' || c == '<' || c == '"'
}

func (p *termParser) iri() (string, error) {
	p.pos++ // '<'
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '>':
			p.pos++
			return b.String(), nil
		case '\\':
			r, err := p.unicodeEscape()
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
		case ' ', '"', '<':
			return "", fmt.Errorf("invalid character %q in IRI", c)
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated IRI")
}

func (p *termParser) literal() (graph.Term, error) {
	p.pos++ // opening quote
	var b strings.Builder
	closed := false
	for p.pos < len(p.src) && !closed {
		c := p.src[p.pos]
		switch c {
		case '"':
			p.pos++
			closed = true
		case '\\':
			if p.pos+1 >= len(p.src) {
				return graph.Term{}, fmt.Errorf("dangling escape in literal")
			}
			switch p.src[p.pos+1] {
			case 'u', 'U':
				r, err := p.unicodeEscape()
				if err != nil {
					return graph.Term{}, err
				}
				b.WriteRune(r)
				continue
			case 't':
				b.WriteByte('\t')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case '"', '\'', '\\':
				b.WriteByte(p.src[p.pos+1])
			default:
				return graph.Term{}, fmt.Errorf("unknown escape \\%c", p.src[p.pos+1])
			}
			p.pos += 2
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	if !closed {
		return graph.Term{}, fmt.Errorf("unterminated literal")
	}
	lex := b.String()
	if !utf8.ValidString(lex) {
		return graph.Term{}, fmt.Errorf("literal is not valid UTF-8")
	}

	if p.consume('@') {
		start := p.pos
		for p.pos < len(p.src) && (isAlnum(p.src[p.pos]) || p.src[p.pos] == '-') {
			p.pos++
		}
		if p.pos == start {
			return graph.Term{}, fmt.Errorf("empty language tag")
		}
		return graph.LangLiteral(lex, p.src[start:p.pos]), nil
	}
	if strings.HasPrefix(p.src[p.pos:], "^^") {
		p.pos += 2
		if p.pos >= len(p.src) || p.src[p.pos] != '<' {
			return graph.Term{}, fmt.Errorf("expected datatype IRI after ^^")
		}
		dt, err := p.iri()
		if err != nil {
			return graph.Term{}, err
		}
		return graph.TypedLiteral(lex, dt), nil
	}
	return graph.Literal(lex), nil
}

// unicodeEscape decodes \uXXXX or \UXXXXXXXX at the current position.
func (p *termParser) unicodeEscape() (rune, error) {
	if p.pos+1 >= len(p.src) {
		return 0, fmt.Errorf("dangling escape")
	}
	width := 0
	switch p.src[p.pos+1] {
	case 'u':
		width = 4
	case 'U':
		width = 8
	default:
		return 0, fmt.Errorf("unknown escape \\%c", p.src[p.pos+1])
	}
	start := p.pos + 2
	if start+width > len(p.src) {
		return 0, fmt.Errorf("short unicode escape")
	}
	v, err := strconv.ParseUint(p.src[start:start+width], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid unicode escape: %w", err)
	}
	p.pos = start + width
	return rune(v), nil
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
