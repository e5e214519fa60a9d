package ntriples

import (
	"bufio"
	"io"

	"vrdf/internal/engine/graph"
)

// Encoder writes one statement per line.
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

func (e *Encoder) Encode(t graph.Triple) error {
	if _, err := e.w.WriteString(t.String()); err != nil {
		return err
	}
	return e.w.WriteByte('\n')
}

func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// WriteGraph writes g in sorted order so output is stable across runs.
func WriteGraph(w io.Writer, g *graph.Graph) error {
	enc := NewEncoder(w)
	for _, t := range g.Triples() {
		if err := enc.Encode(t); err != nil {
			return err
		}
	}
	return enc.Flush()
}
