// Package notify fans committed versions out to NATS subscribers. It is wired
// as a postcommit hook so a broker outage never blocks or undoes a commit.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"vrdf/internal/core/hooks"
	"vrdf/internal/core/ports"
)

// NATSPublisher publishes raw payloads on a NATS connection.
type NATSPublisher struct {
	nc      *nats.Conn
	timeout time.Duration
}

// Connect dials url. timeout bounds both the dial and Flush.
func Connect(url string, timeout time.Duration, opts ...nats.Option) (*NATSPublisher, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	base := []nats.Option{
		nats.Name("vrdf"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, timeout: timeout}, nil
}

func (p *NATSPublisher) Publish(subject string, data []byte) error {
	return p.nc.Publish(subject, data)
}

// Flush waits for the server to acknowledge everything published so far.
func (p *NATSPublisher) Flush() error {
	return p.nc.FlushTimeout(p.timeout)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}

// OpEvent is one logged operation in N-Triples form.
type OpEvent struct {
	Op     string `json:"op"`
	Triple string `json:"triple"`
}

// CommitEvent is the JSON payload published for every committed version.
type CommitEvent struct {
	Dataset     string    `json:"dataset"`
	Version     int64     `json:"version"`
	Kind        string    `json:"kind"`
	Origin      string    `json:"origin"`
	Reverts     int64     `json:"reverts,omitempty"`
	ChangesetID string    `json:"changeset_id"`
	OpCount     int       `json:"op_count"`
	Triples     int       `json:"triples"`
	CreatedAt   time.Time `json:"created_at"`
	Ops         []OpEvent `json:"ops,omitempty"`
}

// Notifier turns commit hook events into messages on <prefix>.<dataset>.
type Notifier struct {
	pub     ports.Publisher
	prefix  string
	withOps bool
}

// NewNotifier publishes through pub. withOps includes the operations in each
// message; otherwise only counts are sent.
func NewNotifier(pub ports.Publisher, prefix string, withOps bool) *Notifier {
	return &Notifier{pub: pub, prefix: strings.Trim(strings.TrimSpace(prefix), "."), withOps: withOps}
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

// Subject maps a dataset to a single NATS subject token under the prefix.
func (n *Notifier) Subject(dataset string) string {
	token := subjectReplacer.Replace(dataset)
	if n.prefix == "" {
		return token
	}
	return n.prefix + "." + token
}

func (n *Notifier) Event(ev hooks.Event) CommitEvent {
	out := CommitEvent{
		Dataset:     ev.Dataset,
		Version:     ev.Version.ID,
		Kind:        string(ev.Version.Kind),
		Origin:      string(ev.Version.Origin),
		Reverts:     ev.Version.Reverts,
		ChangesetID: ev.ChangesetID,
		OpCount:     len(ev.Ops),
		CreatedAt:   ev.Version.CreatedAt,
	}
	if ev.Graph != nil {
		out.Triples = ev.Graph.Len()
	}
	if n.withOps {
		out.Ops = make([]OpEvent, len(ev.Ops))
		for i, op := range ev.Ops {
			out.Ops[i] = OpEvent{Op: op.Kind.String(), Triple: op.Triple.String()}
		}
	}
	return out
}

// Hook is the postcommit hook that publishes each committed version.
func (n *Notifier) Hook() hooks.Func {
	return func(ctx context.Context, ev hooks.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(n.Event(ev))
		if err != nil {
			return fmt.Errorf("encode commit event: %w", err)
		}
		subject := n.Subject(ev.Dataset)
		if err := n.pub.Publish(subject, data); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		return nil
	}
}
