package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vrdf/internal/core/ports"
	"vrdf/internal/data/queue"
)

const (
	drainBatch = 100
	maxBackoff = 10 * time.Minute
)

// Outbox is the durable store behind a SpoolingPublisher; *queue.Outbox
// implements it.
type Outbox interface {
	Enqueue(ctx context.Context, subject string, payload []byte) error
	DequeueBatch(ctx context.Context, maxItems int) ([]queue.Message, error)
	Ack(ctx context.Context, ids []int64) error
	Nack(ctx context.Context, msgs []queue.Message, nextAttemptAt time.Time, lastErr string) error
	DropExhausted(ctx context.Context, maxAttempts int) (int, error)
	PendingCount(ctx context.Context) (int, error)
}

// SpoolingPublisher publishes through an inner publisher and parks failed
// messages in an outbox. Drain retries them with exponential backoff, so
// spooled events may arrive after newer ones.
type SpoolingPublisher struct {
	pub         ports.Publisher
	outbox      Outbox
	retry       time.Duration
	maxAttempts int
	logger      *slog.Logger

	mu sync.Mutex // serializes Drain passes
}

func NewSpoolingPublisher(pub ports.Publisher, outbox Outbox, retry time.Duration, maxAttempts int, logger *slog.Logger) *SpoolingPublisher {
	if retry <= 0 {
		retry = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SpoolingPublisher{pub: pub, outbox: outbox, retry: retry, maxAttempts: maxAttempts, logger: logger}
}

// Publish returns an error only when the message could neither be sent nor
// spooled.
func (p *SpoolingPublisher) Publish(subject string, data []byte) error {
	err := p.pub.Publish(subject, data)
	if err == nil {
		return nil
	}
	if serr := p.outbox.Enqueue(context.Background(), subject, data); serr != nil {
		return fmt.Errorf("publish %s: %w (spool failed: %v)", subject, err, serr)
	}
	p.logger.Warn("commit event spooled for retry", "subject", subject, "error", err)
	return nil
}

func (p *SpoolingPublisher) backoff(attempts int) time.Duration {
	d := p.retry
	for i := 0; i < attempts && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// Drain makes one delivery pass over the due messages and reports how many
// were delivered.
func (p *SpoolingPublisher) Drain(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxAttempts > 0 {
		dropped, err := p.outbox.DropExhausted(ctx, p.maxAttempts)
		if err != nil {
			return 0, err
		}
		if dropped > 0 {
			p.logger.Warn("dropped undeliverable commit events", "count", dropped, "max_attempts", p.maxAttempts)
		}
	}

	msgs, err := p.outbox.DequeueBatch(ctx, drainBatch)
	if err != nil {
		return 0, err
	}
	var (
		acked []int64
		now   = time.Now()
	)
	for _, m := range msgs {
		if err := p.pub.Publish(m.Subject, m.Payload); err != nil {
			if nerr := p.outbox.Nack(ctx, []queue.Message{m}, now.Add(p.backoff(m.Attempts)), err.Error()); nerr != nil {
				// messages already published must not be sent again
				if aerr := p.outbox.Ack(ctx, acked); aerr != nil {
					return 0, errors.Join(nerr, aerr)
				}
				return len(acked), nerr
			}
			continue
		}
		acked = append(acked, m.ID)
	}
	if err := p.outbox.Ack(ctx, acked); err != nil {
		return 0, err
	}
	return len(acked), nil
}

// Run drains the outbox every retry interval until ctx ends.
func (p *SpoolingPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.retry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Drain(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("outbox drain failed", "error", err)
				continue
			}
			if n > 0 {
				p.logger.Info("delivered spooled commit events", "count", n)
			}
		}
	}
}

func (p *SpoolingPublisher) Pending(ctx context.Context) (int, error) {
	return p.outbox.PendingCount(ctx)
}
