package notify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vrdf/internal/data/queue"
)

func openOutbox(t *testing.T) *queue.Outbox {
	t.Helper()
	ob, err := queue.OpenOutbox(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	t.Cleanup(func() { _ = ob.Close() })
	return ob
}

func newSpooling(t *testing.T, pub *capture, retry time.Duration, maxAttempts int) *SpoolingPublisher {
	t.Helper()
	return NewSpoolingPublisher(pub, openOutbox(t), retry, maxAttempts, nil)
}

func TestSpoolingPublisher_PassesThroughWhenHealthy(t *testing.T) {
	pub := &capture{}
	p := newSpooling(t, pub, time.Millisecond, 5)

	if err := p.Publish("vrdf.commits.bldg", []byte("{}")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected direct delivery, got %d messages", len(pub.msgs))
	}
	if n, _ := p.Pending(context.Background()); n != 0 {
		t.Fatalf("nothing should be spooled, got %d", n)
	}
}

func TestSpoolingPublisher_SpoolsAndRedelivers(t *testing.T) {
	ctx := context.Background()
	pub := &capture{err: errors.New("nats: connection closed")}
	p := newSpooling(t, pub, time.Millisecond, 5)

	if err := p.Publish("vrdf.commits.bldg", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("a spooled publish must not fail: %v", err)
	}
	if n, _ := p.Pending(ctx); n != 1 {
		t.Fatalf("expected one spooled message, got %d", n)
	}

	delivered, err := p.Drain(ctx)
	if err != nil || delivered != 0 {
		t.Fatalf("drain while broker is down: delivered=%d err=%v", delivered, err)
	}

	pub.err = nil
	time.Sleep(10 * time.Millisecond)
	delivered, err = p.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if delivered != 1 || len(pub.msgs) != 1 || pub.msgs[0].subject != "vrdf.commits.bldg" {
		t.Fatalf("expected redelivery, got delivered=%d msgs=%v", delivered, pub.msgs)
	}
	if n, _ := p.Pending(ctx); n != 0 {
		t.Fatalf("outbox should be empty, got %d", n)
	}
}

func TestSpoolingPublisher_DropsExhaustedMessages(t *testing.T) {
	ctx := context.Background()
	pub := &capture{err: errors.New("down")}
	p := newSpooling(t, pub, time.Millisecond, 1)

	if err := p.Publish("s", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := p.Drain(ctx); err != nil {
		t.Fatalf("first drain: %v", err)
	}
	if _, err := p.Drain(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if n, _ := p.Pending(ctx); n != 0 {
		t.Fatalf("message over max attempts should be dropped, %d left", n)
	}
}

func TestSpoolingPublisher_Backoff(t *testing.T) {
	p := NewSpoolingPublisher(&capture{}, nil, time.Second, 0, nil)
	if got := p.backoff(0); got != time.Second {
		t.Fatalf("backoff(0) = %v", got)
	}
	if got := p.backoff(3); got != 8*time.Second {
		t.Fatalf("backoff(3) = %v", got)
	}
	if got := p.backoff(50); got != maxBackoff {
		t.Fatalf("backoff must cap at %v, got %v", maxBackoff, got)
	}
}

// brokenNack fails every Nack so a drain pass stops partway through.
type brokenNack struct {
	*queue.Outbox
}

func (brokenNack) Nack(context.Context, []queue.Message, time.Time, string) error {
	return errors.New("outbox: disk full")
}

// flaky fails publishes to one subject.
type flaky struct {
	capture
	failSubject string
}

func (f *flaky) Publish(subject string, data []byte) error {
	if subject == f.failSubject {
		return errors.New("nats: no responders")
	}
	return f.capture.Publish(subject, data)
}

func TestSpoolingPublisher_AcksDeliveredWhenNackFails(t *testing.T) {
	ctx := context.Background()
	ob := openOutbox(t)
	for _, subject := range []string{"vrdf.commits.a", "vrdf.commits.b", "vrdf.commits.c"} {
		if err := ob.Enqueue(ctx, subject, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}

	pub := &flaky{failSubject: "vrdf.commits.b"}
	p := NewSpoolingPublisher(pub, brokenNack{ob}, time.Millisecond, 0, nil)

	delivered, err := p.Drain(ctx)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected the nack failure, got %v", err)
	}
	if delivered != 1 || len(pub.msgs) != 1 {
		t.Fatalf("expected a delivered before the failure, got delivered=%d msgs=%v", delivered, pub.msgs)
	}

	// a was acked; b and c are still pending
	if n, _ := p.Pending(ctx); n != 2 {
		t.Fatalf("expected 2 pending after the failed pass, got %d", n)
	}
	left, err := ob.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range left {
		if m.Subject == "vrdf.commits.a" {
			t.Fatal("a delivered message must not be redelivered")
		}
	}
}
