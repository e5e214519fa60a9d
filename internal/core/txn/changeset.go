package txn

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vrdf/internal/core/errors"
	"vrdf/internal/core/hooks"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/ntriples"
	"vrdf/internal/engine/versions"
	"vrdf/internal/shared/observability"
)

type Status int

const (
	StatusOpen Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// CommitResult describes a successful commit. PostcommitErr carries the
// joined postcommit hook failures; the commit itself stands regardless.
type CommitResult struct {
	Version       versions.Version
	Graph         *graph.Graph
	Duration      time.Duration
	PostcommitErr error
}

// Changeset buffers operations against one dataset until it is committed or
// aborted. Nothing it buffers is visible to other readers before commit.
type Changeset struct {
	id        string
	dataset   string
	requested int64
	origin    versions.Origin
	reverts   int64
	mgr       *Manager

	mu     sync.Mutex
	ops    []graph.Op
	status Status
	result *CommitResult
}

func (cs *Changeset) ID() string      { return cs.id }
func (cs *Changeset) Dataset() string { return cs.dataset }

func (cs *Changeset) Status() Status {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.status
}

// Result returns the commit result once the changeset is committed.
func (cs *Changeset) Result() (*CommitResult, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.result, cs.result != nil
}

// Ops returns a copy of the buffered operations in order.
func (cs *Changeset) Ops() []graph.Op {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]graph.Op, len(cs.ops))
	copy(out, cs.ops)
	return out
}

func (cs *Changeset) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.ops)
}

func (cs *Changeset) notOpen(op string) error {
	de := &errors.DomainError{
		Code:    errors.CodeInvalidState,
		Message: fmt.Sprintf("changeset is %s", cs.status),
	}
	de.WithContext(errors.CtxChangeset, cs.id).WithContext(errors.CtxOperation, op)
	return de
}

// Add buffers insertions. Triples are validated up front so a bad triple
// leaves the buffer untouched.
func (cs *Changeset) Add(triples ...graph.Triple) error {
	return cs.stage("add", graph.OpAdd, triples)
}

// Remove buffers deletions. Removing an absent triple is recorded and has no
// effect on the materialized state.
func (cs *Changeset) Remove(triples ...graph.Triple) error {
	return cs.stage("remove", graph.OpRemove, triples)
}

func (cs *Changeset) stage(name string, kind graph.OpKind, triples []graph.Triple) error {
	ops := make([]graph.Op, 0, len(triples))
	for _, t := range triples {
		ops = append(ops, graph.Op{Kind: kind, Triple: t})
	}
	return cs.Stage(name, ops...)
}

// Stage buffers already-built operations, e.g. the inverse of a version.
// A changeset that is no longer open fails with INVALID_STATE before any
// op is looked at; otherwise one invalid op rejects the whole call.
func (cs *Changeset) Stage(name string, ops ...graph.Op) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.status != StatusOpen {
		return cs.notOpen(name)
	}
	for i, op := range ops {
		if op.Kind != graph.OpAdd && op.Kind != graph.OpRemove {
			return errors.AddContext(errors.Newf(errors.CodeValidationError, "%s: op %d has unknown kind %d", name, i, op.Kind),
				errors.CtxChangeset, cs.id)
		}
		if err := op.Triple.Validate(); err != nil {
			return errors.AddContext(errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("%s: invalid triple", name)),
				errors.CtxChangeset, cs.id)
		}
	}
	cs.ops = append(cs.ops, ops...)
	return nil
}

// LoadNTriples parses an N-Triples document and buffers every triple as an
// insertion. A syntax error anywhere leaves the buffer untouched.
func (cs *Changeset) LoadNTriples(r io.Reader) (int, error) {
	triples, err := ntriples.ReadAll(r)
	if err != nil {
		return 0, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "parse n-triples"), errors.CtxChangeset, cs.id)
	}
	if err := cs.Add(triples...); err != nil {
		return 0, err
	}
	return len(triples), nil
}

// Query returns the dataset's latest committed state with this changeset's
// buffered operations applied. Other open changesets are never visible.
func (cs *Changeset) Query(ctx context.Context) (*graph.Graph, error) {
	cs.mu.Lock()
	if cs.status != StatusOpen {
		err := cs.notOpen("query")
		cs.mu.Unlock()
		return nil, err
	}
	ops := make([]graph.Op, len(cs.ops))
	copy(ops, cs.ops)
	cs.mu.Unlock()

	g, err := cs.mgr.state.Latest(ctx, cs.dataset)
	if err != nil {
		return nil, err
	}
	g.ApplyAll(ops)
	return g, nil
}

// Abort discards the buffered operations and frees the dataset for another
// writer. Aborting twice is a no-op; aborting a committed changeset fails.
func (cs *Changeset) Abort() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	switch cs.status {
	case StatusAborted:
		return nil
	case StatusCommitted:
		return cs.notOpen("abort")
	}
	cs.abortLocked("aborted")
	return nil
}

func (cs *Changeset) abortLocked(outcome string) {
	cs.ops = nil
	cs.status = StatusAborted
	cs.mgr.release(cs)
	observability.CommitsTotal.WithLabelValues(cs.dataset, outcome).Inc()
	cs.mgr.logger.Debug("changeset aborted", "dataset", cs.dataset, "changeset", cs.id, "outcome", outcome)
}

// Close finalizes a changeset from a defer: it aborts on panic or when *errp
// is set, otherwise it commits and reports a commit failure through errp.
//
//	cs, err := mgr.Open(ctx, "bldg")
//	...
//	defer cs.Close(ctx, &err)
func (cs *Changeset) Close(ctx context.Context, errp *error) {
	if rec := recover(); rec != nil {
		_ = cs.Abort()
		panic(rec)
	}
	if cs.Status() != StatusOpen {
		return
	}
	if errp != nil && *errp != nil {
		_ = cs.Abort()
		return
	}
	if _, err := cs.Commit(ctx); err != nil && errp != nil {
		*errp = err
	}
}

// Commit makes the buffered operations durable as a new version. Precommit
// hooks see the candidate state and can veto it; on any failure before the
// log append the changeset is aborted and the store is unchanged. Once the
// append starts, cancellation of ctx no longer interrupts the commit.
func (cs *Changeset) Commit(ctx context.Context) (*CommitResult, error) {
	m := cs.mgr
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "txn.commit",
		trace.WithAttributes(attribute.String("dataset", cs.dataset), attribute.String("changeset", cs.id)))
	defer span.End()

	cs.mu.Lock()
	if cs.status != StatusOpen {
		err := cs.notOpen("commit")
		cs.mu.Unlock()
		return nil, err
	}

	fail := func(outcome string, err error) (*CommitResult, error) {
		cs.abortLocked(outcome)
		cs.mu.Unlock()
		span.RecordError(err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail("aborted", err)
	}
	if m.limits != nil {
		if err := m.limits.Get(cs.dataset).Wait(ctx, 1); err != nil {
			return fail("aborted", err)
		}
	}

	ops := cs.ops
	candidate, err := m.state.Latest(ctx, cs.dataset)
	if err != nil {
		return fail("failed", err)
	}
	candidate.ApplyAll(ops)

	now := m.now().UTC()
	id, kind, err := m.resolveVersion(cs, now)
	if err != nil {
		return fail("failed", errors.AddContext(err, errors.CtxChangeset, cs.id))
	}
	v := versions.Version{
		Dataset:     cs.dataset,
		ID:          id,
		Kind:        kind,
		ChangesetID: cs.id,
		OpCount:     len(ops),
		CreatedAt:   now,
		Origin:      cs.origin,
		Reverts:     cs.reverts,
	}

	ev := hooks.Event{Dataset: cs.dataset, ChangesetID: cs.id, Version: v, Graph: candidate, Ops: ops}
	if err := m.hooks.Run(ctx, hooks.Precommit, ev); err != nil {
		return fail("rejected", err)
	}

	v, err = m.log.Append(context.WithoutCancel(ctx), v, ops)
	if err != nil {
		return fail("failed", err)
	}
	if err := m.index.Record(v); err != nil {
		// the log already holds the version; a reopen will index it
		m.logger.Error("version index out of step with log", "version", v.String(), "error", err)
	}
	observability.LogEntriesAppendedTotal.Add(float64(len(ops)))
	m.state.Remember(context.WithoutCancel(ctx), v, candidate)

	result := &CommitResult{Version: v, Graph: candidate}
	cs.status = StatusCommitted
	cs.result = result
	m.release(cs)
	cs.mu.Unlock()

	ev.Version = v
	if err := m.hooks.Run(context.WithoutCancel(ctx), hooks.Postcommit, ev); err != nil {
		result.PostcommitErr = err
		m.logger.Warn("postcommit hooks failed", "version", v.String(), "error", err)
	}

	result.Duration = time.Since(start)
	observability.CommitsTotal.WithLabelValues(cs.dataset, "committed").Inc()
	observability.CommitDuration.Observe(result.Duration.Seconds())
	m.logger.Debug("changeset committed",
		"version", v.String(),
		"ops", len(ops),
		"origin", string(v.Origin),
		"duration", result.Duration)
	return result, nil
}
