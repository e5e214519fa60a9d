// Package hooks keeps the ordered, named precommit and postcommit callbacks
// of a store and runs them synchronously on the committing goroutine.
package hooks

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"vrdf/internal/core/errors"
	"vrdf/internal/core/ports"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
	"vrdf/internal/shared/observability"
)

type Phase string

const (
	Precommit  Phase = "precommit"
	Postcommit Phase = "postcommit"
)

func ParsePhase(s string) (Phase, error) {
	switch Phase(strings.ToLower(strings.TrimSpace(s))) {
	case Precommit:
		return Precommit, nil
	case Postcommit:
		return Postcommit, nil
	default:
		return "", errors.Newf(errors.CodeValidationError, "unknown hook phase %q", s)
	}
}

// Event is what a hook sees. Graph is the candidate state for precommit
// hooks and the committed state for postcommit hooks; hooks must not mutate
// it. For precommit, Version carries the resolved id but no log range yet.
type Event struct {
	Dataset     string
	ChangesetID string
	Version     versions.Version
	Graph       *graph.Graph
	Ops         []graph.Op
}

// Func is a hook. A non-nil error from a precommit hook vetoes the commit.
type Func func(ctx context.Context, ev Event) error

type Option func(*entry) error

// ForDatasets restricts a hook to datasets matching any of the glob patterns.
func ForDatasets(patterns ...string) Option {
	return func(e *entry) error {
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			g, err := glob.Compile(p)
			if err != nil {
				return errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("invalid dataset pattern %q", p))
			}
			e.patterns = append(e.patterns, p)
			e.matchers = append(e.matchers, g)
		}
		return nil
	}
}

type entry struct {
	name     string
	fn       Func
	patterns []string
	matchers []glob.Glob
}

func (e entry) applies(dataset string) bool {
	if len(e.matchers) == 0 {
		return true
	}
	for _, m := range e.matchers {
		if m.Match(dataset) {
			return true
		}
	}
	return false
}

// Registry holds hooks per phase in registration order.
type Registry struct {
	mu   sync.RWMutex
	pre  []entry
	post []entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) list(phase Phase) *[]entry {
	if phase == Precommit {
		return &r.pre
	}
	return &r.post
}

// Register adds fn under name. Registering an existing name replaces that
// hook and keeps its position.
func (r *Registry) Register(phase Phase, name string, fn Func, opts ...Option) error {
	if _, err := ParsePhase(string(phase)); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New(errors.CodeValidationError, "hook name must not be empty")
	}
	if fn == nil {
		return errors.AddContext(errors.New(errors.CodeValidationError, "hook func must not be nil"), errors.CtxHook, name)
	}
	e := entry{name: name, fn: fn}
	for _, opt := range opts {
		if err := opt(&e); err != nil {
			return errors.AddContext(err, errors.CtxHook, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.list(phase)
	for i := range *list {
		if (*list)[i].name == name {
			(*list)[i] = e
			return nil
		}
	}
	*list = append(*list, e)
	return nil
}

// Unregister removes the named hook and reports whether it existed.
func (r *Registry) Unregister(phase Phase, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.list(phase)
	for i := range *list {
		if (*list)[i].name == name {
			*list = append((*list)[:i:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// Names lists the hooks of phase in run order.
func (r *Registry) Names(phase Phase) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := *r.list(phase)
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.name
	}
	return out
}

func (r *Registry) snapshot(phase Phase, dataset string) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := *r.list(phase)
	out := make([]entry, 0, len(list))
	for _, e := range list {
		if e.applies(dataset) {
			out = append(out, e)
		}
	}
	return out
}

// Run invokes the hooks of phase that apply to ev.Dataset in order.
// Precommit stops at the first failure. Postcommit runs every hook and joins
// the failures. Either way the result is a HOOK_FAILURE carrying the
// diagnostics.
func (r *Registry) Run(ctx context.Context, phase Phase, ev Event) error {
	if phase == Precommit {
		for _, e := range r.snapshot(phase, ev.Dataset) {
			if err := call(ctx, e, ev); err != nil {
				observability.HookFailuresTotal.WithLabelValues(string(phase)).Inc()
				return hookFailure(phase, ev, e.name, err)
			}
		}
		return nil
	}

	var errs []error
	names := make([]string, 0)
	for _, e := range r.snapshot(phase, ev.Dataset) {
		if err := call(ctx, e, ev); err != nil {
			observability.HookFailuresTotal.WithLabelValues(string(phase)).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			names = append(names, e.name)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return hookFailure(phase, ev, strings.Join(names, ","), stderrors.Join(errs...))
}

func hookFailure(phase Phase, ev Event, name string, err error) error {
	de := &errors.DomainError{
		Code:    errors.CodeHookFailure,
		Message: fmt.Sprintf("%s hook failed", phase),
		Err:     err,
	}
	de.WithContext(errors.CtxHook, name).WithContext(errors.CtxDataset, ev.Dataset)
	if ev.ChangesetID != "" {
		de.WithContext(errors.CtxChangeset, ev.ChangesetID)
	}
	return de
}

// call runs one hook, turning a panic into an error.
func call(ctx context.Context, e entry, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return e.fn(ctx, ev)
}

// FromValidator adapts a shape validator into a hook that fails with the
// validator's report when the graph does not conform.
func FromValidator(v ports.ShapeValidator) Func {
	return func(ctx context.Context, ev Event) error {
		valid, report, err := v.Validate(ctx, ev.Graph)
		if err != nil {
			return fmt.Errorf("validator error: %w", err)
		}
		if !valid {
			return fmt.Errorf("graph does not conform:\n%s", report)
		}
		return nil
	}
}
