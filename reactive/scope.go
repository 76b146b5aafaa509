// Package reactive provides lazily derived, generation-tracked values and the
// scope that owns every resource created while deriving them.
//
// Inputs carry a generation that moves forward whenever their value changes.
// Cells remember the generations of their dependencies from the last
// evaluation and recompute on read only when one of them moved. A cell
// created with WithCutoff keeps its own generation when a recomputation
// yields an equal value, so dependents further down are left alone.
//
// Every evaluation gets a ResolveCtx. Cleanups registered through it run
// when the cell recomputes, or when the owning Scope is disposed, in LIFO
// order.
package reactive

import (
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Node is anything a Cell can depend on.
type Node interface {
	// Label names the node in logs and errors.
	Label() string
	// generation brings the node up to date and returns its generation.
	generation() (uint64, error)
}

// Scope owns the cleanups of every cell evaluated in it.
type Scope struct {
	id     uuid.UUID
	label  string
	logger logr.Logger

	gen atomic.Uint64

	mu       sync.Mutex
	groups   []*cleanupGroup
	disposed bool
}

type cleanupGroup struct {
	node    Node
	entries []func() error
	done    bool
}

// ScopeOption is a modifier for scopes
type ScopeOption func(*Scope)

// WithLogger attaches a logger; recomputations are logged at V(1).
func WithLogger(l logr.Logger) ScopeOption {
	return func(s *Scope) {
		s.logger = l
	}
}

// WithLabel names the scope in logs.
func WithLabel(label string) ScopeOption {
	return func(s *Scope) {
		s.label = label
	}
}

// NewScope creates a new scope with optional configuration
func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{
		id:     uuid.New(),
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.label == "" {
		s.label = "scope-" + s.id.String()[:8]
	}
	s.logger = s.logger.WithValues("scope", s.label)
	return s
}

// ID returns the unique id of the scope.
func (s *Scope) ID() uuid.UUID { return s.id }

// Label returns the scope label.
func (s *Scope) Label() string { return s.label }

// Logger returns the scope logger.
func (s *Scope) Logger() logr.Logger { return s.logger }

// Disposed reports whether Dispose has been called.
func (s *Scope) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Scope) nextGeneration() uint64 {
	return s.gen.Add(1)
}

// register records the cleanups of a fresh evaluation of node and returns the
// group so that it can be released when the node recomputes.
func (s *Scope) register(node Node, entries []func() error) *cleanupGroup {
	if len(entries) == 0 {
		return nil
	}
	g := &cleanupGroup{node: node, entries: entries}
	s.mu.Lock()
	s.groups = append(s.groups, g)
	s.mu.Unlock()
	return g
}

// release runs the cleanups of a single group, once.
func (s *Scope) release(g *cleanupGroup, reason string) error {
	if g == nil {
		return nil
	}
	s.mu.Lock()
	if g.done {
		s.mu.Unlock()
		return nil
	}
	g.done = true
	s.compactLocked()
	s.mu.Unlock()
	return s.runCleanups(g, reason)
}

func (s *Scope) compactLocked() {
	live := s.groups[:0]
	for _, g := range s.groups {
		if !g.done {
			live = append(live, g)
		}
	}
	for i := len(live); i < len(s.groups); i++ {
		s.groups[i] = nil
	}
	s.groups = live
}

func (s *Scope) runCleanups(g *cleanupGroup, reason string) error {
	var errs error
	for i := len(g.entries) - 1; i >= 0; i-- {
		if err := g.entries[i](); err != nil {
			cleanupErr := &CleanupError{Node: g.node.Label(), Context: reason, Err: err}
			s.logger.Error(err, "cleanup failed", "node", g.node.Label(), "context", reason)
			errs = multierr.Append(errs, cleanupErr)
		}
	}
	return errs
}

// Dispose runs every outstanding cleanup, newest first. Cells evaluated in a
// disposed scope return ErrDisposed.
func (s *Scope) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	groups := s.groups
	s.groups = nil
	for _, g := range groups {
		g.done = true
	}
	s.mu.Unlock()

	var errs error
	for i := len(groups) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.runCleanups(groups[i], "dispose"))
	}
	s.logger.V(1).Info("scope disposed", "groups", len(groups))
	return errs
}

// Outstanding returns the number of evaluations whose cleanups have not run.
func (s *Scope) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}
