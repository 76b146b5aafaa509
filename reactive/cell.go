package reactive

import "sync"

// ResolveCtx is handed to a cell's derivation function.
type ResolveCtx struct {
	scope    *Scope
	node     Node
	cleanups []func() error
}

// OnCleanup registers fn to run when this evaluation is superseded or the
// scope is disposed.
func (c *ResolveCtx) OnCleanup(fn func() error) {
	c.cleanups = append(c.cleanups, fn)
}

// Scope returns the owning scope.
func (c *ResolveCtx) Scope() *Scope { return c.scope }

// rollback runs the cleanups of an evaluation that failed.
func (c *ResolveCtx) rollback() {
	g := &cleanupGroup{node: c.node, entries: c.cleanups}
	_ = c.scope.runCleanups(g, "rollback")
}

// Cell is a memoized derivation over other nodes.
type Cell[T any] struct {
	scope *Scope
	label string
	deps  []Node
	fn    func(*ResolveCtx) (T, error)
	equal func(a, b T) bool

	mu      sync.Mutex
	cached  bool
	value   T
	gen     uint64
	depGens []uint64
	owned   *cleanupGroup
	evals   int
}

// CellOption is a modifier for cells
type CellOption[T any] func(*Cell[T])

// WithCutoff keeps the cell's generation when a recomputation produces a value
// equal to the previous one, so its dependents stay cached.
func WithCutoff[T any](equal func(a, b T) bool) CellOption[T] {
	return func(c *Cell[T]) {
		c.equal = equal
	}
}

// Derive creates a cell computing fn from deps. Nothing is evaluated until the
// first Get.
func Derive[T any](s *Scope, label string, deps []Node, fn func(*ResolveCtx) (T, error), opts ...CellOption[T]) *Cell[T] {
	c := &Cell[T]{
		scope: s,
		label: label,
		deps:  deps,
		fn:    fn,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Label implements Node.
func (c *Cell[T]) Label() string { return c.label }

// Get returns the value, recomputing it if any transitive input changed since
// the cached evaluation.
func (c *Cell[T]) Get() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.refreshLocked(); err != nil {
		var zero T
		return zero, err
	}
	return c.value, nil
}

func (c *Cell[T]) generation() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked()
}

func (c *Cell[T]) refreshLocked() (uint64, error) {
	if c.scope.Disposed() {
		return 0, ErrDisposed
	}

	gens := make([]uint64, len(c.deps))
	for i, d := range c.deps {
		g, err := d.generation()
		if err != nil {
			return 0, wrapResolve(c.label, err)
		}
		gens[i] = g
	}
	if c.cached && sameGenerations(gens, c.depGens) {
		return c.gen, nil
	}

	ctx := &ResolveCtx{scope: c.scope, node: c}
	val, err := c.fn(ctx)
	if err != nil {
		ctx.rollback()
		return 0, wrapResolve(c.label, err)
	}

	// the previous evaluation's resources are superseded
	prev := c.owned
	c.owned = c.scope.register(c, ctx.cleanups)
	if err := c.scope.release(prev, "recompute"); err != nil {
		c.scope.logger.Error(err, "releasing superseded evaluation", "cell", c.label)
	}

	changed := !c.cached || c.equal == nil || !c.equal(c.value, val)
	c.value = val
	c.cached = true
	c.depGens = gens
	c.evals++
	if changed {
		c.gen = c.scope.nextGeneration()
	}
	c.scope.logger.V(1).Info("cell evaluated", "cell", c.label, "evaluations", c.evals, "changed", changed)
	return c.gen, nil
}

// Peek returns the cached value without bringing it up to date.
func (c *Cell[T]) Peek() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cached {
		var zero T
		return zero, false
	}
	return c.value, true
}

// Evaluations returns how many times the derivation function succeeded.
func (c *Cell[T]) Evaluations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evals
}

// Release drops the cached value and runs its cleanups. The next Get
// recomputes.
func (c *Cell[T]) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	prev := c.owned
	c.owned = nil
	c.cached = false
	c.value = zero
	c.depGens = nil
	return c.scope.release(prev, "release")
}

func sameGenerations(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
