package reactive

import "sync"

// Input is a settable source value.
type Input[T any] struct {
	scope *Scope
	label string
	equal func(a, b T) bool

	mu    sync.RWMutex
	value T
	gen   uint64
}

// NewInput creates an input holding initial. When equal is non-nil, Set with an
// equal value leaves the generation untouched; otherwise every Set counts as
// a change.
func NewInput[T any](s *Scope, label string, initial T, equal func(a, b T) bool) *Input[T] {
	return &Input[T]{
		scope: s,
		label: label,
		equal: equal,
		value: initial,
		gen:   s.nextGeneration(),
	}
}

// Label implements Node.
func (in *Input[T]) Label() string { return in.label }

func (in *Input[T]) generation() (uint64, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.gen, nil
}

// Generation returns the current generation.
func (in *Input[T]) Generation() uint64 {
	g, _ := in.generation()
	return g
}

// Get returns the current value.
func (in *Input[T]) Get() T {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.value
}

// Set stores v and reports whether the value changed.
func (in *Input[T]) Set(v T) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.equal != nil && in.equal(in.value, v) {
		return false
	}
	in.value = v
	in.gen = in.scope.nextGeneration()
	in.scope.logger.V(1).Info("input changed", "input", in.label, "generation", in.gen)
	return true
}
