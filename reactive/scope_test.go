package reactive

import (
	"errors"
	"strings"
	"testing"
)

func TestScope_DisposeLIFO(t *testing.T) {
	scope := NewScope(WithLabel("test"))
	var order []string

	first := Derive(scope, "first", nil, func(ctx *ResolveCtx) (int, error) {
		ctx.OnCleanup(func() error {
			order = append(order, "first-a")
			return nil
		})
		ctx.OnCleanup(func() error {
			order = append(order, "first-b")
			return nil
		})
		return 1, nil
	})
	second := Derive(scope, "second", []Node{first}, func(ctx *ResolveCtx) (int, error) {
		ctx.OnCleanup(func() error {
			order = append(order, "second")
			return nil
		})
		v, err := first.Get()
		return v + 1, err
	})

	if _, err := second.Get(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := scope.Dispose(); err != nil {
		t.Fatalf("unexpected dispose error: %v", err)
	}

	expected := []string{"second", "first-b", "first-a"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected %v, got %v", expected, order)
	}

	if _, err := second.Get(); !errors.Is(err, ErrDisposed) {
		t.Errorf("Expected ErrDisposed after dispose, got %v", err)
	}
	if err := scope.Dispose(); err != nil {
		t.Errorf("Expected second Dispose to be a no-op, got %v", err)
	}
}

func TestScope_DisposeCollectsErrors(t *testing.T) {
	scope := NewScope()
	bad := errors.New("release failed")
	ran := 0

	c := Derive(scope, "c", nil, func(ctx *ResolveCtx) (int, error) {
		ctx.OnCleanup(func() error {
			ran++
			return nil
		})
		ctx.OnCleanup(func() error {
			ran++
			return bad
		})
		return 0, nil
	})
	c.Get()

	err := scope.Dispose()
	if !errors.Is(err, bad) {
		t.Fatalf("Expected release failure, got %v", err)
	}
	var ce *CleanupError
	if !errors.As(err, &ce) || ce.Context != "dispose" || ce.Node != "c" {
		t.Errorf("Expected CleanupError for c during dispose, got %v", err)
	}
	if ran != 2 {
		t.Errorf("Expected both cleanups to run, got %d", ran)
	}
}

func TestScope_Identity(t *testing.T) {
	a := NewScope()
	b := NewScope()
	if a.ID() == b.ID() {
		t.Errorf("Expected distinct scope ids")
	}
	if !strings.HasPrefix(a.Label(), "scope-") {
		t.Errorf("Expected generated label, got %q", a.Label())
	}
}
