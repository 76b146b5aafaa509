package scan

import (
	"encoding/binary"
	"fmt"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// exprTemplate is a u32 template whose combine is an expr-lang expression
// over the variables a and b. It has no WGSL form and only runs on host
// backends.
type exprTemplate struct {
	name       string
	expression string
	identity   uint32
	program    *exprvm.Program

	mu  sync.Mutex
	err error
}

// NewExprTemplate compiles expression into a template, e.g. "a + b" or
// "max(a, b)". The expression is checked against (identity, identity) so that
// type errors surface here rather than mid-scan. Associativity is the
// caller's responsibility.
func NewExprTemplate(name, expression string, identity uint32) (Template, error) {
	if expression == "" {
		return nil, Errorf(ErrConfig, "expression must not be empty")
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{"a": 0, "b": 0}),
	)
	if err != nil {
		return nil, Wrapf(ErrConfig, err, "compile template expression %q", expression)
	}
	t := &exprTemplate{
		name:       name,
		expression: expression,
		identity:   identity,
		program:    program,
	}
	if name == "" {
		t.name = "expr(" + expression + ")"
	}
	if _, err := t.eval(identity, identity); err != nil {
		return nil, Wrapf(ErrConfig, err, "evaluate template expression %q", expression)
	}
	return t, nil
}

func (t *exprTemplate) Name() string     { return t.name }
func (t *exprTemplate) ElementSize() int { return 4 }

// Expression returns the source expression.
func (t *exprTemplate) Expression() string { return t.expression }

func (t *exprTemplate) Identity() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, t.identity)
	return b
}

func (t *exprTemplate) Combine(dst, a, b []byte) {
	v, err := t.eval(binary.LittleEndian.Uint32(a), binary.LittleEndian.Uint32(b))
	if err != nil {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
	binary.LittleEndian.PutUint32(dst, v)
}

// Err returns the first evaluation failure seen by Combine.
func (t *exprTemplate) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *exprTemplate) EncodeElement(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst, v)
}

func (t *exprTemplate) DecodeElement(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

func (t *exprTemplate) eval(a, b uint32) (uint32, error) {
	out, err := exprlang.Run(t.program, map[string]any{"a": int(a), "b": int(b)})
	if err != nil {
		return 0, err
	}
	switch v := out.(type) {
	case int:
		return uint32(v), nil
	case int64:
		return uint32(v), nil
	case uint32:
		return v, nil
	case float64:
		return uint32(v), nil
	default:
		return 0, fmt.Errorf("expression %q returned %T, want a number", t.expression, out)
	}
}
