package scan

import (
	"encoding/binary"
	"math"
)

// Template describes an associative combine over fixed-size elements.
//
// Combine must be associative; it need not be commutative. dst may alias a
// or b.
type Template interface {
	Name() string
	ElementSize() int
	Identity() []byte
	Combine(dst, a, b []byte)
}

// ShaderTemplate is implemented by templates that can run on a WebGPU device.
type ShaderTemplate interface {
	Template
	// WGSLType is the element type, e.g. "u32".
	WGSLType() string
	// WGSLCombine is the body of `fn binaryOp(a: T, b: T) -> T`.
	WGSLCombine() string
}

// Codec converts between encoded elements and host values.
type Codec[T any] interface {
	EncodeElement(dst []byte, v T)
	DecodeElement(src []byte) T
}

// numeric is a 4-byte little-endian template over a Go number type.
type numeric[T uint32 | float32] struct {
	name     string
	identity T
	combine  func(a, b T) T
	wgslType string
	wgslOp   string
}

var (
	// SumU32 is the default template: wrapping 32-bit unsigned addition.
	SumU32 Template = &numeric[uint32]{
		name: "sum-u32", identity: 0, wgslType: "u32", wgslOp: "return a + b;",
		combine: func(a, b uint32) uint32 { return a + b },
	}
	MaxU32 Template = &numeric[uint32]{
		name: "max-u32", identity: 0, wgslType: "u32", wgslOp: "return max(a, b);",
		combine: func(a, b uint32) uint32 {
			if a > b {
				return a
			}
			return b
		},
	}
	MinU32 Template = &numeric[uint32]{
		name: "min-u32", identity: math.MaxUint32, wgslType: "u32", wgslOp: "return min(a, b);",
		combine: func(a, b uint32) uint32 {
			if a < b {
				return a
			}
			return b
		},
	}
	SumF32 Template = &numeric[float32]{
		name: "sum-f32", identity: 0, wgslType: "f32", wgslOp: "return a + b;",
		combine: func(a, b float32) float32 { return a + b },
	}
	MaxF32 Template = &numeric[float32]{
		name: "max-f32", identity: float32(math.Inf(-1)), wgslType: "f32", wgslOp: "return max(a, b);",
		combine: func(a, b float32) float32 {
			if a > b {
				return a
			}
			return b
		},
	}
	MinF32 Template = &numeric[float32]{
		name: "min-f32", identity: float32(math.Inf(1)), wgslType: "f32", wgslOp: "return min(a, b);",
		combine: func(a, b float32) float32 {
			if a < b {
				return a
			}
			return b
		},
	}
)

// Builtin returns a built-in template by name.
func Builtin(name string) (Template, bool) {
	for _, t := range []Template{SumU32, MaxU32, MinU32, SumF32, MaxF32, MinF32} {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

func (n *numeric[T]) Name() string     { return n.name }
func (n *numeric[T]) ElementSize() int { return 4 }
func (n *numeric[T]) WGSLType() string { return n.wgslType }
func (n *numeric[T]) WGSLCombine() string {
	return n.wgslOp
}

func (n *numeric[T]) Identity() []byte {
	b := make([]byte, 4)
	n.EncodeElement(b, n.identity)
	return b
}

func (n *numeric[T]) Combine(dst, a, b []byte) {
	n.EncodeElement(dst, n.combine(n.DecodeElement(a), n.DecodeElement(b)))
}

func (n *numeric[T]) EncodeElement(dst []byte, v T) {
	switch x := any(v).(type) {
	case uint32:
		binary.LittleEndian.PutUint32(dst, x)
	case float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(x))
	}
}

func (n *numeric[T]) DecodeElement(src []byte) T {
	bits := binary.LittleEndian.Uint32(src)
	var out T
	switch p := any(&out).(type) {
	case *uint32:
		*p = bits
	case *float32:
		*p = math.Float32frombits(bits)
	}
	return out
}

// Encode packs host values into a device-layout byte slice. tpl must
// implement Codec[T].
func Encode[T any](tpl Template, values []T) ([]byte, error) {
	codec, ok := tpl.(Codec[T])
	if !ok {
		return nil, Errorf(ErrConfig, "template %s has no codec for %T", tpl.Name(), *new(T))
	}
	size := tpl.ElementSize()
	out := make([]byte, len(values)*size)
	for i, v := range values {
		codec.EncodeElement(out[i*size:(i+1)*size], v)
	}
	return out, nil
}

// Decode unpacks device-layout bytes into host values. tpl must implement
// Codec[T].
func Decode[T any](tpl Template, raw []byte) ([]T, error) {
	codec, ok := tpl.(Codec[T])
	if !ok {
		return nil, Errorf(ErrConfig, "template %s has no codec for %T", tpl.Name(), *new(T))
	}
	size := tpl.ElementSize()
	if len(raw)%size != 0 {
		return nil, Errorf(ErrConfig, "%d bytes is not a whole number of %d-byte elements", len(raw), size)
	}
	out := make([]T, len(raw)/size)
	for i := range out {
		out[i] = codec.DecodeElement(raw[i*size : (i+1)*size])
	}
	return out, nil
}

// EncodeValue packs a single host value, for use as an initial value.
func EncodeValue[T any](tpl Template, v T) ([]byte, error) {
	return Encode(tpl, []T{v})
}

// Reference computes the scan sequentially on the host. It is the ground truth
// for the device path and the fallback for host-only callers.
func Reference(tpl Template, src []byte, exclusive bool, seed []byte) []byte {
	size := tpl.ElementSize()
	out := make([]byte, len(src))
	acc := tpl.Identity()
	if seed != nil {
		acc = append([]byte(nil), seed...)
	}
	for off := 0; off+size <= len(src); off += size {
		if exclusive {
			copy(out[off:off+size], acc)
			tpl.Combine(acc, acc, src[off:off+size])
		} else {
			tpl.Combine(acc, acc, src[off:off+size])
			copy(out[off:off+size], acc)
		}
	}
	return out
}
