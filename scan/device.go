package scan

import (
	"context"
	"encoding/hex"
	"fmt"
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Buffer is a device-resident contiguous run of elements.
type Buffer interface {
	Label() string
	// Size is the byte size of the buffer.
	Size() int
	Destroy()
}

// Kernel is a compiled, reusable stage program.
type Kernel interface {
	Label() string
	Release()
}

// Device is the set of services the scan engine needs from its surroundings:
// capability query, buffer allocation and readback, kernel compilation and
// command submission.
type Device interface {
	// MaxWorkgroupLength is the widest block one workgroup can combine.
	MaxWorkgroupLength() int
	CreateBuffer(label string, size int) (Buffer, error)
	CreateBufferInit(label string, data []byte) (Buffer, error)
	CompileKernel(spec KernelSpec) (Kernel, error)
	// Submit runs the batch in order and returns once the device signals
	// completion.
	Submit(ctx context.Context, batch []Dispatch) error
	ReadBuffer(ctx context.Context, buf Buffer) ([]byte, error)
}

// KernelKind selects the stage program.
type KernelKind int

const (
	KindBlockScan KernelKind = iota
	KindApplyBlock
)

func (k KernelKind) String() string {
	switch k {
	case KindBlockScan:
		return "block-scan"
	case KindApplyBlock:
		return "apply-block"
	default:
		return fmt.Sprintf("kernel(%d)", int(k))
	}
}

// KernelSpec is everything that determines a compiled kernel. Element counts
// are not part of it; kernels read them from the bound buffers.
type KernelSpec struct {
	Kind           KernelKind
	Template       Template
	BlockLength    int
	Exclusive      bool
	EmitsSummaries bool
	// Seed is combined in front of every output when non-nil.
	Seed []byte
}

// Key identifies the spec in a PipelineCache. Templates are told apart by
// identity as well as name, so two templates sharing a name never share a
// kernel.
func (s KernelSpec) Key() string {
	seed := "-"
	if s.Seed != nil {
		seed = hex.EncodeToString(s.Seed)
	}
	return fmt.Sprintf("%s/%s/L%d/excl=%t/sums=%t/seed=%s",
		s.Kind, templateIdentity(s.Template), s.BlockLength, s.Exclusive, s.EmitsSummaries, seed)
}

func templateIdentity(t Template) string {
	v := reflect.ValueOf(t)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.UnsafePointer:
		return fmt.Sprintf("%s@%#x", t.Name(), v.Pointer())
	default:
		return fmt.Sprintf("%s@%#v", t.Name(), t)
	}
}

// Dispatch is one stage invocation in a submitted batch.
type Dispatch struct {
	Label  string
	Kernel Kernel
	// Bindings follow the kernel's binding order: inputs first, then outputs.
	Bindings   []Buffer
	Workgroups int
}

// PipelineCache holds compiled kernels across graph rebuilds.
type PipelineCache interface {
	// Acquire returns the kernel cached under key, compiling it on a miss.
	// The kernel stays valid until release is called, even if the cache
	// evicts it in the meantime.
	Acquire(key string, compile func() (Kernel, error)) (k Kernel, release func(), err error)
}

// DefaultPipelineCacheSize bounds the default cache.
const DefaultPipelineCacheSize = 64

// cachedKernel counts the stages holding a kernel. An evicted kernel is
// released once the last holder lets go.
type cachedKernel struct {
	kernel  Kernel
	refs    int
	evicted bool
}

type lruPipelineCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewPipelineCache returns an LRU cache of kernels. Evicted kernels are
// released when no stage holds them any more.
func NewPipelineCache(size int) (PipelineCache, error) {
	if size <= 0 {
		size = DefaultPipelineCacheSize
	}
	// the callback runs inside Add and Purge, with mu held
	c, err := lru.NewWithEvict(size, func(_ interface{}, value interface{}) {
		e := value.(*cachedKernel)
		e.evicted = true
		if e.refs == 0 {
			e.kernel.Release()
		}
	})
	if err != nil {
		return nil, Wrapf(ErrConfig, err, "pipeline cache")
	}
	return &lruPipelineCache{cache: c}, nil
}

func (c *lruPipelineCache) Acquire(key string, compile func() (Kernel, error)) (Kernel, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var e *cachedKernel
	if v, ok := c.cache.Get(key); ok {
		e = v.(*cachedKernel)
	} else {
		k, err := compile()
		if err != nil {
			return nil, nil, err
		}
		e = &cachedKernel{kernel: k}
		c.cache.Add(key, e)
	}
	e.refs++

	var once sync.Once
	return e.kernel, func() { once.Do(func() { c.drop(e) }) }, nil
}

func (c *lruPipelineCache) drop(e *cachedKernel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.evicted {
		e.kernel.Release()
	}
}

// Len returns the number of cached kernels.
func (c *lruPipelineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Purge evicts every kernel. Kernels still held by stages are released when
// those stages are destroyed.
func (c *lruPipelineCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

// acquireKernel returns spec's kernel and the func that gives it back. Without
// a cache the kernel is compiled for the caller alone.
func acquireKernel(dev Device, cache PipelineCache, spec KernelSpec) (Kernel, func(), error) {
	if cache == nil {
		k, err := dev.CompileKernel(spec)
		if err != nil {
			return nil, nil, err
		}
		return k, k.Release, nil
	}
	return cache.Acquire(spec.Key(), func() (Kernel, error) {
		return dev.CompileKernel(spec)
	})
}
