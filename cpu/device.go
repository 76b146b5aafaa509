// Package cpu is a host implementation of scan.Device. Workgroups of a
// dispatch run concurrently on goroutines; dispatches of a batch run in order.
// It is the reference backend for tests and machines without a GPU.
package cpu

import (
	"context"
	"runtime"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/openfluke/prefixscan/scan"
)

// DefaultMaxWorkgroupLength mirrors the common WebGPU limit.
const DefaultMaxWorkgroupLength = 256

// Device runs kernels on the host.
type Device struct {
	maxWorkgroup int
	workers      int
	logger       logr.Logger

	mu      sync.Mutex
	live    int
	batches int
}

// Option is a modifier for Device
type Option func(*Device)

// WithMaxWorkgroupLength sets the reported device maximum.
func WithMaxWorkgroupLength(n int) Option {
	return func(d *Device) {
		d.maxWorkgroup = n
	}
}

// WithWorkers bounds the goroutines running workgroups of one dispatch.
func WithWorkers(n int) Option {
	return func(d *Device) {
		d.workers = n
	}
}

// WithLogger sets the device logger.
func WithLogger(l logr.Logger) Option {
	return func(d *Device) {
		d.logger = l
	}
}

// New creates a host device.
func New(opts ...Option) *Device {
	d := &Device{
		maxWorkgroup: DefaultMaxWorkgroupLength,
		workers:      runtime.GOMAXPROCS(0),
		logger:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	return d
}

// MaxWorkgroupLength implements scan.Device.
func (d *Device) MaxWorkgroupLength() int { return d.maxWorkgroup }

type buffer struct {
	dev       *Device
	label     string
	data      []byte
	destroyed bool
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() int     { return len(b.data) }

func (b *buffer) Destroy() {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.data = nil
	b.dev.live--
}

// CreateBuffer implements scan.Device.
func (d *Device) CreateBuffer(label string, size int) (scan.Buffer, error) {
	if size < 0 {
		return nil, scan.Errorf(scan.ErrConfig, "buffer %s: size %d", label, size)
	}
	return d.newBuffer(label, make([]byte, size)), nil
}

// CreateBufferInit implements scan.Device.
func (d *Device) CreateBufferInit(label string, data []byte) (scan.Buffer, error) {
	return d.newBuffer(label, append([]byte{}, data...)), nil
}

func (d *Device) newBuffer(label string, data []byte) *buffer {
	d.mu.Lock()
	d.live++
	d.mu.Unlock()
	return &buffer{dev: d, label: label, data: data}
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Batches returns the number of submitted batches.
func (d *Device) Batches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batches
}

// ReadBuffer implements scan.Device.
func (d *Device) ReadBuffer(ctx context.Context, b scan.Buffer) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := d.own(b)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, buf.data...), nil
}

func (d *Device) own(b scan.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf.dev != d {
		return nil, scan.Errorf(scan.ErrDevice, "buffer %s does not belong to this device", b.Label())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf.destroyed {
		return nil, scan.Errorf(scan.ErrDevice, "buffer %s used after destroy", buf.label)
	}
	return buf, nil
}

// Submit implements scan.Device. The context is checked once before the batch
// starts; a started batch always runs to completion.
func (d *Device) Submit(ctx context.Context, batch []scan.Dispatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.batches++
	d.mu.Unlock()

	for _, dispatch := range batch {
		if err := d.run(dispatch); err != nil {
			return err
		}
	}
	d.logger.V(1).Info("batch complete", "dispatches", len(batch))
	return nil
}

func (d *Device) run(dispatch scan.Dispatch) error {
	k, ok := dispatch.Kernel.(*kernel)
	if !ok || k == nil || k.released {
		return scan.Errorf(scan.ErrDevice, "dispatch %s: kernel not compiled by this device", dispatch.Label)
	}
	bindings := make([]*buffer, len(dispatch.Bindings))
	for i, b := range dispatch.Bindings {
		buf, err := d.own(b)
		if err != nil {
			return err
		}
		bindings[i] = buf
	}
	if err := k.check(bindings); err != nil {
		return scan.Wrapf(scan.ErrDevice, err, "dispatch %s", dispatch.Label)
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for w := 0; w < dispatch.Workgroups; w++ {
		w := w
		g.Go(func() error {
			k.workgroup(w, bindings)
			return nil
		})
	}
	return g.Wait()
}
