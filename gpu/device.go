package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/openfluke/webgpu/wgpu"
	"go.uber.org/multierr"

	"github.com/openfluke/prefixscan/detector"
	"github.com/openfluke/prefixscan/scan"
)

// Device runs scan kernels on the shared WebGPU context.
type Device struct {
	ctx    *Context
	limits detector.Limits
	logger logr.Logger

	maxWorkgroup int

	mu   sync.Mutex
	live int
}

// Option is a modifier for Device
type Option func(*Device)

// WithLogger sets the device logger.
func WithLogger(l logr.Logger) Option {
	return func(d *Device) {
		d.logger = l
	}
}

// WithMaxWorkgroupLength caps the reported workgroup length below the
// adapter limit.
func WithMaxWorkgroupLength(n int) Option {
	return func(d *Device) {
		d.maxWorkgroup = n
	}
}

// New opens the shared GPU context and reads the adapter limits.
func New(opts ...Option) (*Device, error) {
	d := &Device{logger: logr.Discard()}
	for _, opt := range opts {
		opt(d)
	}
	c, err := GetContext(d.logger)
	if err != nil {
		return nil, scan.Wrapf(scan.ErrDevice, err, "open GPU")
	}
	d.ctx = c
	d.limits = detector.FromAdapter(c.Adapter).Limits
	if max := d.limits.MaxWorkgroupLength(); d.maxWorkgroup <= 0 || d.maxWorkgroup > max {
		d.maxWorkgroup = max
	}
	d.logger.V(1).Info("GPU device ready", "maxWorkgroupLength", d.maxWorkgroup,
		"maxWorkgroups", d.limits.MaxWorkgroups())
	return d, nil
}

// Limits returns the adapter limits the device was opened with.
func (d *Device) Limits() detector.Limits { return d.limits }

// MaxWorkgroupLength implements scan.Device.
func (d *Device) MaxWorkgroupLength() int { return d.maxWorkgroup }

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *Device) track() {
	d.mu.Lock()
	d.live++
	d.mu.Unlock()
}

func (d *Device) forget() {
	d.mu.Lock()
	d.live--
	d.mu.Unlock()
}

func (d *Device) checkSize(label string, size int) error {
	if size < 0 {
		return scan.Errorf(scan.ErrConfig, "buffer %s: size %d", label, size)
	}
	if max := d.limits.MaxStorageBufferBindingSize; max > 0 && uint64(size) > max {
		return scan.Errorf(scan.ErrConfig, "buffer %s: %d bytes exceeds binding limit %d", label, size, max)
	}
	return nil
}

// CreateBuffer implements scan.Device.
func (d *Device) CreateBuffer(label string, size int) (scan.Buffer, error) {
	if err := d.checkSize(label, size); err != nil {
		return nil, err
	}
	buf, err := d.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  alignedSize(size),
		Usage: storageUsage,
	})
	if err != nil {
		return nil, scan.Wrapf(scan.ErrDevice, err, "create buffer %s", label)
	}
	d.track()
	return &buffer{dev: d, label: label, size: size, buf: buf}, nil
}

// CreateBufferInit implements scan.Device.
func (d *Device) CreateBufferInit(label string, data []byte) (scan.Buffer, error) {
	if err := d.checkSize(label, len(data)); err != nil {
		return nil, err
	}
	contents := data
	if want := int(alignedSize(len(data))); want != len(data) {
		contents = make([]byte, want)
		copy(contents, data)
	}
	buf, err := d.ctx.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: contents,
		Usage:    storageUsage,
	})
	if err != nil {
		return nil, scan.Wrapf(scan.ErrDevice, err, "create buffer %s", label)
	}
	d.track()
	return &buffer{dev: d, label: label, size: len(data), buf: buf}, nil
}

func (d *Device) own(b scan.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf.dev != d {
		return nil, scan.Errorf(scan.ErrDevice, "buffer %s does not belong to this device", b.Label())
	}
	if buf.buf == nil {
		return nil, scan.Errorf(scan.ErrDevice, "buffer %s used after destroy", buf.label)
	}
	return buf, nil
}

// ReadBuffer implements scan.Device.
func (d *Device) ReadBuffer(ctx context.Context, b scan.Buffer) ([]byte, error) {
	buf, err := d.own(b)
	if err != nil {
		return nil, err
	}
	out, err := readBuffer(ctx, d.ctx, buf.buf, buf.size)
	if err != nil {
		return nil, scan.Wrapf(scan.ErrDevice, err, "read %s", buf.label)
	}
	return out, nil
}

// kernel is a compiled compute pipeline.
type kernel struct {
	spec     scan.KernelSpec
	label    string
	module   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
}

func (k *kernel) Label() string { return k.label }

func (k *kernel) Release() {
	if k.pipeline != nil {
		k.pipeline.Release()
		k.pipeline = nil
	}
	if k.module != nil {
		k.module.Release()
		k.module = nil
	}
}

// CompileKernel implements scan.Device.
func (d *Device) CompileKernel(spec scan.KernelSpec) (scan.Kernel, error) {
	if spec.Template == nil {
		return nil, scan.Errorf(scan.ErrConfig, "kernel %s: no template", spec.Kind)
	}
	if spec.BlockLength <= 0 || spec.BlockLength > d.maxWorkgroup {
		return nil, scan.Errorf(scan.ErrConfig, "kernel %s: block length %d outside [1, %d]",
			spec.Kind, spec.BlockLength, d.maxWorkgroup)
	}
	if spec.Seed != nil && len(spec.Seed) != spec.Template.ElementSize() {
		return nil, scan.Errorf(scan.ErrConfig, "kernel %s: seed is %d bytes, want %d",
			spec.Kind, len(spec.Seed), spec.Template.ElementSize())
	}
	code, err := Shader(spec)
	if err != nil {
		return nil, err
	}

	label := spec.Key()
	module, err := d.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, scan.Wrapf(scan.ErrDevice, err, "compile %s", label)
	}
	pipeline, err := d.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   label + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		module.Release()
		return nil, scan.Wrapf(scan.ErrDevice, err, "create pipeline %s", label)
	}
	d.logger.V(1).Info("compiled kernel", "key", label)
	return &kernel{spec: spec, label: label, module: module, pipeline: pipeline}, nil
}

// Submit implements scan.Device: the batch is recorded as one compute pass per
// dispatch in a single command buffer, and Submit returns once the device is
// idle.
func (d *Device) Submit(ctx context.Context, batch []scan.Dispatch) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.pushErrorScopes()
	defer func() {
		err = multierr.Append(err, d.popErrorScopes())
	}()
	var bindGroups []*wgpu.BindGroup
	defer func() {
		for _, bg := range bindGroups {
			bg.Release()
		}
	}()

	enc, err := d.ctx.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "prefixscan"})
	if err != nil {
		return scan.Wrapf(scan.ErrDevice, err, "create command encoder")
	}
	defer enc.Release()

	for _, dispatch := range batch {
		k, ok := dispatch.Kernel.(*kernel)
		if !ok || k == nil || k.pipeline == nil {
			return scan.Errorf(scan.ErrDevice, "dispatch %s: kernel not compiled by this device", dispatch.Label)
		}
		if max := d.limits.MaxWorkgroups(); max > 0 && dispatch.Workgroups > max {
			return scan.Errorf(scan.ErrCapacity, "dispatch %s: %d workgroups exceeds limit %d",
				dispatch.Label, dispatch.Workgroups, max)
		}
		entries := make([]wgpu.BindGroupEntry, len(dispatch.Bindings))
		for i, b := range dispatch.Bindings {
			buf, err := d.own(b)
			if err != nil {
				return err
			}
			entries[i] = wgpu.BindGroupEntry{Binding: uint32(i), Buffer: buf.buf, Offset: 0, Size: uint64(buf.size)}
		}
		bg, err := d.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   dispatch.Label + "_Bind",
			Layout:  k.pipeline.GetBindGroupLayout(0),
			Entries: entries,
		})
		if err != nil {
			return scan.Wrapf(scan.ErrDevice, err, "bind group %s", dispatch.Label)
		}
		bindGroups = append(bindGroups, bg)

		pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: dispatch.Label})
		pass.SetPipeline(k.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.DispatchWorkgroups(uint32(dispatch.Workgroups), 1, 1)
		pass.End()
	}

	cmd, err := enc.Finish(nil)
	if err != nil {
		return scan.Wrapf(scan.ErrDevice, err, "command encoder finish")
	}
	d.ctx.Queue.Submit(cmd)
	cmd.Release()
	d.ctx.Device.Poll(true, nil)
	d.logger.V(1).Info("batch complete", "dispatches", len(batch))
	return nil
}

// Validation and out-of-memory errors raised while a batch is encoded and
// run are caught in error scopes and returned from Submit.
var errorFilters = []wgpu.ErrorFilter{wgpu.ErrorFilterValidation, wgpu.ErrorFilterOutOfMemory}

func (d *Device) pushErrorScopes() {
	for _, f := range errorFilters {
		d.ctx.Device.PushErrorScope(f)
	}
}

func (d *Device) popErrorScopes() error {
	var errs error
	for range errorFilters {
		d.ctx.Device.PopErrorScope(func(typ wgpu.ErrorType, message string) {
			errs = multierr.Append(errs, scopeError(typ, message))
		})
	}
	return errs
}

// scopeError maps a popped error scope to ErrDevice; nil when the scope
// caught nothing.
func scopeError(typ wgpu.ErrorType, message string) error {
	if typ == wgpu.ErrorTypeNoError {
		return nil
	}
	return scan.Errorf(scan.ErrDevice, "device error (type %d): %s", int(typ), message)
}

func (d *Device) String() string {
	return fmt.Sprintf("gpu(maxWorkgroupLength=%d)", d.maxWorkgroup)
}
