package cpu

import (
	"fmt"

	"github.com/openfluke/prefixscan/scan"
)

type kernel struct {
	spec     scan.KernelSpec
	label    string
	size     int
	released bool
}

func (k *kernel) Label() string { return k.label }
func (k *kernel) Release()      { k.released = true }

// CompileKernel implements scan.Device.
func (d *Device) CompileKernel(spec scan.KernelSpec) (scan.Kernel, error) {
	if spec.Template == nil {
		return nil, scan.Errorf(scan.ErrConfig, "kernel %s: no template", spec.Kind)
	}
	if spec.BlockLength <= 0 || spec.BlockLength > d.maxWorkgroup {
		return nil, scan.Errorf(scan.ErrConfig, "kernel %s: block length %d outside [1, %d]",
			spec.Kind, spec.BlockLength, d.maxWorkgroup)
	}
	size := spec.Template.ElementSize()
	if spec.Seed != nil && len(spec.Seed) != size {
		return nil, scan.Errorf(scan.ErrConfig, "kernel %s: seed is %d bytes, want %d", spec.Kind, len(spec.Seed), size)
	}
	switch spec.Kind {
	case scan.KindBlockScan, scan.KindApplyBlock:
	default:
		return nil, scan.Errorf(scan.ErrConfig, "unknown kernel kind %s", spec.Kind)
	}
	d.logger.V(1).Info("compiled kernel", "key", spec.Key())
	return &kernel{spec: spec, label: spec.Key(), size: size}, nil
}

func (k *kernel) check(bindings []*buffer) error {
	want := 2
	switch {
	case k.spec.Kind == scan.KindApplyBlock:
		want = 3
	case k.spec.EmitsSummaries:
		want = 3
	}
	if len(bindings) != want {
		return fmt.Errorf("%s expects %d bindings, got %d", k.spec.Kind, want, len(bindings))
	}
	for _, b := range bindings {
		if len(b.data)%k.size != 0 {
			return fmt.Errorf("binding %s is not a whole number of %d-byte elements", b.label, k.size)
		}
	}
	return nil
}

func (k *kernel) workgroup(w int, b []*buffer) {
	switch k.spec.Kind {
	case scan.KindBlockScan:
		k.blockScan(w, b)
	case scan.KindApplyBlock:
		k.applyBlock(w, b)
	}
}

// blockScan scans block w of b[0] into b[1] and writes the block's inclusive
// total to b[2] when summaries are requested.
func (k *kernel) blockScan(w int, b []*buffer) {
	tpl, size, l := k.spec.Template, k.size, k.spec.BlockLength
	src, out := b[0].data, b[1].data
	n := len(src) / size
	start, end := w*l, (w+1)*l
	if end > n {
		end = n
	}

	total := tpl.Identity()
	var running []byte
	if k.spec.Seed != nil {
		running = append([]byte{}, k.spec.Seed...)
	}
	for i := start; i < end; i++ {
		in := src[i*size : (i+1)*size]
		dst := out[i*size : (i+1)*size]
		if k.spec.Exclusive {
			if running != nil {
				copy(dst, running)
			} else {
				copy(dst, total)
			}
		}
		tpl.Combine(total, total, in)
		if running != nil {
			tpl.Combine(running, running, in)
		}
		if !k.spec.Exclusive {
			if running != nil {
				copy(dst, running)
			} else {
				copy(dst, total)
			}
		}
	}
	if k.spec.EmitsSummaries && start < n {
		copy(b[2].data[w*size:(w+1)*size], total)
	}
}

// applyBlock combines the resolved prefix of block w into the partial scan.
func (k *kernel) applyBlock(w int, b []*buffer) {
	tpl, size, l := k.spec.Template, k.size, k.spec.BlockLength
	partial, sums, out := b[0].data, b[1].data, b[2].data
	n := len(partial) / size
	start, end := w*l, (w+1)*l
	if end > n {
		end = n
	}
	if start >= n || (w+1)*size > len(sums) {
		return
	}
	prefix := sums[w*size : (w+1)*size]
	for i := start; i < end; i++ {
		dst := out[i*size : (i+1)*size]
		switch {
		case !k.spec.Exclusive:
			tpl.Combine(dst, prefix, partial[i*size:(i+1)*size])
		case i == start:
			copy(dst, prefix)
		default:
			tpl.Combine(dst, prefix, partial[(i-1)*size:i*size])
		}
	}
}
