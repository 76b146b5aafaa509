package scan

import "fmt"

// BlockScanConfig defines one Block Scan Stage.
type BlockScanConfig struct {
	Label    string
	Level    int
	Template Template
	Source   Buffer
	// BlockLength is the number of elements scanned together by one
	// workgroup.
	BlockLength    int
	EmitsSummaries bool
	Exclusive      bool
	// Seed, when non-nil, is combined in front of every output. Only the
	// top-level stage of a graph is seeded.
	Seed []byte
}

// BlockScanStage scans its source in independent blocks and optionally emits
// one inclusive total per block.
type BlockScanStage struct {
	Spec         BlockScanConfig
	SourceLength int

	PrefixScan Buffer
	BlockSums  Buffer // nil unless Spec.EmitsSummaries

	kernel  Kernel
	release func()
}

// NewBlockScanStage validates cfg, allocates the stage outputs and compiles
// (or fetches from cache) its kernel.
func NewBlockScanStage(dev Device, cache PipelineCache, cfg BlockScanConfig) (*BlockScanStage, error) {
	if cfg.Template == nil {
		return nil, Errorf(ErrConfig, "block scan %q: no template", cfg.Label)
	}
	if cfg.BlockLength <= 0 {
		return nil, Errorf(ErrConfig, "block scan %q: block length %d", cfg.Label, cfg.BlockLength)
	}
	if cfg.Source == nil {
		return nil, Errorf(ErrConfig, "block scan %q: no source", cfg.Label)
	}
	n, err := elementCount(cfg.Source, cfg.Template)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, Errorf(ErrConfig, "block scan %q: empty source", cfg.Label)
	}
	if cfg.Seed != nil && len(cfg.Seed) != cfg.Template.ElementSize() {
		return nil, Errorf(ErrConfig, "block scan %q: seed is %d bytes, want %d",
			cfg.Label, len(cfg.Seed), cfg.Template.ElementSize())
	}

	s := &BlockScanStage{Spec: cfg, SourceLength: n}
	size := cfg.Template.ElementSize()

	s.PrefixScan, err = dev.CreateBuffer(cfg.Label+"_PrefixScan", n*size)
	if err != nil {
		return nil, Wrapf(ErrDevice, err, "allocate %s prefix scan", cfg.Label)
	}
	if cfg.EmitsSummaries {
		s.BlockSums, err = dev.CreateBuffer(cfg.Label+"_BlockSums", s.Workgroups()*size)
		if err != nil {
			s.Destroy()
			return nil, Wrapf(ErrDevice, err, "allocate %s block sums", cfg.Label)
		}
	}

	s.kernel, s.release, err = acquireKernel(dev, cache, s.kernelSpec())
	if err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *BlockScanStage) kernelSpec() KernelSpec {
	return KernelSpec{
		Kind:           KindBlockScan,
		Template:       s.Spec.Template,
		BlockLength:    s.Spec.BlockLength,
		Exclusive:      s.Spec.Exclusive,
		EmitsSummaries: s.Spec.EmitsSummaries,
		Seed:           s.Spec.Seed,
	}
}

// Workgroups is the number of blocks, ceil(SourceLength / BlockLength).
func (s *BlockScanStage) Workgroups() int {
	return ceilDiv(s.SourceLength, s.Spec.BlockLength)
}

// Dispatch returns the stage's entry in a submitted batch.
func (s *BlockScanStage) Dispatch() Dispatch {
	bindings := []Buffer{s.Spec.Source, s.PrefixScan}
	if s.BlockSums != nil {
		bindings = append(bindings, s.BlockSums)
	}
	return Dispatch{
		Label:      s.Spec.Label,
		Kernel:     s.kernel,
		Bindings:   bindings,
		Workgroups: s.Workgroups(),
	}
}

func (s *BlockScanStage) String() string {
	return fmt.Sprintf("%s: level %d, %d elements, L=%d, exclusive=%t, summaries=%t",
		s.Spec.Label, s.Spec.Level, s.SourceLength, s.Spec.BlockLength, s.Spec.Exclusive, s.Spec.EmitsSummaries)
}

// Destroy releases the stage outputs. The source belongs to whoever produced
// it.
func (s *BlockScanStage) Destroy() {
	if s.PrefixScan != nil {
		s.PrefixScan.Destroy()
		s.PrefixScan = nil
	}
	if s.BlockSums != nil {
		s.BlockSums.Destroy()
		s.BlockSums = nil
	}
	if s.release != nil {
		s.release()
		s.release = nil
	}
	s.kernel = nil
}

func elementCount(buf Buffer, tpl Template) (int, error) {
	size := tpl.ElementSize()
	if size <= 0 {
		return 0, Errorf(ErrConfig, "template %s: element size %d", tpl.Name(), size)
	}
	if buf.Size()%size != 0 {
		return 0, Errorf(ErrConfig, "%s: %d bytes is not a whole number of %d-byte elements",
			buf.Label(), buf.Size(), size)
	}
	return buf.Size() / size, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
