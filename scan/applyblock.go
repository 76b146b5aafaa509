package scan

import "fmt"

// ApplyBlockConfig defines one Apply-Block Stage.
type ApplyBlockConfig struct {
	Label    string
	Level    int
	Template Template
	// PartialScan holds the inclusive in-block scan of the level.
	PartialScan Buffer
	// BlockSums holds, per block, the combine of everything before the block.
	BlockSums   Buffer
	BlockLength int
	// Exclusive selects the output mode: result[i] excludes element i.
	Exclusive bool
}

// ApplyBlockStage folds resolved block prefixes into a level's partial scan:
// result[i] = blockSums[i/L] ⊕ partialScan[i] (or ⊕ partialScan[i-1] in
// exclusive mode, nothing at a block start).
type ApplyBlockStage struct {
	Spec   ApplyBlockConfig
	Length int

	Result Buffer

	kernel  Kernel
	release func()
}

// NewApplyBlockStage validates cfg, allocates the result and compiles the
// kernel.
func NewApplyBlockStage(dev Device, cache PipelineCache, cfg ApplyBlockConfig) (*ApplyBlockStage, error) {
	if cfg.Template == nil {
		return nil, Errorf(ErrConfig, "apply block %q: no template", cfg.Label)
	}
	if cfg.BlockLength <= 0 {
		return nil, Errorf(ErrConfig, "apply block %q: block length %d", cfg.Label, cfg.BlockLength)
	}
	if cfg.PartialScan == nil || cfg.BlockSums == nil {
		return nil, Errorf(ErrConfig, "apply block %q: missing input", cfg.Label)
	}
	n, err := elementCount(cfg.PartialScan, cfg.Template)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, Errorf(ErrConfig, "apply block %q: empty partial scan", cfg.Label)
	}
	sums, err := elementCount(cfg.BlockSums, cfg.Template)
	if err != nil {
		return nil, err
	}
	if want := ceilDiv(n, cfg.BlockLength); sums < want {
		return nil, Errorf(ErrConfig, "apply block %q: %d block sums for %d blocks", cfg.Label, sums, want)
	}

	s := &ApplyBlockStage{Spec: cfg, Length: n}
	s.Result, err = dev.CreateBuffer(cfg.Label+"_Result", n*cfg.Template.ElementSize())
	if err != nil {
		return nil, Wrapf(ErrDevice, err, "allocate %s result", cfg.Label)
	}
	s.kernel, s.release, err = acquireKernel(dev, cache, KernelSpec{
		Kind:        KindApplyBlock,
		Template:    cfg.Template,
		BlockLength: cfg.BlockLength,
		Exclusive:   cfg.Exclusive,
	})
	if err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

// Workgroups is the number of blocks striped over the elements.
func (s *ApplyBlockStage) Workgroups() int {
	return ceilDiv(s.Length, s.Spec.BlockLength)
}

// Dispatch returns the stage's entry in a submitted batch.
func (s *ApplyBlockStage) Dispatch() Dispatch {
	return Dispatch{
		Label:      s.Spec.Label,
		Kernel:     s.kernel,
		Bindings:   []Buffer{s.Spec.PartialScan, s.Spec.BlockSums, s.Result},
		Workgroups: s.Workgroups(),
	}
}

func (s *ApplyBlockStage) String() string {
	return fmt.Sprintf("%s: level %d, %d elements, L=%d, exclusive=%t",
		s.Spec.Label, s.Spec.Level, s.Length, s.Spec.BlockLength, s.Spec.Exclusive)
}

// Destroy releases the result buffer.
func (s *ApplyBlockStage) Destroy() {
	if s.Result != nil {
		s.Result.Destroy()
		s.Result = nil
	}
	if s.release != nil {
		s.release()
		s.release = nil
	}
	s.kernel = nil
}
