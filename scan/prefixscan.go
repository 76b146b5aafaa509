package scan

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/openfluke/prefixscan/reactive"
)

// Config is the caller-facing description of a scan.
type Config struct {
	// Source is the sequence to scan. Its element count is
	// Size() / Template.ElementSize().
	Source Buffer
	// Template defaults to SumU32.
	Template Template
	// BlockLength defaults to, and is capped at, the device maximum.
	BlockLength int
	Exclusive   bool
	// InitialValue, when non-nil, is combined in front of every output.
	InitialValue []byte
	// PipelineCache builds the kernel cache. Defaults to an LRU of
	// DefaultPipelineCacheSize kernels owned by the scan.
	PipelineCache func() (PipelineCache, error)
	// Label prefixes every stage and buffer label.
	Label string
}

// Option is a modifier for PrefixScan
type Option func(*PrefixScan)

// WithLogger sets the logger used for derivations and submissions.
func WithLogger(l logr.Logger) Option {
	return func(p *PrefixScan) {
		p.logger = l
	}
}

type topSpec struct {
	exclusive bool
	seeded    bool
	seed      string
}

// PrefixScan derives the minimal stage graph for its current inputs and runs
// it. Every derived property is cached and rebuilt only when an input it
// depends on changes; all stages and buffers belong to the scan's scope and
// are released by Destroy.
type PrefixScan struct {
	dev       Device
	cache     PipelineCache
	ownsCache bool
	label     string
	logger    logr.Logger
	scope     *reactive.Scope

	source      *reactive.Input[Buffer]
	template    *reactive.Input[Template]
	blockLength *reactive.Input[int]
	exclusive   *reactive.Input[bool]
	initial     *reactive.Input[[]byte]

	workgroupLength *reactive.Cell[int]
	sourceLength    *reactive.Cell[int]
	fits            *reactive.Cell[bool]
	levels          *reactive.Cell[[]int]
	lower           *reactive.Cell[[]*BlockScanStage]
	topConfig       *reactive.Cell[topSpec]
	top             *reactive.Cell[*BlockScanStage]
	finalExclusive  *reactive.Cell[bool]
	applies         *reactive.Cell[[]*ApplyBlockStage]
	graph           *reactive.Cell[*StageGraph]
	result          *reactive.Cell[Buffer]
}

// New creates a scan over dev. Nothing is allocated until a derived property
// is first read.
func New(dev Device, cfg Config, opts ...Option) (*PrefixScan, error) {
	if dev == nil {
		return nil, Errorf(ErrConfig, "no device")
	}
	p := &PrefixScan{
		dev:    dev,
		label:  cfg.Label,
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}

	var err error
	if cfg.PipelineCache != nil {
		p.cache, err = cfg.PipelineCache()
	} else {
		p.cache, err = NewPipelineCache(DefaultPipelineCacheSize)
		p.ownsCache = true
	}
	if err != nil {
		return nil, errors.Wrap(err, "pipeline cache")
	}

	scopeOpts := []reactive.ScopeOption{reactive.WithLogger(p.logger)}
	if p.label != "" {
		scopeOpts = append(scopeOpts, reactive.WithLabel(p.label))
	}
	p.scope = reactive.NewScope(scopeOpts...)
	if p.label == "" {
		p.label = p.scope.Label()
	}
	p.logger = p.scope.Logger()

	tpl := cfg.Template
	if tpl == nil {
		tpl = SumU32
	}
	s := p.scope
	p.source = reactive.NewInput(s, "source", cfg.Source, func(a, b Buffer) bool { return a == b })
	p.template = reactive.NewInput(s, "template", tpl, func(a, b Template) bool { return a == b })
	p.blockLength = reactive.NewInput(s, "blockLength", cfg.BlockLength, func(a, b int) bool { return a == b })
	p.exclusive = reactive.NewInput(s, "exclusive", cfg.Exclusive, func(a, b bool) bool { return a == b })
	p.initial = reactive.NewInput(s, "initialValue", cloneBytes(cfg.InitialValue), sameSeed)

	p.derive()
	return p, nil
}

func (p *PrefixScan) derive() {
	s := p.scope
	intEq := func(a, b int) bool { return a == b }
	boolEq := func(a, b bool) bool { return a == b }

	p.workgroupLength = reactive.Derive(s, "workgroupLength", []reactive.Node{p.blockLength},
		func(*reactive.ResolveCtx) (int, error) {
			return actualWorkgroupLength(p.blockLength.Get(), p.dev.MaxWorkgroupLength())
		}, reactive.WithCutoff(intEq))

	p.sourceLength = reactive.Derive(s, "sourceLength", []reactive.Node{p.source, p.template},
		func(*reactive.ResolveCtx) (int, error) {
			tpl := p.template.Get()
			if tpl == nil {
				return 0, Errorf(ErrConfig, "%s: no template", p.label)
			}
			src := p.source.Get()
			if src == nil {
				return 0, Errorf(ErrConfig, "%s: no source", p.label)
			}
			return elementCount(src, tpl)
		}, reactive.WithCutoff(intEq))

	p.fits = reactive.Derive(s, "fitsInOneBlock", []reactive.Node{p.sourceLength, p.workgroupLength},
		func(*reactive.ResolveCtx) (bool, error) {
			n, err := p.sourceLength.Get()
			if err != nil {
				return false, err
			}
			l, err := p.workgroupLength.Get()
			return n <= l, err
		}, reactive.WithCutoff(boolEq))

	p.levels = reactive.Derive(s, "levels", []reactive.Node{p.sourceLength, p.workgroupLength},
		func(*reactive.ResolveCtx) ([]int, error) {
			n, err := p.sourceLength.Get()
			if err != nil {
				return nil, err
			}
			l, err := p.workgroupLength.Get()
			if err != nil {
				return nil, err
			}
			return PlanLevels(n, l)
		}, reactive.WithCutoff(intsEqual))

	p.lower = reactive.Derive(s, "blockSumChain",
		[]reactive.Node{p.source, p.template, p.workgroupLength, p.levels},
		p.buildLower)

	p.topConfig = reactive.Derive(s, "topConfig", []reactive.Node{p.levels, p.exclusive, p.initial},
		func(*reactive.ResolveCtx) (topSpec, error) {
			levels, err := p.levels.Get()
			if err != nil {
				return topSpec{}, err
			}
			seed := p.initial.Get()
			spec := topSpec{seeded: seed != nil, seed: string(seed)}
			if len(levels) <= 1 {
				spec.exclusive = p.exclusive.Get()
			} else {
				// the top of a chain yields exclusive-by-block prefixes
				spec.exclusive = true
			}
			return spec, nil
		}, reactive.WithCutoff(func(a, b topSpec) bool { return a == b }))

	p.top = reactive.Derive(s, "topScan",
		[]reactive.Node{p.source, p.template, p.workgroupLength, p.levels, p.lower, p.topConfig},
		p.buildTop)

	p.finalExclusive = reactive.Derive(s, "finalExclusive", []reactive.Node{p.exclusive},
		func(*reactive.ResolveCtx) (bool, error) {
			return p.exclusive.Get(), nil
		}, reactive.WithCutoff(boolEq))

	p.applies = reactive.Derive(s, "applyChain",
		[]reactive.Node{p.template, p.workgroupLength, p.lower, p.top, p.finalExclusive},
		p.buildApplies)

	p.graph = reactive.Derive(s, "stageGraph", []reactive.Node{p.lower, p.top, p.applies},
		func(*reactive.ResolveCtx) (*StageGraph, error) {
			lower, err := p.lower.Get()
			if err != nil {
				return nil, err
			}
			top, err := p.top.Get()
			if err != nil {
				return nil, err
			}
			applies, err := p.applies.Get()
			if err != nil {
				return nil, err
			}
			g := &StageGraph{ApplyScans: applies}
			if top == nil {
				return g, nil
			}
			g.BlockScans = append(append([]*BlockScanStage(nil), lower...), top)
			g.SourceScan = g.BlockScans[0]
			if len(applies) > 0 {
				g.Result = applies[len(applies)-1].Result
			} else {
				g.Result = top.PrefixScan
			}
			return g, nil
		})

	p.result = reactive.Derive(s, "result", []reactive.Node{p.graph},
		func(*reactive.ResolveCtx) (Buffer, error) {
			g, err := p.graph.Get()
			if err != nil {
				return nil, err
			}
			return g.Result, nil
		})
}

func (p *PrefixScan) buildLower(ctx *reactive.ResolveCtx) ([]*BlockScanStage, error) {
	levels, err := p.levels.Get()
	if err != nil {
		return nil, err
	}
	l, err := p.workgroupLength.Get()
	if err != nil {
		return nil, err
	}
	if len(levels) <= 1 {
		return nil, nil
	}
	tpl := p.template.Get()
	src := p.source.Get()

	stages := make([]*BlockScanStage, 0, len(levels)-1)
	for level := 0; level < len(levels)-1; level++ {
		stage, err := NewBlockScanStage(p.dev, p.cache, BlockScanConfig{
			Label:          fmt.Sprintf("%s_L%d_BlockScan", p.label, level),
			Level:          level,
			Template:       tpl,
			Source:         src,
			BlockLength:    l,
			EmitsSummaries: true,
		})
		if err != nil {
			return nil, err
		}
		ctx.OnCleanup(func() error {
			stage.Destroy()
			return nil
		})
		stages = append(stages, stage)
		src = stage.BlockSums
	}
	return stages, nil
}

func (p *PrefixScan) buildTop(ctx *reactive.ResolveCtx) (*BlockScanStage, error) {
	levels, err := p.levels.Get()
	if err != nil {
		return nil, err
	}
	if len(levels) == 0 {
		return nil, nil
	}
	l, err := p.workgroupLength.Get()
	if err != nil {
		return nil, err
	}
	lower, err := p.lower.Get()
	if err != nil {
		return nil, err
	}
	spec, err := p.topConfig.Get()
	if err != nil {
		return nil, err
	}

	src := p.source.Get()
	if len(lower) > 0 {
		src = lower[len(lower)-1].BlockSums
	}
	var seed []byte
	if spec.seeded {
		seed = []byte(spec.seed)
	}
	level := len(levels) - 1
	stage, err := NewBlockScanStage(p.dev, p.cache, BlockScanConfig{
		Label:       fmt.Sprintf("%s_L%d_BlockScan", p.label, level),
		Level:       level,
		Template:    p.template.Get(),
		Source:      src,
		BlockLength: l,
		Exclusive:   spec.exclusive,
		Seed:        seed,
	})
	if err != nil {
		return nil, err
	}
	ctx.OnCleanup(func() error {
		stage.Destroy()
		return nil
	})
	return stage, nil
}

func (p *PrefixScan) buildApplies(ctx *reactive.ResolveCtx) ([]*ApplyBlockStage, error) {
	lower, err := p.lower.Get()
	if err != nil {
		return nil, err
	}
	top, err := p.top.Get()
	if err != nil || top == nil || len(lower) == 0 {
		return nil, err
	}
	l, err := p.workgroupLength.Get()
	if err != nil {
		return nil, err
	}
	finalExclusive, err := p.finalExclusive.Get()
	if err != nil {
		return nil, err
	}

	// Each apply turns the resolved prefixes of level k+1 into those of level
	// k. Above level 0 the output is exclusive so that entry j is the prefix of
	// everything before block j of the next finer level.
	prefixes := top.PrefixScan
	stages := make([]*ApplyBlockStage, 0, len(lower))
	for level := len(lower) - 1; level >= 0; level-- {
		exclusive := true
		if level == 0 {
			exclusive = finalExclusive
		}
		stage, err := NewApplyBlockStage(p.dev, p.cache, ApplyBlockConfig{
			Label:       fmt.Sprintf("%s_L%d_ApplyBlock", p.label, level),
			Level:       level,
			Template:    p.template.Get(),
			PartialScan: lower[level].PrefixScan,
			BlockSums:   prefixes,
			BlockLength: l,
			Exclusive:   exclusive,
		})
		if err != nil {
			return nil, err
		}
		ctx.OnCleanup(func() error {
			stage.Destroy()
			return nil
		})
		stages = append(stages, stage)
		prefixes = stage.Result
	}
	return stages, nil
}

// Label returns the label prefix of every stage.
func (p *PrefixScan) Label() string { return p.label }

// Template returns the current template.
func (p *PrefixScan) Template() Template { return p.template.Get() }

// SetSource replaces the source sequence.
func (p *PrefixScan) SetSource(src Buffer) { p.source.Set(src) }

// SetTemplate replaces the template; nil restores SumU32.
func (p *PrefixScan) SetTemplate(t Template) {
	if t == nil {
		t = SumU32
	}
	p.template.Set(t)
}

// SetBlockLength sets the requested block length; 0 selects the device
// maximum.
func (p *PrefixScan) SetBlockLength(n int) { p.blockLength.Set(n) }

// SetExclusive selects exclusive or inclusive output.
func (p *PrefixScan) SetExclusive(exclusive bool) { p.exclusive.Set(exclusive) }

// SetInitialValue sets the seed combined in front of every output; nil
// removes it.
func (p *PrefixScan) SetInitialValue(v []byte) { p.initial.Set(cloneBytes(v)) }

// WorkgroupLength is min(requested block length, device maximum).
func (p *PrefixScan) WorkgroupLength() (int, error) { return p.workgroupLength.Get() }

// SourceLength is the number of source elements.
func (p *PrefixScan) SourceLength() (int, error) { return p.sourceLength.Get() }

// FitsInOneBlock reports whether a single Block Scan Stage suffices.
func (p *PrefixScan) FitsInOneBlock() (bool, error) { return p.fits.Get() }

// Levels returns the element count of every Block Scan level.
func (p *PrefixScan) Levels() ([]int, error) { return p.levels.Get() }

// Graph returns the current stage graph, building whatever is stale.
func (p *PrefixScan) Graph() (*StageGraph, error) { return p.graph.Get() }

// Result returns the terminal result buffer; nil for an empty source.
func (p *PrefixScan) Result() (Buffer, error) { return p.result.Get() }

// Scan submits the whole graph, waits for the device, and reads the result
// back to the host.
func (p *PrefixScan) Scan(ctx context.Context) ([]byte, error) {
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	if g.Empty() {
		return []byte{}, nil
	}

	batch := g.Dispatches()
	p.logger.V(1).Info("submitting scan", "levels", g.Levels(), "dispatches", len(batch))
	if err := p.dev.Submit(ctx, batch); err != nil {
		return nil, deviceError(err, "submit %s", p.label)
	}
	if fe, ok := p.template.Get().(interface{ Err() error }); ok {
		if err := fe.Err(); err != nil {
			return nil, Wrapf(ErrConfig, err, "template %s", p.template.Get().Name())
		}
	}
	out, err := p.dev.ReadBuffer(ctx, g.Result)
	if err != nil {
		return nil, deviceError(err, "read back %s", g.Result.Label())
	}
	return out, nil
}

// Destroy releases every stage and buffer owned by the scan, and the kernel
// cache when the scan created it.
func (p *PrefixScan) Destroy() error {
	err := p.scope.Dispose()
	if purger, ok := p.cache.(interface{ Purge() }); ok && p.ownsCache {
		purger.Purge()
	}
	return err
}

// ScanValues runs p and decodes the result with the template's codec.
func ScanValues[T any](ctx context.Context, p *PrefixScan) ([]T, error) {
	raw, err := p.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return Decode[T](p.Template(), raw)
}

func actualWorkgroupLength(requested, max int) (int, error) {
	if max <= 0 {
		return 0, Errorf(ErrDevice, "device reports max workgroup length %d", max)
	}
	if requested < 0 {
		return 0, Errorf(ErrConfig, "block length %d", requested)
	}
	if requested == 0 || requested > max {
		return max, nil
	}
	return requested, nil
}

func deviceError(err error, format string, args ...any) error {
	if errors.Is(err, ErrDevice) || errors.Is(err, ErrConfig) {
		return err
	}
	return Wrapf(ErrDevice, err, format, args...)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func sameSeed(a, b []byte) bool {
	return (a == nil) == (b == nil) && bytes.Equal(a, b)
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
