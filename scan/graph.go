package scan

// maxLevels bounds the summary chain. With a block length of at least 2 a
// 64-level chain already covers every int-sized input.
const maxLevels = 64

// PlanLevels returns the element count of every Block Scan level for a source
// of n elements scanned in blocks of blockLength: level 0 is the source and
// each following level holds one summary per block of the level below. The
// last level is the first one that fits in a single block.
func PlanLevels(n, blockLength int) ([]int, error) {
	if blockLength <= 0 {
		return nil, Errorf(ErrConfig, "block length %d", blockLength)
	}
	if n < 0 {
		return nil, Errorf(ErrConfig, "negative length %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	if n > blockLength && blockLength < 2 {
		return nil, Errorf(ErrCapacity, "block length %d never shrinks %d elements", blockLength, n)
	}
	levels := []int{n}
	for n > blockLength {
		n = ceilDiv(n, blockLength)
		levels = append(levels, n)
		if len(levels) > maxLevels {
			return nil, Errorf(ErrCapacity, "more than %d levels for block length %d", maxLevels, blockLength)
		}
	}
	return levels, nil
}

// StageGraph is one derived instance of the scan topology.
type StageGraph struct {
	// SourceScan is BlockScans[0].
	SourceScan *BlockScanStage
	// BlockScans runs bottom (source) to top (fits in one block).
	BlockScans []*BlockScanStage
	// ApplyScans runs top-1 down to level 0.
	ApplyScans []*ApplyBlockStage
	// Result is the terminal output; nil for an empty source.
	Result Buffer
}

// Levels is the number of Block Scan levels.
func (g *StageGraph) Levels() int {
	return len(g.BlockScans)
}

// Empty reports whether the graph has no stages (empty source).
func (g *StageGraph) Empty() bool {
	return len(g.BlockScans) == 0
}

// Dispatches returns the batch in dependency order: every block scan bottom to
// top, then every apply top to bottom.
func (g *StageGraph) Dispatches() []Dispatch {
	out := make([]Dispatch, 0, len(g.BlockScans)+len(g.ApplyScans))
	for _, s := range g.BlockScans {
		out = append(out, s.Dispatch())
	}
	for _, s := range g.ApplyScans {
		out = append(out, s.Dispatch())
	}
	return out
}

// StageInfo is a serializable view of one stage.
type StageInfo struct {
	Label          string `json:"label" yaml:"label"`
	Kind           string `json:"kind" yaml:"kind"`
	Level          int    `json:"level" yaml:"level"`
	Elements       int    `json:"elements" yaml:"elements"`
	BlockLength    int    `json:"block_length" yaml:"block_length"`
	Workgroups     int    `json:"workgroups" yaml:"workgroups"`
	Exclusive      bool   `json:"exclusive" yaml:"exclusive"`
	EmitsSummaries bool   `json:"emits_summaries,omitempty" yaml:"emits_summaries,omitempty"`
	Seeded         bool   `json:"seeded,omitempty" yaml:"seeded,omitempty"`
}

// GraphInfo is a serializable view of a stage graph.
type GraphInfo struct {
	Levels int         `json:"levels" yaml:"levels"`
	Stages []StageInfo `json:"stages" yaml:"stages"`
	Result string      `json:"result,omitempty" yaml:"result,omitempty"`
}

// Describe returns the graph in dispatch order.
func (g *StageGraph) Describe() GraphInfo {
	info := GraphInfo{Levels: g.Levels()}
	for _, s := range g.BlockScans {
		info.Stages = append(info.Stages, StageInfo{
			Label:          s.Spec.Label,
			Kind:           KindBlockScan.String(),
			Level:          s.Spec.Level,
			Elements:       s.SourceLength,
			BlockLength:    s.Spec.BlockLength,
			Workgroups:     s.Workgroups(),
			Exclusive:      s.Spec.Exclusive,
			EmitsSummaries: s.Spec.EmitsSummaries,
			Seeded:         s.Spec.Seed != nil,
		})
	}
	for _, s := range g.ApplyScans {
		info.Stages = append(info.Stages, StageInfo{
			Label:       s.Spec.Label,
			Kind:        KindApplyBlock.String(),
			Level:       s.Spec.Level,
			Elements:    s.Length,
			BlockLength: s.Spec.BlockLength,
			Workgroups:  s.Workgroups(),
			Exclusive:   s.Spec.Exclusive,
		})
	}
	if g.Result != nil {
		info.Result = g.Result.Label()
	}
	return info
}
