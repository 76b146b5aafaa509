package scan_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/openfluke/prefixscan/cpu"
	"github.com/openfluke/prefixscan/scan"
)

func TestPlanLevels(t *testing.T) {
	tests := []struct {
		n, l     int
		expected []int
	}{
		{0, 4, nil},
		{1, 4, []int{1}},
		{4, 4, []int{4}},
		{5, 4, []int{5, 2}},
		{8, 4, []int{8, 2}},
		{64, 4, []int{64, 16, 4}},
		{65, 4, []int{65, 17, 5, 2}},
		{1, 1, []int{1}},
		{1000, 2, []int{1000, 500, 250, 125, 63, 32, 16, 8, 4, 2}},
	}
	for _, tt := range tests {
		got, err := scan.PlanLevels(tt.n, tt.l)
		if err != nil {
			t.Errorf("PlanLevels(%d, %d): %v", tt.n, tt.l, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("PlanLevels(%d, %d): Expected %v, got %v", tt.n, tt.l, tt.expected, got)
		}
	}
}

func TestPlanLevelsTerminates(t *testing.T) {
	for l := 2; l <= 9; l++ {
		for n := 1; n <= 3000; n += 7 {
			levels, err := scan.PlanLevels(n, l)
			if err != nil {
				t.Fatalf("PlanLevels(%d, %d): %v", n, l, err)
			}
			for i := 1; i < len(levels); i++ {
				if levels[i] >= levels[i-1] {
					t.Fatalf("PlanLevels(%d, %d): level sizes do not shrink: %v", n, l, levels)
				}
			}
			if levels[len(levels)-1] > l {
				t.Errorf("PlanLevels(%d, %d): top level %d exceeds block length", n, l, levels[len(levels)-1])
			}
		}
	}
}

func TestPlanLevelsErrors(t *testing.T) {
	if _, err := scan.PlanLevels(5, 1); !errors.Is(err, scan.ErrCapacity) {
		t.Errorf("Expected ErrCapacity for block length 1, got %v", err)
	}
	if _, err := scan.PlanLevels(5, 0); !errors.Is(err, scan.ErrConfig) {
		t.Errorf("Expected ErrConfig for block length 0, got %v", err)
	}
	if _, err := scan.PlanLevels(-1, 4); !errors.Is(err, scan.ErrConfig) {
		t.Errorf("Expected ErrConfig for a negative length, got %v", err)
	}
}

func runStage(t *testing.T, dev *cpu.Device, d scan.Dispatch) {
	t.Helper()
	if err := dev.Submit(context.Background(), []scan.Dispatch{d}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestBlockScanStage_PartialTail(t *testing.T) {
	dev := cpu.New()
	src := upload(t, dev, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	stage, err := scan.NewBlockScanStage(dev, nil, scan.BlockScanConfig{
		Label:          "tail",
		Template:       scan.SumU32,
		Source:         src,
		BlockLength:    4,
		EmitsSummaries: true,
	})
	if err != nil {
		t.Fatalf("NewBlockScanStage: %v", err)
	}
	defer stage.Destroy()

	if stage.Workgroups() != 3 {
		t.Errorf("Expected 3 workgroups, got %d", stage.Workgroups())
	}
	runStage(t, dev, stage.Dispatch())

	expected := []uint32{1, 3, 6, 10, 5, 11, 18, 26, 9, 19}
	if got := readU32(t, dev, stage.PrefixScan); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
	if got := readU32(t, dev, stage.BlockSums); !reflect.DeepEqual(got, []uint32{10, 26, 19}) {
		t.Errorf("Expected block sums [10 26 19], got %v", got)
	}
}

func TestBlockScanStage_ExclusiveSummariesStayInclusive(t *testing.T) {
	dev := cpu.New()
	src := upload(t, dev, []uint32{1, 2, 3, 4, 5, 6})
	seed, _ := scan.EncodeValue(scan.SumU32, uint32(100))
	stage, err := scan.NewBlockScanStage(dev, nil, scan.BlockScanConfig{
		Label:          "excl",
		Template:       scan.SumU32,
		Source:         src,
		BlockLength:    3,
		EmitsSummaries: true,
		Exclusive:      true,
		Seed:           seed,
	})
	if err != nil {
		t.Fatalf("NewBlockScanStage: %v", err)
	}
	defer stage.Destroy()
	runStage(t, dev, stage.Dispatch())

	expected := []uint32{100, 101, 103, 100, 104, 109}
	if got := readU32(t, dev, stage.PrefixScan); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
	if got := readU32(t, dev, stage.BlockSums); !reflect.DeepEqual(got, []uint32{6, 15}) {
		t.Errorf("Expected unseeded inclusive sums [6 15], got %v", got)
	}
}

func TestBlockScanStage_ConfigErrors(t *testing.T) {
	dev := cpu.New()
	good := upload(t, dev, []uint32{1, 2, 3})
	empty, _ := dev.CreateBufferInit("empty", nil)

	tests := []struct {
		name string
		cfg  scan.BlockScanConfig
	}{
		{"no template", scan.BlockScanConfig{Source: good, BlockLength: 4}},
		{"zero block length", scan.BlockScanConfig{Template: scan.SumU32, Source: good}},
		{"no source", scan.BlockScanConfig{Template: scan.SumU32, BlockLength: 4}},
		{"empty source", scan.BlockScanConfig{Template: scan.SumU32, Source: empty, BlockLength: 4}},
		{"bad seed", scan.BlockScanConfig{Template: scan.SumU32, Source: good, BlockLength: 4, Seed: []byte{1, 2}}},
		{"over device max", scan.BlockScanConfig{Template: scan.SumU32, Source: good, BlockLength: 1024}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live := dev.LiveBuffers()
			if _, err := scan.NewBlockScanStage(dev, nil, tt.cfg); !errors.Is(err, scan.ErrConfig) {
				t.Errorf("Expected ErrConfig, got %v", err)
			}
			if dev.LiveBuffers() != live {
				t.Errorf("Expected a failed stage to free its buffers, got %d live, want %d", dev.LiveBuffers(), live)
			}
		})
	}
}

func TestApplyBlockStage(t *testing.T) {
	partialVals := []uint32{1, 3, 6, 10, 5, 11, 18, 26, 9, 19}
	tests := []struct {
		name      string
		exclusive bool
		expected  []uint32
	}{
		{"inclusive", false, []uint32{1, 3, 6, 10, 15, 21, 28, 36, 45, 55}},
		{"exclusive", true, []uint32{0, 1, 3, 6, 10, 15, 21, 28, 36, 45}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := cpu.New()
			partial := upload(t, dev, partialVals)
			sums := upload(t, dev, []uint32{0, 10, 36})
			stage, err := scan.NewApplyBlockStage(dev, nil, scan.ApplyBlockConfig{
				Label:       "apply",
				Template:    scan.SumU32,
				PartialScan: partial,
				BlockSums:   sums,
				BlockLength: 4,
				Exclusive:   tt.exclusive,
			})
			if err != nil {
				t.Fatalf("NewApplyBlockStage: %v", err)
			}
			defer stage.Destroy()
			runStage(t, dev, stage.Dispatch())
			if got := readU32(t, dev, stage.Result); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestApplyBlockStage_TooFewSums(t *testing.T) {
	dev := cpu.New()
	partial := upload(t, dev, seq(10))
	sums := upload(t, dev, []uint32{0, 1})
	_, err := scan.NewApplyBlockStage(dev, nil, scan.ApplyBlockConfig{
		Template:    scan.SumU32,
		PartialScan: partial,
		BlockSums:   sums,
		BlockLength: 4,
	})
	if !errors.Is(err, scan.ErrConfig) {
		t.Errorf("Expected ErrConfig, got %v", err)
	}
}
