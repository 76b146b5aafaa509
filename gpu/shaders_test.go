package gpu

import (
	"errors"
	"strings"
	"testing"

	"github.com/openfluke/prefixscan/scan"
)

func TestBlockScanShader(t *testing.T) {
	code, err := BlockScanShader(scan.KernelSpec{
		Kind:           scan.KindBlockScan,
		Template:       scan.MaxF32,
		BlockLength:    100,
		EmitsSummaries: true,
	})
	if err != nil {
		t.Fatalf("BlockScanShader: %v", err)
	}
	for _, want := range []string{
		"var<storage, read> src: array<f32>",
		"@binding(2) var<storage, read_write> blockSums: array<f32>",
		"const BLOCK: u32 = 100u;",
		"const PADDED: u32 = 128u;",
		"var<workgroup> work: array<f32, 128>;",
		"var<private> IDENTITY_BITS: u32 = 4286578688u;",
		"return max(a, b);",
		"var r = binaryOp(work[l], v);",
		"blockSums[wid.x] = blockTotal;",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("Expected shader to contain %q\n%s", want, code)
		}
	}
	if strings.Contains(code, "SEED_BITS") {
		t.Errorf("Expected an unseeded shader")
	}
}

func TestBlockScanShaderExclusiveSeeded(t *testing.T) {
	seed, _ := scan.EncodeValue(scan.SumU32, uint32(100))
	code, err := BlockScanShader(scan.KernelSpec{
		Kind:        scan.KindBlockScan,
		Template:    scan.SumU32,
		BlockLength: 256,
		Exclusive:   true,
		Seed:        seed,
	})
	if err != nil {
		t.Fatalf("BlockScanShader: %v", err)
	}
	for _, want := range []string{
		"const PADDED: u32 = 256u;",
		"var<private> SEED_BITS: u32 = 100u;",
		"var r = work[l];",
		"r = binaryOp(bitcast<u32>(SEED_BITS), r);",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("Expected shader to contain %q\n%s", want, code)
		}
	}
	if strings.Contains(code, "blockSums") {
		t.Errorf("Expected no summary binding")
	}
}

func TestApplyBlockShader(t *testing.T) {
	inclusive, err := ApplyBlockShader(scan.KernelSpec{Kind: scan.KindApplyBlock, Template: scan.SumU32, BlockLength: 64})
	if err != nil {
		t.Fatalf("ApplyBlockShader: %v", err)
	}
	if !strings.Contains(inclusive, "result[i] = binaryOp(p, partial[i]);") {
		t.Errorf("Expected inclusive combine\n%s", inclusive)
	}
	exclusive, _ := ApplyBlockShader(scan.KernelSpec{Kind: scan.KindApplyBlock, Template: scan.SumU32, BlockLength: 64, Exclusive: true})
	if !strings.Contains(exclusive, "binaryOp(p, partial[i - 1u])") {
		t.Errorf("Expected exclusive combine\n%s", exclusive)
	}
}

func TestShaderRejectsHostTemplates(t *testing.T) {
	tpl, err := scan.NewExprTemplate("", "a + b", 0)
	if err != nil {
		t.Fatalf("NewExprTemplate: %v", err)
	}
	if _, err := Shader(scan.KernelSpec{Kind: scan.KindBlockScan, Template: tpl, BlockLength: 4}); !errors.Is(err, scan.ErrConfig) {
		t.Errorf("Expected ErrConfig, got %v", err)
	}
	if _, err := Shader(scan.KernelSpec{Kind: scan.KernelKind(9), Template: scan.SumU32, BlockLength: 4}); !errors.Is(err, scan.ErrConfig) {
		t.Errorf("Expected ErrConfig for an unknown kind, got %v", err)
	}
}

func TestNextPow2(t *testing.T) {
	for _, tt := range []struct{ n, expected int }{{1, 1}, {2, 2}, {3, 4}, {255, 256}, {256, 256}, {257, 512}} {
		if got := nextPow2(tt.n); got != tt.expected {
			t.Errorf("nextPow2(%d): Expected %d, got %d", tt.n, tt.expected, got)
		}
	}
}
