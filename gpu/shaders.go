package gpu

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/openfluke/prefixscan/scan"
)

// Identity and seed constants are emitted as bit patterns in private
// variables and bitcast at run time: a constant-expression bitcast to an
// infinite f32 is a shader-creation error.

// shaderTemplate checks that t can be expressed in WGSL.
func shaderTemplate(t scan.Template) (scan.ShaderTemplate, error) {
	st, ok := t.(scan.ShaderTemplate)
	if !ok {
		return nil, scan.Errorf(scan.ErrConfig, "template %s has no WGSL form", t.Name())
	}
	if st.ElementSize() != 4 {
		return nil, scan.Errorf(scan.ErrConfig, "template %s: %d-byte elements, WGSL kernels need 4", t.Name(), st.ElementSize())
	}
	return st, nil
}

func bits(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func writeCommon(sb *strings.Builder, tpl scan.ShaderTemplate) {
	t := tpl.WGSLType()
	fmt.Fprintf(sb, "var<private> IDENTITY_BITS: u32 = %du;\n\n", bits(tpl.Identity()))
	fmt.Fprintf(sb, "fn binaryOp(a: %s, b: %s) -> %s {\n\t%s\n}\n\n", t, t, t, tpl.WGSLCombine())
	fmt.Fprintf(sb, "fn identity() -> %s {\n\treturn bitcast<%s>(IDENTITY_BITS);\n}\n\n", t, t)
}

// BlockScanShader generates a Blelloch work-efficient scan of one block per
// workgroup. Each of the L invocations loads one element into a shared array
// padded with identities to the next power of two.
func BlockScanShader(spec scan.KernelSpec) (string, error) {
	tpl, err := shaderTemplate(spec.Template)
	if err != nil {
		return "", err
	}
	t := tpl.WGSLType()
	padded := nextPow2(spec.BlockLength)

	var sb strings.Builder
	fmt.Fprintf(&sb, "// %s\n", spec.Key())
	fmt.Fprintf(&sb, "@group(0) @binding(0) var<storage, read> src: array<%s>;\n", t)
	fmt.Fprintf(&sb, "@group(0) @binding(1) var<storage, read_write> prefix: array<%s>;\n", t)
	if spec.EmitsSummaries {
		fmt.Fprintf(&sb, "@group(0) @binding(2) var<storage, read_write> blockSums: array<%s>;\n", t)
	}
	fmt.Fprintf(&sb, "\nconst BLOCK: u32 = %du;\nconst PADDED: u32 = %du;\n\n", spec.BlockLength, padded)
	fmt.Fprintf(&sb, "var<workgroup> work: array<%s, %d>;\nvar<workgroup> blockTotal: %s;\n", t, padded, t)
	if spec.Seed != nil {
		fmt.Fprintf(&sb, "var<private> SEED_BITS: u32 = %du;\n", bits(spec.Seed))
	}
	sb.WriteString("\n")
	writeCommon(&sb, tpl)

	sb.WriteString(`@compute @workgroup_size(BLOCK)
fn main(@builtin(workgroup_id) wid: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>) {
	let n = arrayLength(&src);
	let l = lid.x;
	let i = wid.x * BLOCK + l;

	var v = identity();
	if (i < n) {
		v = src[i];
	}
	work[l] = v;
	if (l + BLOCK < PADDED) {
		work[l + BLOCK] = identity();
	}
	workgroupBarrier();

	for (var s: u32 = 1u; s < PADDED; s = s << 1u) {
		let k = (l + 1u) * (s << 1u) - 1u;
		if (k < PADDED) {
			work[k] = binaryOp(work[k - s], work[k]);
		}
		workgroupBarrier();
	}

	if (l == 0u) {
		blockTotal = work[PADDED - 1u];
		work[PADDED - 1u] = identity();
	}
	workgroupBarrier();

	for (var s: u32 = PADDED >> 1u; s > 0u; s = s >> 1u) {
		let k = (l + 1u) * (s << 1u) - 1u;
		if (k < PADDED) {
			let t = work[k - s];
			work[k - s] = work[k];
			work[k] = binaryOp(work[k], t);
		}
		workgroupBarrier();
	}

	if (i < n) {
`)
	if spec.Exclusive {
		sb.WriteString("\t\tvar r = work[l];\n")
	} else {
		sb.WriteString("\t\tvar r = binaryOp(work[l], v);\n")
	}
	if spec.Seed != nil {
		fmt.Fprintf(&sb, "\t\tr = binaryOp(bitcast<%s>(SEED_BITS), r);\n", t)
	}
	sb.WriteString("\t\tprefix[i] = r;\n\t}\n")
	if spec.EmitsSummaries {
		sb.WriteString("\tif (l == 0u) {\n\t\tblockSums[wid.x] = blockTotal;\n\t}\n")
	}
	sb.WriteString("}\n")
	return sb.String(), nil
}

// ApplyBlockShader generates the kernel that folds block prefixes into a
// partial scan, one invocation per element.
func ApplyBlockShader(spec scan.KernelSpec) (string, error) {
	tpl, err := shaderTemplate(spec.Template)
	if err != nil {
		return "", err
	}
	t := tpl.WGSLType()

	var sb strings.Builder
	fmt.Fprintf(&sb, "// %s\n", spec.Key())
	fmt.Fprintf(&sb, "@group(0) @binding(0) var<storage, read> partial: array<%s>;\n", t)
	fmt.Fprintf(&sb, "@group(0) @binding(1) var<storage, read> blockSums: array<%s>;\n", t)
	fmt.Fprintf(&sb, "@group(0) @binding(2) var<storage, read_write> result: array<%s>;\n", t)
	fmt.Fprintf(&sb, "\nconst BLOCK: u32 = %du;\n\n", spec.BlockLength)
	writeCommon(&sb, tpl)

	sb.WriteString(`@compute @workgroup_size(BLOCK)
fn main(@builtin(workgroup_id) wid: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>) {
	let n = arrayLength(&partial);
	let i = wid.x * BLOCK + lid.x;
	if (i >= n) {
		return;
	}
	let p = blockSums[wid.x];
`)
	if spec.Exclusive {
		sb.WriteString(`	if (lid.x == 0u) {
		result[i] = p;
	} else {
		result[i] = binaryOp(p, partial[i - 1u]);
	}
`)
	} else {
		sb.WriteString("\tresult[i] = binaryOp(p, partial[i]);\n")
	}
	sb.WriteString("}\n")
	return sb.String(), nil
}

// Shader returns the WGSL for any kernel kind.
func Shader(spec scan.KernelSpec) (string, error) {
	switch spec.Kind {
	case scan.KindBlockScan:
		return BlockScanShader(spec)
	case scan.KindApplyBlock:
		return ApplyBlockShader(spec)
	default:
		return "", scan.Errorf(scan.ErrConfig, "unknown kernel kind %s", spec.Kind)
	}
}
