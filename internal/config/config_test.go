package config

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/openfluke/prefixscan/scan"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	if opts.Template != "sum" || opts.Device != "cpu" || opts.Output != "text" {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestBindFlags(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	names := opts.BindFlags(fs)
	if len(names) != 11 {
		t.Fatalf("expected 11 flags, got %d", len(names))
	}
	if err := fs.Parse([]string{"-t", "maxf", "-L", "64", "--exclusive", "--initial", "1.5", "-o", "yaml"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if opts.Template != "maxf" || opts.BlockLength != 64 || !opts.Exclusive || opts.Output != "yaml" {
		t.Fatalf("flags not applied: %+v", opts)
	}
	if !opts.Float() {
		t.Fatalf("expected maxf to be a float template")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Options)
	}{
		{"unknown template", func(o *Options) { o.Template = "product" }},
		{"expr without expression", func(o *Options) { o.Template = "expr" }},
		{"negative block length", func(o *Options) { o.BlockLength = -1 }},
		{"negative workgroup max", func(o *Options) { o.WorkgroupMax = -4 }},
		{"unknown device", func(o *Options) { o.Device = "tpu" }},
		{"unknown output", func(o *Options) { o.Output = "xml" }},
		{"bad initial", func(o *Options) { o.Initial = "-3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.mut(opts)
			if err := opts.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	opts := NewOptions()
	opts.Template = "  MAX "
	opts.Device = "GPU"
	opts.Output = "JSON"
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if opts.Template != "max" || opts.Device != "gpu" || opts.Output != "json" {
		t.Fatalf("expected lower-cased options, got %+v", opts)
	}
}

func TestScanTemplate(t *testing.T) {
	opts := NewOptions()
	opts.Template = "min"
	tpl, err := opts.ScanTemplate()
	if err != nil || tpl != scan.MinU32 {
		t.Fatalf("expected min-u32, got %v (%v)", tpl, err)
	}

	opts.Template = "expr"
	opts.Expr = "a + b"
	tpl, err = opts.ScanTemplate()
	if err != nil {
		t.Fatalf("expr template: %v", err)
	}
	if tpl.Name() != "expr(a + b)" {
		t.Fatalf("unexpected name %q", tpl.Name())
	}
}

func TestEncodeDecode(t *testing.T) {
	opts := NewOptions()
	tpl, _ := opts.ScanTemplate()
	raw, err := opts.Encode(tpl, []string{"1", " 2", "40"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	vals, err := opts.Decode(tpl, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(vals) != 3 || vals[2] != uint32(40) {
		t.Fatalf("unexpected values %v", vals)
	}
	if _, err := opts.Encode(tpl, []string{"x"}); err == nil {
		t.Fatalf("expected a parse error")
	}

	opts.Initial = "7"
	seed, err := opts.InitialValue(tpl)
	if err != nil || len(seed) != 4 || seed[0] != 7 {
		t.Fatalf("unexpected initial value %v (%v)", seed, err)
	}

	opts.Template = "sumf"
	ftpl, _ := opts.ScanTemplate()
	raw, _ = opts.Encode(ftpl, []string{"0.5"})
	fvals, _ := opts.Decode(ftpl, raw)
	if fvals[0] != float32(0.5) {
		t.Fatalf("expected 0.5, got %v", fvals[0])
	}
}
