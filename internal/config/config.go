// Package config defines the flag plumbing and runtime options shared by the
// prefixscan commands, translating Cobra/Viper flag values into a typed struct
// and from there into scan templates and encoded inputs.
package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openfluke/prefixscan/scan"
)

// Options holds all CLI configuration used by the scan commands.
type Options struct {
	Template     string
	Expr         string
	Identity     uint32
	BlockLength  int
	Exclusive    bool
	Initial      string
	Device       string
	WorkgroupMax int
	Output       string
	Label        string
	Input        string
}

var templateNames = map[string]string{
	"sum":  "sum-u32",
	"max":  "max-u32",
	"min":  "min-u32",
	"sumf": "sum-f32",
	"maxf": "max-f32",
	"minf": "min-f32",
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		Template: "sum",
		Device:   "cpu",
		Output:   "text",
	}
}

// AddFlags binds configuration flags to the provided Cobra command.
func (o *Options) AddFlags(cmd *cobra.Command) {
	o.BindFlags(cmd.Flags())
}

// BindFlags attaches scan flags to an arbitrary FlagSet and returns the flag
// names.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVarP(&o.Template, "template", "t", o.Template, "Combine operation: sum, max, min, sumf, maxf, minf or expr")
	names = append(names, "template")
	fs.StringVar(&o.Expr, "expr", o.Expr, "Combine expression over a and b for --template=expr, e.g. 'a > b ? a : b'")
	names = append(names, "expr")
	fs.Uint32Var(&o.Identity, "identity", o.Identity, "Identity element for --template=expr")
	names = append(names, "identity")
	fs.IntVarP(&o.BlockLength, "block-length", "L", o.BlockLength, "Elements combined per workgroup (0 selects the device maximum)")
	names = append(names, "block-length")
	fs.BoolVarP(&o.Exclusive, "exclusive", "e", o.Exclusive, "Exclude each element from its own output")
	names = append(names, "exclusive")
	fs.StringVar(&o.Initial, "initial", o.Initial, "Value combined in front of every output")
	names = append(names, "initial")
	fs.StringVar(&o.Device, "device", o.Device, "Backend to run on: cpu or gpu")
	names = append(names, "device")
	fs.IntVar(&o.WorkgroupMax, "workgroup-max", o.WorkgroupMax, "Cap on the device workgroup length (0 keeps the device limit)")
	names = append(names, "workgroup-max")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output format: text, json or yaml")
	names = append(names, "output")
	fs.StringVar(&o.Label, "label", o.Label, "Label prefix for stages and buffers")
	names = append(names, "label")
	fs.StringVarP(&o.Input, "input", "i", o.Input, "Read whitespace separated values from a file ('-' for stdin)")
	names = append(names, "input")
	return names
}

// Validate normalizes and checks the options.
func (o *Options) Validate() error {
	o.Template = strings.ToLower(strings.TrimSpace(o.Template))
	if o.Template == "" {
		o.Template = "sum"
	}
	if o.Template == "expr" {
		if strings.TrimSpace(o.Expr) == "" {
			return errors.New("--template=expr requires --expr")
		}
	} else if _, ok := templateNames[o.Template]; !ok {
		return errors.Errorf("unknown template %q (expected sum, max, min, sumf, maxf, minf or expr)", o.Template)
	}
	if o.BlockLength < 0 {
		return errors.Errorf("--block-length must be >= 0, got %d", o.BlockLength)
	}
	if o.WorkgroupMax < 0 {
		return errors.Errorf("--workgroup-max must be >= 0, got %d", o.WorkgroupMax)
	}
	o.Device = strings.ToLower(o.Device)
	switch o.Device {
	case "cpu", "gpu":
	default:
		return errors.Errorf("unknown device %q (expected cpu or gpu)", o.Device)
	}
	o.Output = strings.ToLower(o.Output)
	switch o.Output {
	case "text", "json", "yaml":
	default:
		return errors.Errorf("unknown output %q (expected text, json or yaml)", o.Output)
	}
	if o.Initial != "" {
		if _, err := o.parse(o.Initial); err != nil {
			return errors.Wrap(err, "--initial")
		}
	}
	return nil
}

// Float reports whether the template works on f32 elements.
func (o *Options) Float() bool {
	return strings.HasSuffix(o.Template, "f")
}

// ScanTemplate builds the template the options select.
func (o *Options) ScanTemplate() (scan.Template, error) {
	if o.Template == "expr" {
		return scan.NewExprTemplate("", o.Expr, o.Identity)
	}
	name, ok := templateNames[o.Template]
	if !ok {
		return nil, errors.Errorf("unknown template %q", o.Template)
	}
	tpl, _ := scan.Builtin(name)
	return tpl, nil
}

func (o *Options) parse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if o.Float() {
		v, err := strconv.ParseFloat(s, 32)
		return v, errors.Wrapf(err, "parse %q", s)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	return float64(v), errors.Wrapf(err, "parse %q", s)
}

// Encode parses values in the template's element type and packs them.
func (o *Options) Encode(tpl scan.Template, values []string) ([]byte, error) {
	if o.Float() {
		out := make([]float32, 0, len(values))
		for _, s := range values {
			v, err := o.parse(s)
			if err != nil {
				return nil, err
			}
			out = append(out, float32(v))
		}
		return scan.Encode(tpl, out)
	}
	out := make([]uint32, 0, len(values))
	for _, s := range values {
		v, err := o.parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(v))
	}
	return scan.Encode(tpl, out)
}

// InitialValue returns the encoded --initial value, or nil when unset.
func (o *Options) InitialValue(tpl scan.Template) ([]byte, error) {
	if o.Initial == "" {
		return nil, nil
	}
	return o.Encode(tpl, []string{o.Initial})
}

// Decode unpacks a result into printable host values.
func (o *Options) Decode(tpl scan.Template, raw []byte) ([]any, error) {
	out := []any{}
	if o.Float() {
		vals, err := scan.Decode[float32](tpl, raw)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			out = append(out, v)
		}
		return out, nil
	}
	vals, err := scan.Decode[uint32](tpl, raw)
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		out = append(out, v)
	}
	return out, nil
}
