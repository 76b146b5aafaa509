package pods

import (
	"errors"

	"github.com/openfluke/prefixscan/scan"
)

type ReduceIn struct {
	In   []float32
	Kind string // "sum"|"min"|"max"
}
type ReduceOut struct {
	Value float32
}

type ReducePod struct{}

func (ReducePod) Name() string { return "primitives/reduce" }

// Run reduces through an inclusive scan: the last prefix is the total.
func (ReducePod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(ReduceIn)
	if !ok {
		return nil, errors.New("ReduceIn expected")
	}
	var tpl scan.Template
	switch args.Kind {
	case "sum":
		tpl = scan.SumF32
	case "min":
		tpl = scan.MinF32
	case "max":
		tpl = scan.MaxF32
	default:
		return nil, errors.New("unknown kind")
	}
	if len(args.In) == 0 {
		return ReduceOut{0}, nil
	}

	src, err := scan.Encode(tpl, args.In)
	if err != nil {
		return nil, err
	}
	raw, _, err := runScan(x, scanJob{template: tpl, source: src})
	if err != nil {
		return nil, err
	}
	out, err := scan.Decode[float32](tpl, raw[len(raw)-4:])
	if err != nil {
		return nil, err
	}
	return ReduceOut{Value: out[0]}, nil
}
