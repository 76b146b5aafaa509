package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/openfluke/prefixscan/scan"
)

type runResult struct {
	Template  string `json:"template" yaml:"template"`
	Device    string `json:"device" yaml:"device"`
	Exclusive bool   `json:"exclusive" yaml:"exclusive"`
	Workgroup int    `json:"workgroup_length" yaml:"workgroup_length"`
	Levels    []int  `json:"levels" yaml:"levels"`
	Values    []any  `json:"values" yaml:"values"`
}

func newRunCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run [values...]",
		Short: "Scan a sequence of values",
		Long:  "Scan the given values, or the values read with --input, and print one output per input.",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			values, err := readValues(args, g.opts.Input, cmd.InOrStdin())
			if err != nil {
				return err
			}
			tpl, err := g.opts.ScanTemplate()
			if err != nil {
				return err
			}
			data, err := g.opts.Encode(tpl, values)
			if err != nil {
				return err
			}
			seed, err := g.opts.InitialValue(tpl)
			if err != nil {
				return err
			}

			dev, err := openDevice(g)
			if err != nil {
				return err
			}
			src, err := dev.CreateBufferInit(labelOr(g.opts.Label, "run")+"_Source", data)
			if err != nil {
				return err
			}
			defer src.Destroy()

			p, err := scan.New(dev, scan.Config{
				Source:       src,
				Template:     tpl,
				BlockLength:  g.opts.BlockLength,
				Exclusive:    g.opts.Exclusive,
				InitialValue: seed,
				Label:        g.opts.Label,
			}, scan.WithLogger(g.logger))
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, p.Destroy()) }()

			raw, err := p.Scan(cmd.Context())
			if err != nil {
				return err
			}
			out, err := g.opts.Decode(tpl, raw)
			if err != nil {
				return err
			}
			levels, err := p.Levels()
			if err != nil {
				return err
			}
			wg, err := p.WorkgroupLength()
			if err != nil {
				return err
			}

			res := runResult{
				Template:  tpl.Name(),
				Device:    g.opts.Device,
				Exclusive: g.opts.Exclusive,
				Workgroup: wg,
				Levels:    levels,
				Values:    out,
			}
			w := cmd.OutOrStdout()
			if ok, err := writeStructured(w, g.opts.Output, res); ok || err != nil {
				return err
			}
			g.logger.V(1).Info("scan complete", "elements", len(out), "levels", levels)
			_, err = fmt.Fprintln(w, joinValues(out))
			return err
		},
	}
}

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}
