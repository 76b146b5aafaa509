package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/openfluke/prefixscan/pods"
)

type reduceResult struct {
	Kind   string  `json:"kind" yaml:"kind"`
	Device string  `json:"device" yaml:"device"`
	Count  int     `json:"count" yaml:"count"`
	Value  float32 `json:"value" yaml:"value"`
}

func newReduceCommand(g *globals) *cobra.Command {
	var (
		kind string
		host bool
	)
	cmd := &cobra.Command{
		Use:   "reduce [values...]",
		Short: "Reduce f32 values to their sum, min or max",
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := readValues(args, g.opts.Input, cmd.InOrStdin())
			if err != nil {
				return err
			}
			in := make([]float32, len(values))
			for i, s := range values {
				v, err := strconv.ParseFloat(s, 32)
				if err != nil {
					return errors.Wrapf(err, "parse %q", s)
				}
				in[i] = float32(v)
			}

			ec := pods.NewContext(nil)
			ec.Ctx = cmd.Context()
			ec.Logger = g.logger
			device := "host"
			if !host {
				dev, err := openDevice(g)
				if err != nil {
					return err
				}
				if err := ec.WithDevice(dev); err != nil {
					return err
				}
				device = g.opts.Device
			}
			defer ec.Close()

			out, err := pods.Run(ec, pods.ReducePod{}.Name(), pods.ReduceIn{In: in, Kind: kind})
			if err != nil {
				return err
			}
			res := reduceResult{Kind: kind, Device: device, Count: len(in), Value: out.(pods.ReduceOut).Value}
			w := cmd.OutOrStdout()
			if ok, err := writeStructured(w, g.opts.Output, res); ok || err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, res.Value)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "sum", "Reduction: sum, min or max")
	cmd.Flags().BoolVar(&host, "host", false, "Reduce on the host reference instead of --device")
	return cmd
}
