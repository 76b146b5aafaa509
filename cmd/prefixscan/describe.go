package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/openfluke/prefixscan/scan"
)

func newDescribeCommand(g *globals) *cobra.Command {
	var length int
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the stage graph a scan of --length elements would run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if length < 0 {
				return errors.Errorf("--length must be >= 0, got %d", length)
			}
			tpl, err := g.opts.ScanTemplate()
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
			src, err := dev.CreateBuffer(labelOr(g.opts.Label, "describe")+"_Source", length*tpl.ElementSize())
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

			graph, err := p.Graph()
			if err != nil {
				return err
			}
			info := graph.Describe()
			w := cmd.OutOrStdout()
			if ok, err := writeStructured(w, g.opts.Output, info); ok || err != nil {
				return err
			}
			wg, err := p.WorkgroupLength()
			if err != nil {
				return err
			}
			return printGraph(w, info, length, wg)
		},
	}
	cmd.Flags().IntVar(&length, "length", 1024, "Number of source elements")
	return cmd
}

func printGraph(w io.Writer, info scan.GraphInfo, length, workgroup int) error {
	if _, err := headerColor.Fprintf(w, "%d elements, workgroup length %d, %d level(s)\n", length, workgroup, info.Levels); err != nil {
		return err
	}
	if len(info.Stages) == 0 {
		_, err := dimColor.Fprintln(w, "  (empty graph)")
		return err
	}
	for _, s := range info.Stages {
		c := scanColor
		if s.Kind == scan.KindApplyBlock.String() {
			c = applyColor
		}
		mode := "inclusive"
		if s.Exclusive {
			mode = "exclusive"
		}
		extra := ""
		if s.EmitsSummaries {
			extra += " +summaries"
		}
		if s.Seeded {
			extra += " +seed"
		}
		if _, err := fmt.Fprintf(w, "  %s %-11s L%d  %8d elems  %6d groups  %s%s\n",
			c.Sprint(s.Label), s.Kind, s.Level, s.Elements, s.Workgroups, mode, extra); err != nil {
			return err
		}
	}
	_, err := dimColor.Fprintf(w, "  result: %s\n", info.Result)
	return err
}
