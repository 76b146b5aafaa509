package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/prefixscan/detector"
)

func newDetectCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Probe the GPU adapter and print its limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := detector.Detect()
			if err != nil {
				return err
			}
			g.logger.V(1).Info("adapter probed", "name", rep.Name, "backend", rep.Backend)
			w := cmd.OutOrStdout()
			if ok, err := writeStructured(w, g.opts.Output, rep); ok || err != nil {
				return err
			}
			if _, err := headerColor.Fprintf(w, "%s (%s, %s)\n", rep.Name, rep.Backend, rep.AdapterType); err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "  max workgroup length  %d\n  max workgroups        %d\n  recommended length    %d\n  buffer budget         %d bytes\n  features              %s\n",
				rep.Limits.MaxWorkgroupLength(), rep.Limits.MaxWorkgroups(),
				rep.Recommended.WorkgroupLength, rep.Recommended.BudgetBytes,
				strings.Join(rep.Features, ", "))
			return err
		},
	}
}
