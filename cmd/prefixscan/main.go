// main.go bootstraps prefixscan: it builds the root Cobra command, binds
// Viper config and environment, and executes with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/openfluke/prefixscan/cpu"
	"github.com/openfluke/prefixscan/gpu"
	"github.com/openfluke/prefixscan/internal/config"
	"github.com/openfluke/prefixscan/internal/logging"
	"github.com/openfluke/prefixscan/scan"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

// globals are the flags shared by every subcommand.
type globals struct {
	opts       *config.Options
	logLevel   string
	configFile string
	logger     logr.Logger
}

func newRootCommand() *cobra.Command {
	g := &globals{opts: config.NewOptions(), logLevel: "info", logger: logr.Discard()}

	cmd := &cobra.Command{
		Use:           "prefixscan",
		Short:         "Hierarchical parallel prefix scans on CPU and WebGPU devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd.Root(), g); err != nil {
				return err
			}
			logger, err := logging.New(g.logLevel)
			if err != nil {
				return err
			}
			g.logger = logger
			return g.opts.Validate()
		},
	}
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", g.logLevel, "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&g.configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/prefixscan/config.yaml)")
	g.opts.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newRunCommand(g),
		newDescribeCommand(g),
		newReduceCommand(g),
		newDetectCommand(g),
	)
	cmd.Example = `  # Inclusive sum of a short sequence
  prefixscan run 1 2 3 4 5 6 7 8 --block-length 4

  # Exclusive scan seeded with 100, as YAML
  prefixscan run 1 2 3 4 5 6 7 8 -L 4 --exclusive --initial 100 -o yaml

  # Show the stage graph for a million elements on the GPU
  prefixscan describe --length 1000000 --device gpu`
	return cmd
}

// loadConfig fills every flag the command line left unset from the
// environment and the config file. It runs once per execution, on the root
// being executed.
func loadConfig(root *cobra.Command, g *globals) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("PREFIXSCAN")
	v.AutomaticEnv()

	configFile := g.configFile
	if configFile == "" {
		configFile = os.Getenv("PREFIXSCAN_CONFIG")
	}
	configureConfigFile(v, configFile)
	flags := root.PersistentFlags()
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	if err := readConfigFile(v, configFile != ""); err != nil {
		return err
	}
	var errs error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
			errs = multierr.Append(errs, f.Value.Set(val))
		}
	})
	return errs
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "prefixscan"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", "prefixscan"))
	}
	return dirs
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	switch {
	case errors.Is(err, scan.ErrCapacity):
		message = fmt.Sprintf("%s\nHint: use a --block-length of at least 2.", err)
	case errors.Is(err, scan.ErrDevice):
		message = fmt.Sprintf("%s\nHint: retry with --device cpu to rule out the GPU driver.", err)
	case errors.Is(err, context.DeadlineExceeded):
		message = fmt.Sprintf("%s\nHint: the device did not finish in time.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}

// openDevice returns the backend selected by --device.
func openDevice(g *globals) (scan.Device, error) {
	if g.opts.Device == "gpu" {
		return gpu.New(gpu.WithLogger(g.logger), gpu.WithMaxWorkgroupLength(g.opts.WorkgroupMax))
	}
	opts := []cpu.Option{cpu.WithLogger(g.logger)}
	if g.opts.WorkgroupMax > 0 {
		opts = append(opts, cpu.WithMaxWorkgroupLength(g.opts.WorkgroupMax))
	}
	return cpu.New(opts...), nil
}
