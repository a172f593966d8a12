// Package cli implements the magctl operator commands.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/magcollector/internal/config"
	"example.com/magcollector/internal/logging"
)

type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

// setup loads configuration and builds a stderr logger honouring the global flags.
func (o *globalOptions) setup() (config.Config, *zap.Logger, error) {
	path := o.configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	logger, err := logging.NewStderr(cfg.LogLevel, cfg.LogFormat, "magctl")
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// NewRootCmd builds the magctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "magctl",
		Short: "Magnetic capture collector tooling",
		Long: `Operator commands for aligning raw phone sensor captures, ingesting them into
Postgres, listing stored batches and exporting readings to InfluxDB.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML configuration file (defaults to $CONFIG_FILE)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: json or console")

	root.AddCommand(
		newAlignCmd(opts),
		newIngestCmd(opts),
		newBatchesCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// Execute runs magctl with os.Args until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
