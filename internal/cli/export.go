package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/magcollector/internal/app"
	"example.com/magcollector/internal/export"
)

func newExportCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored readings to other systems",
	}

	influx := &cobra.Command{
		Use:   "influx",
		Short: "Copy every magnetic reading to InfluxDB as line protocol",
		Long: `Stream all magnetic readings ordered by timestamp and POST them to
$INFLUX_URL/write?db=$INFLUX_DB&precision=ms in batches of $EXPORT_BATCH_SIZE lines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			rt, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			writer := export.NewInfluxWriter(cfg.InfluxURL, cfg.InfluxDB, 0)
			exporter := export.NewExporter(rt.Repository, writer, cfg.InfluxMeasurement, cfg.ExportBatchSize, logger)
			written, err := exporter.Run(cmd.Context())
			if err != nil {
				logger.Error("export failed", zap.Int("written", written), zap.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d lines to %s (db=%s)\n", written, cfg.InfluxURL, cfg.InfluxDB)
			return nil
		},
	}

	cmd.AddCommand(influx)
	return cmd
}
