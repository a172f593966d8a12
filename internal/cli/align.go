package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/magcollector/internal/align"
	"example.com/magcollector/internal/capture"
)

func newAlignCmd(opts *globalOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "align <capture_dir>",
		Short: "Align the three sensor recordings of a capture",
		Long: `Read MagneticField.csv, DeviceTrajectory.csv and GameRotationVector.csv from a
capture directory and write the aligned table as CSV (ts followed by every field).

Examples:
  magctl align ./captures/2024-05-01
  magctl align ./captures/2024-05-01 --out aligned.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			streams, err := capture.LoadDir(args[0])
			if err != nil {
				return err
			}
			table, stats, err := align.Align(streams.All()...)
			if err != nil {
				return err
			}
			logger.Info("capture aligned",
				zap.String("dir", args[0]),
				zap.Int("joined", stats.Joined),
				zap.Int("dropped", stats.Dropped),
				zap.Int("duplicates", stats.Duplicates),
				zap.Int("rows", stats.Output),
			)

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return writeTable(w, table)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the aligned CSV to this file instead of stdout")
	return cmd
}

func writeTable(w io.Writer, table align.Table) error {
	cw := csv.NewWriter(w)
	header := append([]string{capture.TimestampName}, table.Fields...)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range table.Rows {
		record[0] = strconv.FormatInt(row.Timestamp, 10)
		for i, v := range row.Values {
			if v.Valid {
				record[i+1] = strconv.FormatFloat(v.Float, 'g', -1, 64)
			} else {
				record[i+1] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write aligned table: %w", err)
	}
	return nil
}
