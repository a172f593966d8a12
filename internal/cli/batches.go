package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/magcollector/internal/app"
)

func newBatchesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "batches <device_id>",
		Aliases: []string{"b"},
		Short:   "List stored batches of a device",
		Args:    cobra.ExactArgs(1),
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

			batches, err := rt.Service.ListBatches(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(batches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No batches found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BATCH TIME\tUTC")
			fmt.Fprintln(w, "----------\t---")
			for _, bt := range batches {
				fmt.Fprintf(w, "%d\t%s\n", bt, time.UnixMilli(bt).UTC().Format(time.RFC3339Nano))
			}
			return w.Flush()
		},
	}
}
