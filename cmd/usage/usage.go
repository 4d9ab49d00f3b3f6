package usage

import (
	"time"

	"github.com/fia-cloud/fia/cmd/cli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var month string

// Cmd is the usage command.
var Cmd = &cobra.Command{
	Use:     "usage",
	Short:   "Report estimated and actual spend for a month",
	Example: "fia usage --month 2026-10",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := cli.Engine()
		if err != nil {
			return err
		}

		key := month
		if key == "" {
			key = eng.Ledger.MonthKey(eng.Now())
		} else if _, err := time.Parse("2006-01", key); err != nil {
			return errors.Wrapf(err, "invalid month %q", key)
		}

		ctx := cli.Context(cmd)
		snap, err := eng.Config.Snapshot(ctx)
		if err != nil {
			return err
		}

		report, err := eng.Ledger.Report(ctx, key, snap.CostGuardrails.MonthlyHardStop)
		if err != nil {
			return err
		}
		return cli.PrintJSON(cmd, report)
	},
}

func init() {
	Cmd.Flags().StringVarP(&month, "month", "m", "", "Month key (YYYY-MM), defaults to the current month")
}
