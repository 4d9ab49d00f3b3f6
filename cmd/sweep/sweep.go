package sweep

import (
	"github.com/fia-cloud/fia/cmd/cli"
	"github.com/spf13/cobra"
)

// Cmd is the sweep command. It runs one reconciliation pass and prints the
// report, so it can be scheduled externally when `fia start` is not running.
var Cmd = &cobra.Command{
	Use:     "sweep",
	Aliases: []string{"reconcile"},
	Short:   "Expire stale reservations and report monthly usage",
	Example: "fia sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := cli.Engine()
		if err != nil {
			return err
		}

		report, err := eng.Reconcile(cli.Context(cmd))
		if printErr := cli.PrintJSON(cmd, report); printErr != nil {
			return printErr
		}
		return err
	},
}
