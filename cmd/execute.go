package cmd

import (
	"github.com/fia-cloud/fia/cmd/config"
	"github.com/fia-cloud/fia/cmd/migrate"
	"github.com/fia-cloud/fia/cmd/rollup"
	"github.com/fia-cloud/fia/cmd/start"
	"github.com/fia-cloud/fia/cmd/sweep"
	"github.com/fia-cloud/fia/cmd/usage"
	"github.com/spf13/cobra"
)

var cmds = []*cobra.Command{
	start.Cmd,
	migrate.Cmd,
	config.Cmd,
	sweep.Cmd,
	usage.Cmd,
	rollup.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:          "fia",
		Short:        "Admission control and cost guardrails for signal compute",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
