package config

import (
	"fmt"

	"github.com/fia-cloud/fia/cmd/cli"
	"github.com/fia-cloud/fia/internal/config"
	"github.com/fia-cloud/fia/pkg/env"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Cmd is the parent command for configuration operations.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Validate, activate and inspect guardrail configuration",
}

var showFormat string

var validateCmd = &cobra.Command{
	Use:     "validate [path]",
	Short:   "Validate a configuration document",
	Example: "fia config validate config/defaults.json",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := pathArg(args)
		snap, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (hard stop %s, max concurrent %d, dry run %t)\n",
			path,
			snap.CostGuardrails.MonthlyHardStop,
			snap.RunSettings.MaxConcurrentFlyJobs,
			snap.RunSettings.DryRun,
		)
		return err
	},
}

var activateCmd = &cobra.Command{
	Use:     "activate [path]",
	Short:   "Store a configuration document as the active snapshot",
	Example: "fia config activate config/production.yaml",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := config.LoadFile(pathArg(args))
		if err != nil {
			return err
		}

		eng, err := cli.Engine()
		if err != nil {
			return err
		}

		row, err := eng.Configs.Activate(cli.Context(cmd), snap)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Activated configuration %s\n", row.ID)
		return err
	},
}

var diffCmd = &cobra.Command{
	Use:     "diff [path]",
	Short:   "Compare a configuration document with the snapshot in effect",
	Example: "fia config diff config/production.yaml",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desired, err := config.LoadFile(pathArg(args))
		if err != nil {
			return err
		}

		eng, err := cli.Engine()
		if err != nil {
			return err
		}

		current, err := eng.Config.Snapshot(cli.Context(cmd))
		if err != nil {
			return err
		}

		diff, err := config.Diff(current, desired)
		if err != nil {
			return err
		}
		if diff == "" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "No changes.")
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), diff)
		return err
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the snapshot admission decisions would use",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := cli.Engine()
		if err != nil {
			return err
		}

		snap, err := eng.Config.Snapshot(cli.Context(cmd))
		if err != nil {
			return err
		}

		switch showFormat {
		case "yaml":
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(snap)
		case "json":
			return cli.PrintJSON(cmd, snap)
		default:
			return fmt.Errorf("unsupported format %q", showFormat)
		}
	},
}

func init() {
	showCmd.Flags().StringVarP(&showFormat, "output", "o", "json", "Output format (json or yaml)")
	Cmd.AddCommand(validateCmd, activateCmd, diffCmd, showCmd)
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return env.Variables().ConfigPath
}
