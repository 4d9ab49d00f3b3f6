// Package cli holds helpers shared by the one-shot commands.
package cli

import (
	"context"
	"encoding/json"

	"github.com/fia-cloud/fia/internal/engine"
	"github.com/fia-cloud/fia/pkg/db"
	"github.com/fia-cloud/fia/pkg/env"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Engine migrates the configured database and wires an engine over it.
func Engine() (*engine.Engine, error) {
	if err := db.Migrate(); err != nil {
		return nil, errors.Wrap(err, "database migration failure")
	}
	return engine.New(db.Connection(), engine.OptionsFromEnv(env.Variables())), nil
}

// Context returns the command's context, or a background one.
func Context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// PrintJSON writes v to the command's output as indented JSON.
func PrintJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		cmd.PrintErrf("write output: %v\n", err)
		return err
	}
	return nil
}
