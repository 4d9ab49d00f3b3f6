package migrate

import (
	"fmt"

	"github.com/fia-cloud/fia/pkg/db"
	"github.com/fia-cloud/fia/pkg/env"
	"github.com/spf13/cobra"
)

// Cmd is the migrate command.
var Cmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Create or upgrade the fia schema",
	Example: "FIA_DATABASE_TYPE=postgres FIA_DATABASE_DSN=... fia migrate",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.Migrate(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s database\n", env.Variables().DatabaseType)
		return err
	},
}
