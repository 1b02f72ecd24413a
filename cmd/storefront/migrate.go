package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Apply or roll back the database schema",
	Long: `Run the embedded SQL migrations against DATABASE_URL.

Examples:
  storefront migrate up
  storefront migrate down`,
	Args: cobra.ExactArgs(1),
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	direction, err := database.ParseDirection(args[0])
	if err != nil {
		return err
	}

	_, st, logger, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.DB().Close()

	n, err := database.Migrate(cmd.Context(), st.DB(), migrations.FS, direction)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	logger.Info("migrations applied", "direction", direction, "count", n)
	return nil
}
