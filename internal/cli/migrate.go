package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/bootstrap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the job and segment tables of the configured store",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := bootstrap.Migrate(cmd.Context(), store); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", cfg.Store.Backend)
	return nil
}
