package app

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/stacklok/roster-sync/database"
	"github.com/stacklok/roster-sync/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	cmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations to bring the schema up to date, reading
the connection parameters from the configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, "apply", database.MigrateUp)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert database migrations",
		Long: `Revert applied database migrations. Without --num-steps every migration is
reverted and all job state stored in the database is lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, "revert", database.MigrateDown)
		},
	})
	return cmd
}

func runMigrate(cmd *cobra.Command, verb string, migrateFn func(connString string, steps uint) error) error {
	ctxLogger := logr.FromContextOrDiscard(cmd.Context())

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}
	steps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to get connection string: %w", err)
	}

	if !yes {
		question := fmt.Sprintf("About to %s migrations on %s", verb, describeDatabase(cfg.Database))
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), question)
		if err != nil {
			return err
		}
		if !ok {
			ctxLogger.Info("Migration cancelled by user")
			return nil
		}
	}

	ctxLogger.Info("Running database migrations", "direction", verb, "steps", steps)
	if err := migrateFn(connString, steps); err != nil {
		return err
	}

	version, dirty, err := database.GetVersion(connString)
	switch {
	case err != nil:
		ctxLogger.Error(err, "Unable to get migration version")
	case dirty:
		ctxLogger.Info("Database is in a dirty state", "version", version)
	default:
		ctxLogger.Info("Migrations finished", "version", version)
	}
	return nil
}

func describeDatabase(db *config.DatabaseConfig) string {
	return fmt.Sprintf("%s@%s:%d/%s", db.User, db.Host, db.Port, db.Database)
}

// confirm asks a yes/no question; only "y" and "yes" count as yes
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if _, err := fmt.Fprintf(out, "%s. Continue? (yes/no): ", question); err != nil {
		return false, err
	}
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
