package app

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rosterapp "github.com/stacklok/roster-sync/internal/app"
)

const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only job status API",
		Long: `Serve job status, checkpoints and (with database storage) recent run
reports over HTTP. The server never runs jobs itself.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("address", ":8080", "Address to listen on")
	mustBind("address", viper.BindPFlag("address", cmd.Flags().Lookup("address")))
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := rosterapp.New(ctx,
		rosterapp.WithConfig(cfg),
		rosterapp.WithAddress(viper.GetString("address")),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := application.Close(ctx); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "Failed to release resources")
		}
	}()

	return application.Serve(ctx, defaultGracefulTimeout)
}
