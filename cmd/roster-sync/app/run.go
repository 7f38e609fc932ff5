package app

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rosterapp "github.com/stacklok/roster-sync/internal/app"
	pkgsync "github.com/stacklok/roster-sync/internal/sync"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one invocation of a job",
		Long: `Run one invocation of a job (members, groups or lifecycle).

The invocation processes work items from the job's checkpoint until the list
is done, the batch size is reached or the time quota runs out. Call it again
to continue; the job's status shows whether more invocations are needed.

Deleting archived accounts requires both lifecycle.deleteEnabled in the
configuration and --confirm-delete on the command line.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: pkgsync.Jobs(),
		RunE:      runJob,
	}

	cmd.Flags().Bool("dry-run", false, "Compute and report changes without touching the directory")
	cmd.Flags().Bool("confirm-delete", false, "Allow deleting archived accounts past the deletion threshold")
	for _, name := range []string{"dry-run", "confirm-delete"} {
		mustBind(name, viper.BindPFlag(name, cmd.Flags().Lookup(name)))
	}
	return cmd
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctxLogger := logr.FromContextOrDiscard(ctx)
	job := args[0]
	if !pkgsync.IsJob(job) {
		return fmt.Errorf("unknown job %q (known: %v)", job, pkgsync.Jobs())
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := rosterapp.New(ctx,
		rosterapp.WithConfig(cfg),
		rosterapp.WithDryRun(viper.GetBool("dry-run")),
		rosterapp.WithConfirmDelete(viper.GetBool("confirm-delete")),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := application.Close(ctx); err != nil {
			ctxLogger.Error(err, "Failed to release resources")
		}
	}()

	rep, err := application.Run(ctx, job)
	if err != nil {
		return err
	}
	if !rep.Completed {
		ctxLogger.Info("Work remains; run the job again to continue", "job", job)
	}
	return nil
}
