package app

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/stacklok/roster-sync/internal/app/storage"
	"github.com/stacklok/roster-sync/internal/status"
	pkgsync "github.com/stacklok/roster-sync/internal/sync"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the run status of every job",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	cmd.Flags().String("format", "table", "Output format (table, json)")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	factory, err := storage.NewStorageFactory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer factory.Cleanup()

	statuses, err := factory.StatusPersistence().LoadAllStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to load job status: %w", err)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	case "table", "":
		renderStatusTable(cmd.OutOrStdout(), statuses)
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func renderStatusTable(out io.Writer, statuses map[string]*status.RunStatus) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Job", "Phase", "Progress", "Attempts", "Last Attempt", "Last Completed", "Message"})
	for _, job := range pkgsync.Jobs() {
		st, ok := statuses[job]
		if !ok || st.Phase == "" {
			tw.AppendRow(table.Row{job, "Never run", "", "", "", "", ""})
			continue
		}
		progress := fmt.Sprintf("%d/%d", st.Cursor, st.Total)
		if st.Phase == status.RunPhaseComplete {
			progress = fmt.Sprintf("%d/%d", st.Total, st.Total)
		}
		phase := string(st.Phase)
		if st.DryRun {
			phase += " (dry run)"
		}
		tw.AppendRow(table.Row{job, phase, progress, st.AttemptCount,
			formatTime(st.LastAttempt), formatTime(st.LastCompleted), st.Message})
	}
	tw.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
