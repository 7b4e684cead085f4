package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grant-desk/internal/db"
	"github.com/david/grant-desk/internal/models"
)

func runsCmd(app *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent source sync runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := app.database(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			runs, err := db.NewRunStore(pool).ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}

func renderRuns(w io.Writer, runs []models.SyncRun) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "Status", "Found", "Saved", "Error", "Duration", "Started At"})
	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.Duration().Round(time.Second).String()
		}
		t.AppendRow(table.Row{r.SourceID, r.Status, r.ItemsFound, r.ItemsSaved, r.Error, duration, r.StartedAt.Local().Format("2006-01-02 15:04:05")})
	}
	t.Render()
}
