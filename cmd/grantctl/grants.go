package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

func grantsCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "List and search grants",
	}
	cmd.AddCommand(grantsListCmd(app))
	cmd.AddCommand(grantsSearchCmd(app))
	cmd.AddCommand(grantsClosingSoonCmd(app))
	cmd.AddCommand(grantsHighPriorityCmd(app))
	return cmd
}

func grantsListCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every grant from the first tier that answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.grantService()
			if err != nil {
				return err
			}
			res, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			renderGrants(cmd.OutOrStdout(), res, time.Now())
			return nil
		},
	}
}

func grantsSearchCmd(app *cli) *cobra.Command {
	var filters models.SearchFilters
	cmd := &cobra.Command{
		Use:   "search [term]",
		Short: "Search grants by term, category, amount, status or deadline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				filters.SearchTerm = args[0]
			}
			svc, err := app.grantService()
			if err != nil {
				return err
			}
			res, err := svc.Search(cmd.Context(), filters)
			if err != nil {
				return err
			}
			renderGrants(cmd.OutOrStdout(), res, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&filters.Category, "category", "", "category name")
	cmd.Flags().Float64Var(&filters.MinAmount, "min", 0, "minimum amount")
	cmd.Flags().Float64Var(&filters.MaxAmount, "max", 0, "maximum amount")
	cmd.Flags().StringVar(&filters.Status, "status", "", "grant status")
	cmd.Flags().StringVar(&filters.DeadlineBefore, "before", "", "deadline before YYYY-MM-DD")
	return cmd
}

func grantsClosingSoonCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "closing-soon",
		Short: "Grants due in the next 30 days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.grantService()
			if err != nil {
				return err
			}
			res, err := svc.ClosingSoon(cmd.Context())
			if err != nil {
				return err
			}
			renderGrants(cmd.OutOrStdout(), res, time.Now())
			return nil
		},
	}
}

func grantsHighPriorityCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "high-priority",
		Short: "Grants with a priority score above 7",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.grantService()
			if err != nil {
				return err
			}
			res, err := svc.HighPriority(cmd.Context())
			if err != nil {
				return err
			}
			renderGrants(cmd.OutOrStdout(), res, time.Now())
			return nil
		},
	}
}

// renderGrants prints the grants and a footer naming the tier that served
// them, so fallback data is never mistaken for live data.
func renderGrants(w io.Writer, res retrieval.Result[[]models.Grant], now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Title", "Category", "Amount", "Deadline", "Urgency", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 48},
		{Number: 4, Align: text.AlignRight},
	})
	for _, g := range res.Data {
		t.AppendRow(table.Row{g.ID, g.Title, g.Category, formatAmount(g.Amount), g.Deadline, g.Urgency(now), g.Status})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d grants", len(res.Data)), "", "", "source", res.Source, fmt.Sprintf("%d%%", res.Reliability)})
	t.Render()

	if res.Source == retrieval.TierFallback {
		fmt.Fprintln(w, "Warning: served from the fallback endpoint; data may be incomplete.")
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

func formatAmount(v float64) string {
	if v <= 0 {
		return "-"
	}
	s := fmt.Sprintf("%.0f", v)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return "$" + b.String()
}
