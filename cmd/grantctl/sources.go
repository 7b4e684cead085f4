package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/david/grant-desk/internal/ai"
	"github.com/david/grant-desk/internal/db"
	"github.com/david/grant-desk/internal/sources"
)

func sourcesCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect and sync external grant sources",
	}
	cmd.AddCommand(sourcesListCmd(app))
	cmd.AddCommand(sourcesSyncCmd(app))
	cmd.AddCommand(sourcesToggleCmd(app))
	return cmd
}

func (a *cli) registry() (*sources.Registry, error) {
	return sources.LoadRegistry(a.cfg.SourcesFile)
}

func sourcesListCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := app.registry()
			if err != nil {
				return err
			}
			m, err := sources.NewManager(reg, sources.Options{Logger: app.logger})
			if err != nil {
				return err
			}
			renderSources(cmd.OutOrStdout(), m.All())
			return nil
		},
	}
}

func sourcesSyncCmd(app *cli) *cobra.Command {
	var save, classify bool
	cmd := &cobra.Command{
		Use:   "sync [source-id]",
		Short: "Fetch one source, or every enabled source",
		Long: `Fetch grants from external sources. With --save the grants are written
to the database and each attempt is recorded as a sync run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, err := app.registry()
			if err != nil {
				return err
			}
			opts := sources.Options{Logger: app.logger}
			if classify {
				llm, err := ai.New(ctx, app.cfg.LLM)
				if err != nil {
					return err
				}
				opts.Classifier, opts.Model = llm, app.cfg.LLM.Model
			}
			if save {
				pool, err := app.database(ctx)
				if err != nil {
					return err
				}
				defer pool.Close()
				embedder, err := ai.NewEmbedder(ctx, app.cfg.Embeddings)
				if err != nil {
					return err
				}
				opts.Store, opts.Runs, opts.Embedder = db.NewGrantStore(pool), db.NewRunStore(pool), embedder
			}
			m, err := sources.NewManager(reg, opts)
			if err != nil {
				return err
			}

			var reports []sources.SyncReport
			if len(args) == 1 {
				report, serr := m.SyncSource(ctx, args[0])
				reports, err = []sources.SyncReport{report}, serr
			} else {
				reports, err = m.SyncAll(ctx)
			}
			renderSyncReports(cmd.OutOrStdout(), reports)
			if err != nil {
				return fmt.Errorf("%d source(s) failed: %w", len(multierr.Errors(err)), err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write grants and sync runs to the database")
	cmd.Flags().BoolVar(&classify, "classify", false, "classify scraped grants with the configured language model")
	return cmd
}

func sourcesToggleCmd(app *cli) *cobra.Command {
	var (
		server  string
		secret  string
		disable bool
	)
	cmd := &cobra.Command{
		Use:   "toggle <source-id>",
		Short: "Enable or disable a source on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = "http://localhost:" + app.cfg.Server.Port
			}
			if secret == "" {
				secret = app.cfg.Server.AdminSecret
			}
			if err := toggleRemote(cmd.Context(), server, secret, args[0], !disable); err != nil {
				return err
			}
			state := "enabled"
			if disable {
				state = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], state)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server base URL (default: http://localhost:<server.port>)")
	cmd.Flags().StringVar(&secret, "admin-secret", "", "admin secret (default: server.admin_secret)")
	cmd.Flags().BoolVar(&disable, "disable", false, "disable instead of enable")
	return cmd
}

func toggleRemote(ctx context.Context, server, secret, id string, enabled bool) error {
	if secret == "" {
		return fmt.Errorf("an admin secret is required (--admin-secret or server.admin_secret)")
	}
	body, err := json.Marshal(map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	url := strings.TrimRight(server, "/") + "/api/v1/admin/sources/" + id + "/toggle"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", secret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("toggle %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return fmt.Errorf("toggle %s: server returned %d %s", id, resp.StatusCode, e.Error)
	}
	return nil
}

func renderSources(w io.Writer, list []sources.SourceInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Strategy", "Enabled", "Base URL"})
	for _, s := range list {
		t.AppendRow(table.Row{s.ID, s.Name, s.Strategy, s.Enabled, s.BaseURL})
	}
	t.Render()
}

func renderSyncReports(w io.Writer, reports []sources.SyncReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "OK", "Found", "Saved", "Errors"})
	found, saved := 0, 0
	for _, r := range reports {
		t.AppendRow(table.Row{r.Source, r.Success, len(r.Grants), r.Saved, strings.Join(r.Errors, "; ")})
		found += len(r.Grants)
		saved += r.Saved
	}
	t.AppendFooter(table.Row{"Total", "", found, saved, ""})
	t.Render()
}
