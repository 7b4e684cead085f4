package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grant-desk/internal/ai"
	"github.com/david/grant-desk/internal/assistant"
)

type analysisReport struct {
	File     string
	Words    int
	Quality  assistant.Quality
	Analysis assistant.Analysis
}

func analyzeCmd(app *cli) *cobra.Command {
	var grant assistant.GrantContext
	var offline bool
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Score a draft (text or PDF) and run the quick quality check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var llm ai.ChatCompleter
			if !offline {
				var err error
				if llm, err = ai.New(cmd.Context(), app.cfg.LLM); err != nil {
					return err
				}
			}
			analyzer := assistant.NewAnalyzer(llm, assistant.AnalyzerOptions{
				Model:       app.cfg.LLM.Model,
				Temperature: app.cfg.LLM.AnalysisTemperature,
			}, app.logger)

			report, err := analyzeFile(cmd.Context(), analyzer, args[0], grant)
			if err != nil {
				return err
			}
			renderAnalysis(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&grant.Name, "grant", "", "grant name the draft is written for")
	cmd.Flags().StringVar(&grant.Category, "category", "", "grant category")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the language model and report neutral scores")
	return cmd
}

// analyzeFile reads path, extracting the text layer first when it is a PDF.
func analyzeFile(ctx context.Context, analyzer *assistant.Analyzer, path string, grant assistant.GrantContext) (analysisReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return analysisReport{}, err
	}
	content := string(data)
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		if content, err = assistant.ExtractPDFText(data); err != nil {
			return analysisReport{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if strings.TrimSpace(content) == "" {
		return analysisReport{}, fmt.Errorf("%s: no text to analyze", path)
	}
	quality := assistant.QuickQualityCheck(content)
	return analysisReport{
		File:     filepath.Base(path),
		Words:    quality.WordCount,
		Quality:  quality,
		Analysis: analyzer.Analyze(ctx, content, grant),
	}, nil
}

func renderAnalysis(w io.Writer, r analysisReport) {
	fmt.Fprintf(w, "%s (%d words, analysis: %s)\n", r.File, r.Words, r.Analysis.Method)

	scores := table.NewWriter()
	scores.SetOutputMirror(w)
	scores.SetStyle(table.StyleLight)
	scores.AppendHeader(table.Row{"Alignment", "Completeness", "Clarity", "Persuasiveness", "Overall"})
	scores.AppendRow(table.Row{r.Analysis.GrantAlignment, r.Analysis.Completeness, r.Analysis.Clarity, r.Analysis.Persuasiveness, r.Analysis.OverallScore})
	scores.Render()

	q := table.NewWriter()
	q.SetOutputMirror(w)
	q.SetStyle(table.StyleLight)
	q.AppendHeader(table.Row{"Readability", "Measurable objectives", "Timeline", "Budget"})
	q.AppendRow(table.Row{fmt.Sprintf("%.1f", r.Quality.ReadabilityScore), yesNo(r.Quality.HasMeasurableObjectives), yesNo(r.Quality.HasTimeline), yesNo(r.Quality.HasBudget)})
	q.Render()

	printList(w, "Feedback", r.Analysis.Feedback)
	printList(w, "Suggestions", r.Analysis.Suggestions)
	printList(w, "Compliance issues", r.Analysis.ComplianceIssues)
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
