package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

func askCMD() *cobra.Command {
	var cfgPath string
	var budgetTokens int64
	var maxAttempts int
	var criteria []string
	var asJSON bool
	var verbose bool

	var ask = &cobra.Command{
		Use:   "ask <question>",
		Short: "Research one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question must not be empty")
			}
			req := orchestrator.Request{Question: question}
			if cmd.Flags().Changed("budget") {
				req.Budget.TokenLimit = &budgetTokens
			}
			if cmd.Flags().Changed("max-attempts") {
				req.Budget.MaxBadAttempts = &maxAttempts
			}
			for _, name := range criteria {
				c, ok := core.ParseCriterion(name)
				if !ok {
					return fmt.Errorf("unknown criterion %q", name)
				}
				req.Criteria = append(req.Criteria, c)
			}

			a, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if verbose {
				req.Observer = func(ev orchestrator.Event) {
					fmt.Fprintf(cmd.ErrOrStderr(), "[step %d] %s: %s\n", ev.Step, ev.Action, ev.Think)
				}
			}
			res := a.orch.Run(cmd.Context(), req)
			a.record(cmd.Context(), res)

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(out, res)
			return nil
		},
	}
	ask.Flags().Int64Var(&budgetTokens, "budget", 0, "token budget for this question")
	ask.Flags().IntVar(&maxAttempts, "max-attempts", 0, "rejected answers tolerated before forcing one")
	ask.Flags().StringSliceVar(&criteria, "criteria", nil, "extra evaluation criteria (definitive, freshness, plurality, completeness, attribution, strict)")
	ask.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	ask.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each step's reasoning to stderr")
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}

func printResult(w io.Writer, res orchestrator.Result) {
	fmt.Fprintln(w, res.Answer)
	if len(res.References) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, line := range helpers.FormatCitations(citations(res.References), 0) {
			fmt.Fprintln(w, "  "+line)
		}
	}
	status := "accepted"
	if res.Forced {
		status = "forced (" + res.ForceReason + ")"
	}
	fmt.Fprintf(w, "\n%d steps, %d tokens, %d urls visited, %s, %s\n",
		res.Steps, res.Usage.TotalTokens(), len(res.VisitedURLs), status, res.Duration.Round(time.Millisecond))
}

func citations(refs []knowledge.Reference) []helpers.Citation {
	out := make([]helpers.Citation, 0, len(refs))
	for _, ref := range refs {
		c := helpers.Citation{
			Title: ref.Title,
			URL:   ref.URL,
			Quote: ref.ExactQuote,
		}
		if t, err := time.Parse(time.RFC3339, ref.DateTime); err == nil {
			c.Published = t
		} else if t, err := time.Parse(time.DateOnly, ref.DateTime); err == nil {
			c.Published = t
		}
		out = append(out, c)
	}
	return out
}
