package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/circle-kernel/internal/batch"
	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/kernel"
	"github.com/circle-kernel/internal/suggest"
)

var (
	analyzeMode        string
	analyzeNoCache     bool
	analyzeAccept      bool
	batchConcurrency   int
	batchUncategorized bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <contact-id>",
	Short: "Suggest a circle for one contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			opts := suggest.Options{Mode: circles.Mode(analyzeMode), NoCache: analyzeNoCache}
			s, err := k.AnalyzeContact(ctx, userID, args[0], opts)
			if err != nil {
				return err
			}
			if analyzeAccept {
				if _, err := k.AcceptSuggestion(ctx, userID, s); err != nil {
					return err
				}
			}
			if jsonOutput {
				return printJSON(s)
			}
			printSuggestion(cmd.OutOrStdout(), s)
			if analyzeAccept {
				fmt.Fprintf(cmd.OutOrStdout(), "Accepted: %s is now in %s\n", s.ContactID, s.SuggestedCircle.Label())
			}
			return nil
		})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [contact-id...]",
	Short: "Suggest circles for many contacts",
	Long:  "Suggest circles for the given contacts, or with --uncategorized for every contact without a circle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !batchUncategorized {
			return fmt.Errorf("pass contact ids or --uncategorized")
		}
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			opts := suggest.Options{
				Mode:        circles.Mode(analyzeMode),
				NoCache:     analyzeNoCache,
				Concurrency: batchConcurrency,
			}
			var (
				res batch.Result[circles.CircleSuggestion]
				err error
			)
			if batchUncategorized {
				res, err = k.AnalyzeUncategorized(ctx, userID, opts)
			} else {
				res, err = k.BatchAnalyze(ctx, userID, args, opts)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			printBatch(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, batchCmd} {
		c.Flags().StringVar(&analyzeMode, "mode", "", "Scoring mode: steady_state or onboarding")
		c.Flags().BoolVar(&analyzeNoCache, "no-cache", false, "Ignore cached suggestions")
		rootCmd.AddCommand(c)
	}
	analyzeCmd.Flags().BoolVar(&analyzeAccept, "accept", false, "Commit the suggestion")
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 0, "Contacts evaluated at once (0 uses the configured default)")
	batchCmd.Flags().BoolVar(&batchUncategorized, "uncategorized", false, "Analyze every uncategorized contact in onboarding mode")
}

func printSuggestion(w io.Writer, s circles.CircleSuggestion) {
	fmt.Fprintf(w, "%s: %s (score %.2f, %d%% confidence, %s)\n",
		s.ContactID, s.SuggestedCircle.Label(), s.Score, s.Confidence, s.Mode)
	for _, f := range s.Factors {
		fmt.Fprintf(w, "  %-14s %3d  x%.2f  %s\n", f.Kind, f.Value, f.Weight, f.Description)
	}
	if len(s.Alternatives) > 0 {
		alts := make([]string, len(s.Alternatives))
		for i, a := range s.Alternatives {
			alts[i] = fmt.Sprintf("%s %d%%", a.Circle.Label(), a.Confidence)
		}
		fmt.Fprintf(w, "  alternatives: %s\n", strings.Join(alts, ", "))
	}
}

func printBatch(w io.Writer, res batch.Result[circles.CircleSuggestion]) {
	for _, s := range res.Succeeded {
		fmt.Fprintf(w, "%-20s %-8s score %6.2f  %3d%%\n", s.ContactID, s.SuggestedCircle.Label(), s.Score, s.Confidence)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "%-20s FAILED  %s\n", f.ContactID, f.Message)
	}
	fmt.Fprintf(w, "%d succeeded, %d failed (peak %d in flight)\n", len(res.Succeeded), len(res.Failed), res.PeakInFlight)
}
