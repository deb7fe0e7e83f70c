package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/circle-kernel/internal/capacity"
	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/kernel"
)

var distributionCmd = &cobra.Command{
	Use:   "distribution",
	Short: "Count contacts per circle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			d, err := k.Distribution(ctx, userID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(d)
			}
			w := cmd.OutOrStdout()
			for _, c := range circles.AllCircles {
				fmt.Fprintf(w, "%-14s %5d\n", c.Label(), d.Count(c))
			}
			fmt.Fprintf(w, "%-14s %5d\n", circles.CircleNone.Label(), d.Uncategorized)
			fmt.Fprintf(w, "%-14s %5d\n", "Total", d.Total)
			return nil
		})
	},
}

var capacityCmd = &cobra.Command{
	Use:   "capacity [circle]",
	Short: "Compare circle sizes with their recommended limits",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			var reports []capacity.Report
			if len(args) == 1 {
				circle, err := circles.ParseCircle(args[0])
				if err != nil {
					return err
				}
				r, err := k.ValidateCircleCapacity(ctx, userID, circle)
				if err != nil {
					return err
				}
				reports = []capacity.Report{r}
			} else {
				var err error
				if reports, err = k.CapacityReport(ctx, userID); err != nil {
					return err
				}
			}
			if jsonOutput {
				return printJSON(reports)
			}
			printReports(cmd.OutOrStdout(), reports)
			return nil
		})
	},
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Suggest moves out of crowded circles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			moves, err := k.SuggestRebalancing(ctx, userID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(moves)
			}
			printRebalance(cmd.OutOrStdout(), moves)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(distributionCmd, capacityCmd, rebalanceCmd)
}

func printReports(w io.Writer, reports []capacity.Report) {
	for _, r := range reports {
		fmt.Fprintf(w, "%-8s %4d / %-4d (max %d)  %s\n",
			r.Circle.Label(), r.CurrentSize, r.RecommendedSize, r.MaxSize, r.Status)
	}
}

func printRebalance(w io.Writer, moves []capacity.RebalanceSuggestion) {
	if len(moves) == 0 {
		fmt.Fprintln(w, "All circles are within capacity")
		return
	}
	for _, m := range moves {
		fmt.Fprintf(w, "%s (%.0f%% confidence)\n", m.Reason, m.Confidence*100)
		if len(m.CandidateIDs) > 0 {
			fmt.Fprintf(w, "  candidates: %v\n", m.CandidateIDs)
		}
	}
}
