package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/jsonx"
	"github.com/circle-kernel/internal/kernel"
	"github.com/circle-kernel/internal/ledger"
	"github.com/circle-kernel/internal/suggest"
)

var (
	assignReason string
	assignFile   string
	historyLimit int
)

var assignCmd = &cobra.Command{
	Use:   "assign [<contact-id> <circle>]",
	Short: "Place contacts in circles",
	Long: `Place one contact in a circle, or with --file apply a JSON list of
{"contact_id", "circle", "reason"} objects. A list is validated in full before
anything is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if assignFile == "" && len(args) != 2 {
			return fmt.Errorf("expected <contact-id> <circle> or --file")
		}
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			if assignFile != "" {
				batch, err := readAssignments(assignFile)
				if err != nil {
					return err
				}
				records, err := k.BatchAssign(ctx, userID, batch)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), records)
			}

			circle, err := circles.ParseCircle(args[1])
			if err != nil {
				return err
			}
			rec, err := k.AssignCircle(ctx, userID, args[0], circle, assignReason)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), []circles.AssignmentRecord{rec})
		})
	},
}

var overrideCmd = &cobra.Command{
	Use:   "override <contact-id> <circle>",
	Short: "Reject the current suggestion and place the contact yourself",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			circle, err := circles.ParseCircle(args[1])
			if err != nil {
				return err
			}
			s, err := k.AnalyzeContact(ctx, userID, args[0], suggest.Options{})
			if err != nil {
				return err
			}
			rec, err := k.OverrideSuggestion(ctx, userID, s, circle, assignReason)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), []circles.AssignmentRecord{rec})
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [contact-id]",
	Short: "Show assignment history, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			var (
				records []circles.AssignmentRecord
				err     error
			)
			if len(args) == 1 {
				records, err = k.History(ctx, userID, args[0])
			} else {
				records, err = k.UserHistory(ctx, userID, historyLimit)
			}
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records)
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive <contact-id>",
	Short: "Hide a contact from circle counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			return k.ArchiveContact(ctx, userID, args[0])
		})
	},
}

var unarchiveCmd = &cobra.Command{
	Use:   "unarchive <contact-id>",
	Short: "Restore an archived contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKernel(func(ctx context.Context, k *kernel.Kernel) error {
			return k.UnarchiveContact(ctx, userID, args[0])
		})
	},
}

func init() {
	assignCmd.Flags().StringVar(&assignReason, "reason", "", "Why the contact belongs there")
	assignCmd.Flags().StringVarP(&assignFile, "file", "f", "", "JSON list of assignments")
	overrideCmd.Flags().StringVar(&assignReason, "reason", "", "Why the suggestion is wrong")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Records to show when no contact is given (0 for all)")
	rootCmd.AddCommand(assignCmd, overrideCmd, historyCmd, archiveCmd, unarchiveCmd)
}

// readAssignments decodes a batch file; entries are user assignments.
func readAssignments(path string) ([]ledger.Assignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var batch []ledger.Assignment
	if err := jsonx.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for i := range batch {
		if batch[i].AssignedBy == "" {
			batch[i].AssignedBy = circles.AssignedByUser
		}
	}
	return batch, nil
}

func printRecords(w io.Writer, records []circles.AssignmentRecord) error {
	if jsonOutput {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No assignments")
		return nil
	}
	for _, r := range records {
		conf := ""
		if r.Confidence != nil {
			conf = fmt.Sprintf(" %d%%", *r.Confidence)
		}
		fmt.Fprintf(w, "%s  %-16s %s -> %s  by %s%s",
			r.Timestamp.Local().Format("2006-01-02 15:04"), r.ContactID,
			r.FromCircle.Label(), r.ToCircle.Label(), r.AssignedBy, conf)
		if r.Reason != "" {
			fmt.Fprintf(w, "  %q", r.Reason)
		}
		fmt.Fprintln(w)
	}
	return nil
}
