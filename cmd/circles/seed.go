package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/jsonx"
	"github.com/circle-kernel/internal/store/sqlite"
)

// Fixture is the seed file format. Records without a user_id belong to
// UserID.
type Fixture struct {
	UserID         string                   `json:"user_id"`
	Contacts       []circles.Contact        `json:"contacts"`
	Interactions   []circles.InteractionLog `json:"interactions"`
	CalendarEvents []circles.CalendarEvent  `json:"calendar_events"`
}

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.json|->",
	Short: "Load contacts, interactions and calendar events into the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open fixture: %w", err)
		}
		defer f.Close()
		r = f
	}

	var fx Fixture
	if err := jsonx.NewDecoder(r).Decode(&fx); err != nil {
		return fmt.Errorf("failed to parse fixture: %w", err)
	}
	if fx.UserID == "" {
		fx.UserID = userID
	}

	store, err := sqlite.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := newContext()
	defer cancel()
	if err := seedFixture(ctx, store, fx); err != nil {
		return err
	}

	logger.Info("Fixture loaded",
		zap.String("user_id", fx.UserID),
		zap.Int("contacts", len(fx.Contacts)),
		zap.Int("interactions", len(fx.Interactions)),
		zap.Int("calendar_events", len(fx.CalendarEvents)))
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d contacts, %d interactions, %d calendar events into %s\n",
		len(fx.Contacts), len(fx.Interactions), len(fx.CalendarEvents), dbPath)
	return nil
}

func seedFixture(ctx context.Context, store *sqlite.Store, fx Fixture) error {
	for _, c := range fx.Contacts {
		if c.UserID == "" {
			c.UserID = fx.UserID
		}
		if c.UserID == "" || c.ID == "" {
			return fmt.Errorf("contact %q: id and user_id are required", c.ID)
		}
		if err := store.PutContact(ctx, c); err != nil {
			return err
		}
	}
	for _, in := range fx.Interactions {
		if in.UserID == "" {
			in.UserID = fx.UserID
		}
		if err := store.AddInteraction(ctx, in); err != nil {
			return err
		}
	}
	for _, ev := range fx.CalendarEvents {
		if fx.UserID == "" {
			return fmt.Errorf("calendar events need a fixture user_id")
		}
		if err := store.AddCalendarEvent(ctx, fx.UserID, ev); err != nil {
			return err
		}
	}
	return nil
}
