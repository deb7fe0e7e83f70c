package kernel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/circle-kernel/internal/batch"
	"github.com/circle-kernel/internal/capacity"
	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/ledger"
	"github.com/circle-kernel/internal/suggest"
)

// AnalyzeContact suggests a circle for one contact.
func (k *Kernel) AnalyzeContact(ctx context.Context, userID, contactID string, opts suggest.Options) (circles.CircleSuggestion, error) {
	return k.analyzer.Analyze(ctx, userID, contactID, opts)
}

// BatchAnalyze suggests circles for many contacts with bounded concurrency.
func (k *Kernel) BatchAnalyze(ctx context.Context, userID string, contactIDs []string, opts suggest.Options) (batch.Result[circles.CircleSuggestion], error) {
	return k.analyzer.BatchAnalyze(ctx, userID, contactIDs, opts)
}

// AnalyzeUncategorized suggests circles for every uncategorized contact.
func (k *Kernel) AnalyzeUncategorized(ctx context.Context, userID string, opts suggest.Options) (batch.Result[circles.CircleSuggestion], error) {
	return k.analyzer.AnalyzeAll(ctx, userID, opts)
}

// AssignCircle records a manual assignment. It never consults the scoring
// pipeline, so it works while signals are unavailable.
func (k *Kernel) AssignCircle(ctx context.Context, userID, contactID string, circle circles.Circle, reason string) (circles.AssignmentRecord, error) {
	return k.ledger.Record(ctx, userID, ledger.Assignment{
		ContactID:  contactID,
		Circle:     circle,
		AssignedBy: circles.AssignedByUser,
		Reason:     reason,
	})
}

// BatchAssign validates every assignment before writing any.
func (k *Kernel) BatchAssign(ctx context.Context, userID string, assignments []ledger.Assignment) ([]circles.AssignmentRecord, error) {
	return k.ledger.BatchRecord(ctx, userID, assignments)
}

// AcceptSuggestion commits a suggestion as an AI assignment.
func (k *Kernel) AcceptSuggestion(ctx context.Context, userID string, s circles.CircleSuggestion) (circles.AssignmentRecord, error) {
	return k.ledger.AcceptSuggestion(ctx, userID, s)
}

// AcceptContact analyzes a contact and commits the result.
func (k *Kernel) AcceptContact(ctx context.Context, userID, contactID string, opts suggest.Options) (circles.AssignmentRecord, error) {
	s, err := k.analyzer.Analyze(ctx, userID, contactID, opts)
	if err != nil {
		return circles.AssignmentRecord{}, err
	}
	return k.ledger.AcceptSuggestion(ctx, userID, s)
}

// OverrideSuggestion commits the user's choice in place of a suggestion.
func (k *Kernel) OverrideSuggestion(ctx context.Context, userID string, s circles.CircleSuggestion, circle circles.Circle, reason string) (circles.AssignmentRecord, error) {
	return k.ledger.Override(ctx, userID, s, circle, reason)
}

// History returns a contact's assignments newest first.
func (k *Kernel) History(ctx context.Context, userID, contactID string) ([]circles.AssignmentRecord, error) {
	return k.ledger.History(ctx, userID, contactID)
}

// UserHistory returns a user's latest assignments newest first.
func (k *Kernel) UserHistory(ctx context.Context, userID string, limit int) ([]circles.AssignmentRecord, error) {
	return k.ledger.UserHistory(ctx, userID, limit)
}

// Distribution counts live memberships per circle.
func (k *Kernel) Distribution(ctx context.Context, userID string) (circles.CircleDistribution, error) {
	return k.ledger.Distribution(ctx, userID)
}

// ValidateCircleCapacity reports one circle's fill level.
func (k *Kernel) ValidateCircleCapacity(ctx context.Context, userID string, circle circles.Circle) (capacity.Report, error) {
	return k.capacity.ValidateCircleCapacity(ctx, userID, circle)
}

// CapacityReport reports every configured circle.
func (k *Kernel) CapacityReport(ctx context.Context, userID string) ([]capacity.Report, error) {
	return k.capacity.Report(ctx, userID)
}

// SuggestRebalancing proposes moves out of crowded circles.
func (k *Kernel) SuggestRebalancing(ctx context.Context, userID string) ([]capacity.RebalanceSuggestion, error) {
	return k.advisor.SuggestCircleRebalancing(ctx, userID)
}

// ArchiveContact hides a contact from distributions and drops its cached
// suggestions.
func (k *Kernel) ArchiveContact(ctx context.Context, userID, contactID string) error {
	if err := k.stores.Contacts.Archive(ctx, userID, contactID); err != nil {
		return fmt.Errorf("failed to archive contact %s: %w", contactID, err)
	}
	k.suggestions.InvalidateContact(ctx, userID, contactID)
	k.logger.Info("Contact archived", zap.String("user_id", userID), zap.String("contact_id", contactID))
	return nil
}

// UnarchiveContact restores an archived contact.
func (k *Kernel) UnarchiveContact(ctx context.Context, userID, contactID string) error {
	if err := k.stores.Contacts.Unarchive(ctx, userID, contactID); err != nil {
		return fmt.Errorf("failed to unarchive contact %s: %w", contactID, err)
	}
	k.suggestions.InvalidateContact(ctx, userID, contactID)
	k.logger.Info("Contact unarchived", zap.String("user_id", userID), zap.String("contact_id", contactID))
	return nil
}
