package service

import (
	"context"
	"time"

	"github.com/25x8/campus-errands/internal/errands/models"
	"github.com/25x8/campus-errands/internal/errands/repository"
	"github.com/google/uuid"
)

// Point values and reasons recorded in the ledger
const (
	PointsCompletedDelivery = 10
	PointsFiveStarBonus     = 5
	PointsFastDelivery      = 3

	ReasonCompletedDelivery = "Completed delivery"
	ReasonFiveStarBonus     = "Bonus for 5-star rating"
	ReasonFastDelivery      = "Fast delivery bonus"
)

// Ledger is the append-only record of point grants
type Ledger struct {
	store repository.LedgerStore
	now   func() time.Time
}

// NewLedger creates a ledger over store
func NewLedger(store repository.LedgerStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Entry builds a ledger entry for inclusion in SideEffects
func (l *Ledger) Entry(userID string, points int64, reason, requestID string) models.LedgerEntry {
	return models.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Points:    points,
		Reason:    reason,
		RequestID: requestID,
		CreatedAt: l.now().UTC(),
	}
}

// Grant appends one entry. Negative points record a penalty.
func (l *Ledger) Grant(ctx context.Context, userID string, points int64, reason, requestID string) (models.LedgerEntry, error) {
	entry := l.Entry(userID, points, reason, requestID)
	if err := l.store.AppendPoints(ctx, entry); err != nil {
		return models.LedgerEntry{}, storeErr("grant points", err)
	}
	return entry, nil
}

// TotalFor returns the user's running total
func (l *Ledger) TotalFor(ctx context.Context, userID string) (int64, error) {
	total, err := l.store.GetUserPoints(ctx, userID)
	if err != nil {
		return 0, storeErr("total points", err)
	}
	return total, nil
}

// History returns the user's entries, newest first
func (l *Ledger) History(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	entries, err := l.store.GetPointsHistory(ctx, userID)
	if err != nil {
		return nil, storeErr("points history", err)
	}
	return entries, nil
}
