package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/25x8/campus-errands/internal/errands/models"
	"github.com/25x8/campus-errands/internal/errands/repository"
)

// DefaultBadges is the built-in badge catalog
var DefaultBadges = []models.Badge{
	{ID: "1", Name: "First Delivery", Description: "Complete your first delivery", Icon: "package", Criteria: models.Criteria{Deliveries: 1}},
	{ID: "2", Name: "Fastest Helper", Description: "Complete 10 deliveries in under 15 minutes", Icon: "zap", Criteria: models.Criteria{FastDeliveries: 10}},
	{ID: "3", Name: "Snack Hero", Description: "Complete 25 food deliveries", Icon: "utensils", Criteria: models.Criteria{FoodDeliveries: 25}},
	{ID: "4", Name: "Night Owl", Description: "Complete 10 deliveries after 10 PM", Icon: "moon", Criteria: models.Criteria{NightDeliveries: 10}},
	{ID: "5", Name: "Weekend Warrior", Description: "Complete 15 deliveries on weekends", Icon: "calendar", Criteria: models.Criteria{WeekendDeliveries: 15}},
	{ID: "6", Name: "Top Helper", Description: "Reach the #1 spot on the leaderboard", Icon: "trophy", Criteria: models.Criteria{LeaderboardRank: 1}},
	{ID: "7", Name: "Five Star", Description: "Maintain 5-star average over 20 deliveries", Icon: "star", Criteria: models.Criteria{AvgRating: 5, MinDeliveries: 20}},
	{ID: "8", Name: "Century Club", Description: "Complete 100 deliveries", Icon: "award", Criteria: models.Criteria{Deliveries: 100}},
}

// LoadCatalog reads a badge catalog from a JSON file. An empty path yields DefaultBadges.
func LoadCatalog(path string) ([]models.Badge, error) {
	if path == "" {
		return DefaultBadges, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var badges []models.Badge
	if err := json.Unmarshal(data, &badges); err != nil {
		return nil, fmt.Errorf("parse badge catalog: %w", err)
	}
	seen := make(map[string]bool, len(badges))
	for _, b := range badges {
		if b.ID == "" || seen[b.ID] {
			return nil, fmt.Errorf("badge catalog: missing or repeated id %q", b.ID)
		}
		if b.Criteria.IsZero() {
			return nil, fmt.Errorf("badge catalog: badge %q has no criteria", b.ID)
		}
		seen[b.ID] = true
	}
	return badges, nil
}

// BadgeRepository is what the evaluator reads and writes
type BadgeRepository interface {
	repository.BadgeStore
	GetUserStats(ctx context.Context, id string) (*models.UserStats, error)
}

// BadgeEvaluator decides which catalog badges a user has newly earned
type BadgeEvaluator struct {
	catalog []models.Badge
	byID    map[string]models.Badge
	store   BadgeRepository
	now     func() time.Time
}

// NewBadgeEvaluator creates an evaluator over a fixed catalog
func NewBadgeEvaluator(catalog []models.Badge, store BadgeRepository) *BadgeEvaluator {
	byID := make(map[string]models.Badge, len(catalog))
	for _, b := range catalog {
		byID[b.ID] = b
	}
	return &BadgeEvaluator{catalog: catalog, byID: byID, store: store, now: time.Now}
}

// Catalog returns the badge catalog
func (e *BadgeEvaluator) Catalog() []models.Badge {
	out := make([]models.Badge, len(e.catalog))
	copy(out, e.catalog)
	return out
}

// HeldBadge is a grant joined with its catalog entry
type HeldBadge struct {
	models.Badge
	EarnedAt time.Time `json:"earned_at"`
}

// Held returns the user's badges. Grants for badges no longer in the catalog are skipped.
func (e *BadgeEvaluator) Held(ctx context.Context, userID string) ([]HeldBadge, error) {
	grants, err := e.store.GetUserBadges(ctx, userID)
	if err != nil {
		return nil, storeErr("user badges", err)
	}
	out := make([]HeldBadge, 0, len(grants))
	for _, g := range grants {
		if b, ok := e.byID[g.BadgeID]; ok {
			out = append(out, HeldBadge{Badge: b, EarnedAt: g.EarnedAt})
		}
	}
	return out, nil
}

// Evaluate returns ids of badges satisfied by stats that the user does not hold yet.
// It never grants.
func (e *BadgeEvaluator) Evaluate(ctx context.Context, userID string, stats models.UserStats) ([]string, error) {
	held, err := e.store.GetUserBadges(ctx, userID)
	if err != nil {
		return nil, storeErr("user badges", err)
	}
	has := make(map[string]bool, len(held))
	for _, ub := range held {
		has[ub.BadgeID] = true
	}

	var earned []string
	for _, b := range e.catalog {
		if !has[b.ID] && b.Criteria.SatisfiedBy(stats) {
			earned = append(earned, b.ID)
		}
	}
	return earned, nil
}

// Award grants badgeID to userID once. It reports whether a new grant was made.
func (e *BadgeEvaluator) Award(ctx context.Context, userID, badgeID string) (bool, error) {
	if _, ok := e.byID[badgeID]; !ok {
		return false, fmt.Errorf("badge %s: %w", badgeID, ErrNotFound)
	}
	created, err := e.store.AwardBadge(ctx, models.UserBadge{
		UserID:   userID,
		BadgeID:  badgeID,
		EarnedAt: e.now().UTC(),
	})
	if err != nil {
		return false, storeErr("award badge", err)
	}
	return created, nil
}

// Refresh loads the user's stats, evaluates and awards. It returns the badges granted by this call.
func (e *BadgeEvaluator) Refresh(ctx context.Context, userID string) ([]string, error) {
	stats, err := e.store.GetUserStats(ctx, userID)
	if err != nil {
		return nil, storeErr("user stats", err)
	}
	if stats == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	candidates, err := e.Evaluate(ctx, userID, *stats)
	if err != nil {
		return nil, err
	}
	var granted []string
	for _, id := range candidates {
		created, err := e.Award(ctx, userID, id)
		if err != nil {
			return granted, err
		}
		if created {
			granted = append(granted, id)
		}
	}
	return granted, nil
}
