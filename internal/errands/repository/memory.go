package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/25x8/campus-errands/internal/errands/models"
)

type userRecord struct {
	user              models.User
	fastDeliveries    int64
	foodDeliveries    int64
	nightDeliveries   int64
	weekendDeliveries int64
}

// MemoryRepository implements Repository in process memory. A single lock
// serializes writes, which gives compare-and-set and effect atomicity.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]*userRecord
	logins   map[string]string
	requests map[string]*models.Request
	details  map[string]models.Details
	ledger   map[string][]models.LedgerEntry
	ratings  []models.Rating
	badges   map[string]map[string]models.UserBadge
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]*userRecord),
		logins:   make(map[string]string),
		requests: make(map[string]*models.Request),
		details:  make(map[string]models.Details),
		ledger:   make(map[string][]models.LedgerEntry),
		badges:   make(map[string]map[string]models.UserBadge),
	}
}

// InitDB is a no-op for the in-memory backend
func (r *MemoryRepository) InitDB(string) error { return nil }

// Close is a no-op for the in-memory backend
func (r *MemoryRepository) Close() error { return nil }

func (r *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := r.logins[user.Login]; ok {
		return ErrDuplicate
	}
	if len(r.users) == 0 {
		user.IsAdmin = true
	}
	r.users[user.ID] = &userRecord{user: *user}
	r.logins[user.Login] = user.ID
	return nil
}

func (r *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.logins[login]
	if !ok {
		return nil, nil
	}
	u := r.users[id].user
	return &u, nil
}

func (r *MemoryRepository) GetUserByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	u := rec.user
	return &u, nil
}

func (r *MemoryRepository) SetUserSuspended(_ context.Context, id string, suspended bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	rec.user.IsSuspended = suspended
	return nil
}

func (r *MemoryRepository) ListUsers(_ context.Context, limit int) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]models.User, 0, len(r.users))
	for _, rec := range r.users {
		if rec.user.IsSuspended {
			continue
		}
		users = append(users, rec.user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].TotalPoints != users[j].TotalPoints {
			return users[i].TotalPoints > users[j].TotalPoints
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (r *MemoryRepository) GetUserStats(_ context.Context, id string) (*models.UserStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	stats := &models.UserStats{
		Deliveries:        rec.user.TotalDeliveries,
		FastDeliveries:    rec.fastDeliveries,
		FoodDeliveries:    rec.foodDeliveries,
		NightDeliveries:   rec.nightDeliveries,
		WeekendDeliveries: rec.weekendDeliveries,
	}

	var sum int64
	for _, rt := range r.ratings {
		if rt.RatedID == id {
			sum += int64(rt.Rating)
			stats.RatingCount++
		}
	}
	if stats.RatingCount > 0 {
		stats.AvgRating = float64(sum) / float64(stats.RatingCount)
	}

	if rec.user.TotalPoints > 0 && !rec.user.IsSuspended {
		rank := 1
		for _, other := range r.users {
			if !other.user.IsSuspended && other.user.TotalPoints > rec.user.TotalPoints {
				rank++
			}
		}
		stats.LeaderboardRank = rank
	}
	return stats, nil
}

func (r *MemoryRepository) CreateRequest(_ context.Context, req *models.Request, details models.Details) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[req.ID]; ok {
		return ErrDuplicate
	}
	r.requests[req.ID] = copyRequest(req)
	r.details[req.ID] = details
	return nil
}

func (r *MemoryRepository) GetRequest(_ context.Context, id string) (*models.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	return copyRequest(req), nil
}

func (r *MemoryRepository) GetRequestDetails(_ context.Context, id string) (models.Details, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Details are value types
	return r.details[id], nil
}

func (r *MemoryRepository) ListRequests(_ context.Context, filter models.RequestFilter) ([]models.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Request
	for _, req := range r.requests {
		if filter.Match(req) {
			out = append(out, *copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpdateRequest(_ context.Context, id string, expected models.Status, upd models.RequestUpdate, effects models.SideEffects) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != expected {
		return ErrStaleState
	}
	if err := r.checkEffects(effects); err != nil {
		return err
	}
	upd.Apply(req)
	r.applyEffects(effects)
	return nil
}

func (r *MemoryRepository) DeleteRequest(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[id]; !ok {
		return ErrNotFound
	}
	delete(r.requests, id)
	delete(r.details, id)
	return nil
}

func (r *MemoryRepository) AppendPoints(_ context.Context, entry models.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	effects := models.SideEffects{Grants: []models.LedgerEntry{entry}}
	if err := r.checkEffects(effects); err != nil {
		return err
	}
	r.applyEffects(effects)
	return nil
}

func (r *MemoryRepository) GetUserPoints(_ context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return rec.user.TotalPoints, nil
}

func (r *MemoryRepository) GetPointsHistory(_ context.Context, userID string) ([]models.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.ledger[userID]
	out := make([]models.LedgerEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (r *MemoryRepository) CreateRating(_ context.Context, rating *models.Rating, effects models.SideEffects, unique bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if unique {
		for _, rt := range r.ratings {
			if rt.RequestID == rating.RequestID && rt.RaterID == rating.RaterID {
				return ErrDuplicate
			}
		}
	}
	if err := r.checkEffects(effects); err != nil {
		return err
	}
	r.ratings = append(r.ratings, *rating)
	r.applyEffects(effects)
	return nil
}

func (r *MemoryRepository) GetRequestRatings(_ context.Context, requestID string) ([]models.Rating, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Rating
	for _, rt := range r.ratings {
		if rt.RequestID == requestID {
			out = append(out, rt)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetUserBadges(_ context.Context, userID string) ([]models.UserBadge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.UserBadge, 0, len(r.badges[userID]))
	for _, ub := range r.badges[userID] {
		out = append(out, ub)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EarnedAt.Before(out[j].EarnedAt)
	})
	return out, nil
}

func (r *MemoryRepository) AwardBadge(_ context.Context, grant models.UserBadge) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[grant.UserID]; !ok {
		return false, ErrNotFound
	}
	held, ok := r.badges[grant.UserID]
	if !ok {
		held = make(map[string]models.UserBadge)
		r.badges[grant.UserID] = held
	}
	if _, ok := held[grant.BadgeID]; ok {
		return false, nil
	}
	held[grant.BadgeID] = grant
	return true, nil
}

// checkEffects must run before any mutation so a failing effect leaves state untouched
func (r *MemoryRepository) checkEffects(effects models.SideEffects) error {
	for _, g := range effects.Grants {
		if _, ok := r.users[g.UserID]; !ok {
			return ErrNotFound
		}
	}
	for _, c := range effects.Credits {
		if _, ok := r.users[c.UserID]; !ok {
			return ErrNotFound
		}
	}
	return nil
}

func (r *MemoryRepository) applyEffects(effects models.SideEffects) {
	for _, g := range effects.Grants {
		r.ledger[g.UserID] = append(r.ledger[g.UserID], g)
		r.users[g.UserID].user.TotalPoints += g.Points
	}
	for _, c := range effects.Credits {
		rec := r.users[c.UserID]
		rec.user.TotalDeliveries++
		rec.fastDeliveries += b2i(c.Fast)
		rec.foodDeliveries += b2i(c.Food)
		rec.nightDeliveries += b2i(c.Night)
		rec.weekendDeliveries += b2i(c.Weekend)
	}
}

func copyRequest(req *models.Request) *models.Request {
	cp := *req
	if req.Amount != nil {
		a := *req.Amount
		cp.Amount = &a
	}
	if req.AcceptedAt != nil {
		t := *req.AcceptedAt
		cp.AcceptedAt = &t
	}
	if req.CompletedAt != nil {
		t := *req.CompletedAt
		cp.CompletedAt = &t
	}
	if req.CancelledAt != nil {
		t := *req.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
