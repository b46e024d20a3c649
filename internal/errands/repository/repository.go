package repository

import (
	"context"
	"errors"

	"github.com/25x8/campus-errands/internal/errands/models"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when a compare-and-set found a different status
	ErrStaleState = errors.New("stale state")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write
	ErrDuplicate = errors.New("duplicate")
)

// UserStore holds the user aggregate
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SetUserSuspended(ctx context.Context, id string, suspended bool) error
	// ListUsers returns users ordered by total points, highest first
	ListUsers(ctx context.Context, limit int) ([]models.User, error)
	GetUserStats(ctx context.Context, id string) (*models.UserStats, error)
}

// RequestStore holds requests and their detail payloads
type RequestStore interface {
	CreateRequest(ctx context.Context, req *models.Request, details models.Details) error
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	GetRequestDetails(ctx context.Context, id string) (models.Details, error)
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	// UpdateRequest applies upd only if the stored status equals expected,
	// and applies effects in the same atomic unit.
	UpdateRequest(ctx context.Context, id string, expected models.Status, upd models.RequestUpdate, effects models.SideEffects) error
	// DeleteRequest removes the request together with its details
	DeleteRequest(ctx context.Context, id string) error
}

// LedgerStore holds the append-only points history
type LedgerStore interface {
	AppendPoints(ctx context.Context, entry models.LedgerEntry) error
	GetUserPoints(ctx context.Context, userID string) (int64, error)
	GetPointsHistory(ctx context.Context, userID string) ([]models.LedgerEntry, error)
}

// RatingStore holds ratings
type RatingStore interface {
	// CreateRating stores rating and effects atomically. With unique set, a
	// second rating by the same rater on the same request fails with ErrDuplicate.
	CreateRating(ctx context.Context, rating *models.Rating, effects models.SideEffects, unique bool) error
	GetRequestRatings(ctx context.Context, requestID string) ([]models.Rating, error)
}

// BadgeStore holds badge grants
type BadgeStore interface {
	GetUserBadges(ctx context.Context, userID string) ([]models.UserBadge, error)
	// AwardBadge inserts the grant unless it exists and reports whether it inserted
	AwardBadge(ctx context.Context, grant models.UserBadge) (bool, error)
}

// Repository defines the interface for data access operations
type Repository interface {
	UserStore
	RequestStore
	LedgerStore
	RatingStore
	BadgeStore

	// Initialize and close
	InitDB(databaseURI string) error
	Close() error
}
