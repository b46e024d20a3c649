package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered campus user
type User struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	PasswordHash    string    `json:"-"`
	FullName        string    `json:"full_name"`
	Hostel          string    `json:"hostel"`
	Phone           string    `json:"phone,omitempty"`
	TotalPoints     int64     `json:"total_points"`
	TotalDeliveries int64     `json:"total_deliveries"`
	IsAdmin         bool      `json:"is_admin"`
	IsSuspended     bool      `json:"is_suspended"`
	CreatedAt       time.Time `json:"created_at"`
}

// RequestType selects which detail payload accompanies a request
type RequestType string

const (
	TypeFoodDelivery RequestType = "food_delivery"
	TypeParcelPickup RequestType = "parcel_pickup"
	TypeMartPickup   RequestType = "mart_pickup"
)

// Valid reports whether t is a known request type
func (t RequestType) Valid() bool {
	switch t {
	case TypeFoodDelivery, TypeParcelPickup, TypeMartPickup:
		return true
	}
	return false
}

// Status is the lifecycle state of a request
type Status string

// Request statuses
const (
	StatusOpen       Status = "open"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition leaves s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) Valid() bool {
	return u == UrgencyLow || u == UrgencyMedium || u == UrgencyHigh
}

type PaymentMethod string

const (
	PaymentUPI            PaymentMethod = "upi"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentUPI || m == PaymentCashOnDelivery
}

// Request is a unit of work posted by a requester and fulfilled by a helper
type Request struct {
	ID               string           `json:"id"`
	RequesterID      string           `json:"requester_id"`
	HelperID         string           `json:"helper_id,omitempty"`
	Type             RequestType      `json:"request_type"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	PickupLocation   string           `json:"pickup_location"`
	DeliveryLocation string           `json:"delivery_location"`
	IsPaid           bool             `json:"is_paid"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	PaymentMethod    PaymentMethod    `json:"payment_method,omitempty"`
	Urgency          Urgency          `json:"urgency"`
	Status           Status           `json:"status"`
	ImageURL         string           `json:"image_url,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	AcceptedAt       *time.Time       `json:"accepted_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
}

// RequestFilter narrows ListRequests. Zero fields do not filter.
type RequestFilter struct {
	Status      Status
	Type        RequestType
	RequesterID string
	HelperID    string
	Limit       int
}

// Match reports whether r passes the filter
func (f RequestFilter) Match(r *Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if f.HelperID != "" && r.HelperID != f.HelperID {
		return false
	}
	return true
}

// RequestUpdate is the set of fields a lifecycle transition writes.
// Nil pointers leave the stored value untouched.
type RequestUpdate struct {
	Status      Status
	HelperID    *string
	AcceptedAt  *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// Apply writes u onto r
func (u RequestUpdate) Apply(r *Request) {
	r.Status = u.Status
	if u.HelperID != nil {
		r.HelperID = *u.HelperID
	}
	if u.AcceptedAt != nil {
		t := *u.AcceptedAt
		r.AcceptedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		r.CompletedAt = &t
	}
	if u.CancelledAt != nil {
		t := *u.CancelledAt
		r.CancelledAt = &t
	}
}

// LedgerEntry is one append-only point grant
type LedgerEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Points    int64     `json:"points"`
	Reason    string    `json:"reason"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Display renders the signed point value, so penalties read differently from grants
func (e LedgerEntry) Display() string {
	if e.Points >= 0 {
		return "+" + strconv.FormatInt(e.Points, 10)
	}
	return strconv.FormatInt(e.Points, 10)
}

// DeliveryCredit asks the user aggregate to record one finished delivery
type DeliveryCredit struct {
	UserID  string
	Food    bool
	Fast    bool
	Night   bool
	Weekend bool
}

// SideEffects are applied by the store in the same atomic unit as the
// write that emitted them.
type SideEffects struct {
	Grants  []LedgerEntry
	Credits []DeliveryCredit
}

// Empty reports whether there is nothing to apply
func (s SideEffects) Empty() bool {
	return len(s.Grants) == 0 && len(s.Credits) == 0
}

// Rating is the requester's review of a helper on a completed request
type Rating struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	RaterID   string    `json:"rater_id"`
	RatedID   string    `json:"rated_id"`
	Rating    int       `json:"rating"`
	Review    string    `json:"review,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserBadge records that a user holds a badge
type UserBadge struct {
	UserID   string    `json:"user_id"`
	BadgeID  string    `json:"badge_id"`
	EarnedAt time.Time `json:"earned_at"`
}

// UserStats are the aggregates badge criteria are evaluated against
type UserStats struct {
	Deliveries        int64   `json:"deliveries"`
	FastDeliveries    int64   `json:"fast_deliveries"`
	FoodDeliveries    int64   `json:"food_deliveries"`
	NightDeliveries   int64   `json:"night_deliveries"`
	WeekendDeliveries int64   `json:"weekend_deliveries"`
	AvgRating         float64 `json:"avg_rating"`
	RatingCount       int64   `json:"rating_count"`
	LeaderboardRank   int     `json:"leaderboard_rank"`
}

// Role of an authenticated actor, resolved by the session layer
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the trusted identity performing an operation
type Actor struct {
	ID        string
	Role      Role
	Suspended bool
}

// IsAdmin reports whether the actor holds the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// EventType names a lifecycle event delivered to observers
type EventType string

const (
	EventStatusChanged EventType = "request.status_changed"
	EventPointsGranted EventType = "points.granted"
	EventBadgeEarned   EventType = "badge.earned"
)

// Event describes something observers may render
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Points    int64     `json:"points,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	BadgeID   string    `json:"badge_id,omitempty"`
	At        time.Time `json:"at"`
}
