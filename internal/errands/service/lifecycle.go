package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/25x8/campus-errands/internal/errands/models"
	"github.com/25x8/campus-errands/internal/errands/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is a requested lifecycle transition
type Action string

const (
	ActionAccept   Action = "accept"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"

	// actionRate names the rating sub-flow in errors only
	actionRate Action = "rate"
)

type transition struct {
	from []models.Status
	to   models.Status
}

// There is no cancel from in_progress.
var transitions = map[Action]transition{
	ActionAccept:   {from: []models.Status{models.StatusOpen}, to: models.StatusAccepted},
	ActionStart:    {from: []models.Status{models.StatusAccepted}, to: models.StatusInProgress},
	ActionComplete: {from: []models.Status{models.StatusInProgress}, to: models.StatusCompleted},
	ActionCancel:   {from: []models.Status{models.StatusOpen, models.StatusAccepted}, to: models.StatusCancelled},
}

// ParseAction maps a string onto a known action
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	_, ok := transitions[a]
	return a, ok
}

func (t transition) allows(s models.Status) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

// Policy holds the tunable lifecycle rules
type Policy struct {
	// HelperMayCancel lets the assigned helper cancel an accepted request
	HelperMayCancel bool
	// AllowRepeatRatings disables the one-rating-per-rater-per-request rule
	AllowRepeatRatings bool
	// FastDelivery is the accept-to-complete window that counts as fast
	FastDelivery time.Duration
	// Location is the campus time zone for night and weekend detection
	Location *time.Location
}

// DefaultPolicy returns the standard rules
func DefaultPolicy() Policy {
	return Policy{
		HelperMayCancel: true,
		FastDelivery:    15 * time.Minute,
		Location:        time.UTC,
	}
}

// Notifier receives lifecycle events after they are committed
type Notifier interface {
	Notify(ctx context.Context, events []models.Event) error
}

// NopNotifier drops events
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, []models.Event) error { return nil }

// Store is the persistence surface the manager needs
type Store interface {
	repository.UserStore
	repository.RequestStore
	repository.RatingStore
}

// Manager runs the request state machine and triggers its reward side effects.
// It holds no per-request state; concurrent callers rely on the store's
// compare-and-set.
type Manager struct {
	store    Store
	ledger   *Ledger
	badges   *BadgeEvaluator
	notifier Notifier
	policy   Policy
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a lifecycle manager
func NewManager(store Store, ledger *Ledger, badges *BadgeEvaluator, notifier Notifier, policy Policy, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	return &Manager{
		store:    store,
		ledger:   ledger,
		badges:   badges,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// TransitionResult is what a successful transition returns to the caller
type TransitionResult struct {
	Request *models.Request `json:"request"`
	Events  []models.Event  `json:"events"`
	Badges  []string        `json:"badges,omitempty"`
}

// Transition applies action to the request on behalf of actor
func (m *Manager) Transition(ctx context.Context, actor models.Actor, requestID string, action Action) (*TransitionResult, error) {
	tr, ok := transitions[action]
	if !ok {
		return nil, reject(requestID, action, ErrInvalidTransition, "unknown action")
	}

	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, storeErr("get request", err)
	}
	if req == nil {
		return nil, reject(requestID, action, ErrNotFound, "no such request")
	}
	if !tr.allows(req.Status) {
		return nil, reject(requestID, action, ErrInvalidTransition, "not allowed from %s", req.Status)
	}
	if err := m.authorize(actor, req, action); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	upd := models.RequestUpdate{Status: tr.to}
	var effects models.SideEffects

	switch action {
	case ActionAccept:
		helperID := actor.ID
		upd.HelperID = &helperID
		upd.AcceptedAt = &now
	case ActionComplete:
		upd.CompletedAt = &now
		effects = m.completionEffects(req, now)
	case ActionCancel:
		upd.CancelledAt = &now
	}

	err = m.store.UpdateRequest(ctx, requestID, req.Status, upd, effects)
	switch {
	case errors.Is(err, repository.ErrStaleState):
		return nil, reject(requestID, action, ErrInvalidTransition, "request changed state concurrently")
	case errors.Is(err, repository.ErrNotFound):
		return nil, reject(requestID, action, ErrNotFound, "request or user vanished")
	case err != nil:
		return nil, storeErr("update request", err)
	}

	from := req.Status
	upd.Apply(req)
	m.logger.Info("request transitioned",
		"request_id", requestID,
		"action", action,
		"actor", actor.ID,
		"from", from,
		"to", req.Status,
	)

	result := &TransitionResult{Request: req}
	result.Events = append(result.Events, models.Event{
		Type:      models.EventStatusChanged,
		RequestID: requestID,
		UserID:    actor.ID,
		Status:    req.Status,
		At:        now,
	})
	result.Events = append(result.Events, grantEvents(effects.Grants)...)

	if action == ActionComplete && req.HelperID != "" {
		result.Badges = m.refreshBadges(ctx, req.HelperID)
		result.Events = append(result.Events, badgeEvents(req.HelperID, result.Badges, now)...)
	}

	m.notify(ctx, result.Events)
	return result, nil
}

func (m *Manager) authorize(actor models.Actor, req *models.Request, action Action) error {
	switch action {
	case ActionAccept:
		if actor.ID == req.RequesterID {
			return reject(req.ID, action, ErrForbidden, "requester cannot accept own request")
		}
		if actor.Suspended {
			return reject(req.ID, action, ErrForbidden, "suspended users cannot accept requests")
		}
		if req.HelperID != "" {
			return reject(req.ID, action, ErrInvalidTransition, "request already has a helper")
		}
	case ActionStart:
		if actor.ID != req.HelperID {
			return reject(req.ID, action, ErrForbidden, "only the assigned helper can start")
		}
	case ActionComplete:
		if actor.ID != req.RequesterID {
			return reject(req.ID, action, ErrForbidden, "only the requester can complete")
		}
	case ActionCancel:
		switch {
		case actor.ID == req.RequesterID, actor.IsAdmin():
		case actor.ID == req.HelperID && req.Status == models.StatusAccepted && m.policy.HelperMayCancel:
		default:
			return reject(req.ID, action, ErrForbidden, "not allowed to cancel this request")
		}
	}
	return nil
}

func (m *Manager) completionEffects(req *models.Request, now time.Time) models.SideEffects {
	if req.HelperID == "" {
		return models.SideEffects{}
	}

	local := now.In(m.policy.Location)
	credit := models.DeliveryCredit{
		UserID:  req.HelperID,
		Food:    req.Type == models.TypeFoodDelivery,
		Night:   local.Hour() >= 22 || local.Hour() < 5,
		Weekend: local.Weekday() == time.Saturday || local.Weekday() == time.Sunday,
	}
	if req.AcceptedAt != nil && m.policy.FastDelivery > 0 && now.Sub(*req.AcceptedAt) < m.policy.FastDelivery {
		credit.Fast = true
	}

	effects := models.SideEffects{
		Grants:  []models.LedgerEntry{m.ledger.Entry(req.HelperID, PointsCompletedDelivery, ReasonCompletedDelivery, req.ID)},
		Credits: []models.DeliveryCredit{credit},
	}
	if credit.Fast {
		effects.Grants = append(effects.Grants, m.ledger.Entry(req.HelperID, PointsFastDelivery, ReasonFastDelivery, req.ID))
	}
	return effects
}

// refreshBadges runs after commit. Failures are logged and do not undo the write.
func (m *Manager) refreshBadges(ctx context.Context, userID string) []string {
	if m.badges == nil {
		return nil
	}
	granted, err := m.badges.Refresh(ctx, userID)
	if err != nil {
		m.logger.Error("badge refresh failed", "user_id", userID, "error", err)
	}
	return granted
}

func (m *Manager) notify(ctx context.Context, events []models.Event) {
	if len(events) == 0 {
		return
	}
	if err := m.notifier.Notify(ctx, events); err != nil {
		m.logger.Warn("event notification failed", "events", len(events), "error", err)
	}
}

// NewRequest is the caller-supplied part of a request
type NewRequest struct {
	Type             models.RequestType
	Title            string
	Description      string
	PickupLocation   string
	DeliveryLocation string
	IsPaid           bool
	Amount           *decimal.Decimal
	PaymentMethod    models.PaymentMethod
	Urgency          models.Urgency
	ImageURL         string
	Details          models.Details
}

// maxAmount is the largest value the amount column can hold.
var maxAmount = decimal.RequireFromString("99999999.99")

func (n *NewRequest) validate() error {
	if !n.Type.Valid() {
		return invalidInput("unknown request type %q", n.Type)
	}
	if strings.TrimSpace(n.Title) == "" {
		return invalidInput("title is required")
	}
	if n.Urgency == "" {
		n.Urgency = models.UrgencyMedium
	}
	if !n.Urgency.Valid() {
		return invalidInput("unknown urgency %q", n.Urgency)
	}
	if n.IsPaid {
		if n.Amount == nil || !n.Amount.IsPositive() {
			return invalidInput("paid requests need a positive amount")
		}
		if !n.Amount.Equal(n.Amount.Round(2)) {
			return invalidInput("amount has more than two decimal places")
		}
		if n.Amount.GreaterThan(maxAmount) {
			return invalidInput("amount exceeds %s", maxAmount)
		}
		if !n.PaymentMethod.Valid() {
			return invalidInput("unknown payment method %q", n.PaymentMethod)
		}
	} else if n.Amount != nil || n.PaymentMethod != "" {
		return invalidInput("unpaid requests carry no amount or payment method")
	}
	if n.Details == nil {
		return invalidInput("details are required")
	}
	if n.Details.Type() != n.Type {
		return invalidInput("%s details do not match request type %s", n.Details.Type(), n.Type)
	}
	if err := n.Details.Validate(); err != nil {
		return invalidInput("%v", err)
	}
	return nil
}

// Create stores a new open request with its details
func (m *Manager) Create(ctx context.Context, actor models.Actor, in NewRequest) (*models.Request, error) {
	if actor.Suspended {
		return nil, ErrForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	req := &models.Request{
		ID:               uuid.NewString(),
		RequesterID:      actor.ID,
		Type:             in.Type,
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		PickupLocation:   in.PickupLocation,
		DeliveryLocation: in.DeliveryLocation,
		IsPaid:           in.IsPaid,
		Amount:           in.Amount,
		PaymentMethod:    in.PaymentMethod,
		Urgency:          in.Urgency,
		Status:           models.StatusOpen,
		ImageURL:         in.ImageURL,
		CreatedAt:        m.now().UTC(),
	}
	if err := m.store.CreateRequest(ctx, req, in.Details); err != nil {
		return nil, storeErr("create request", err)
	}

	m.logger.Info("request created", "request_id", req.ID, "requester", actor.ID, "type", req.Type)
	m.notify(ctx, []models.Event{{
		Type:      models.EventStatusChanged,
		RequestID: req.ID,
		UserID:    actor.ID,
		Status:    req.Status,
		At:        req.CreatedAt,
	}})
	return req, nil
}

// Get returns the request and its details
func (m *Manager) Get(ctx context.Context, requestID string) (*models.Request, models.Details, error) {
	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, storeErr("get request", err)
	}
	if req == nil {
		return nil, nil, reject(requestID, "", ErrNotFound, "no such request")
	}
	details, err := m.store.GetRequestDetails(ctx, requestID)
	if err != nil {
		return nil, nil, storeErr("get request details", err)
	}
	return req, details, nil
}

// List returns requests matching filter, newest first
func (m *Manager) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	reqs, err := m.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, storeErr("list requests", err)
	}
	return reqs, nil
}

// Delete removes a request and its details. Requesters may delete their own
// open or cancelled requests; admins may delete anything not in flight.
func (m *Manager) Delete(ctx context.Context, actor models.Actor, requestID string) error {
	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		return storeErr("get request", err)
	}
	if req == nil {
		return reject(requestID, "", ErrNotFound, "no such request")
	}

	inFlight := req.Status == models.StatusAccepted || req.Status == models.StatusInProgress
	switch {
	case inFlight:
		return reject(requestID, "", ErrInvalidTransition, "cannot delete a %s request", req.Status)
	case actor.IsAdmin():
	case actor.ID != req.RequesterID:
		return reject(requestID, "", ErrForbidden, "only the requester can delete")
	case req.Status == models.StatusCompleted:
		return reject(requestID, "", ErrForbidden, "completed requests can only be deleted by an admin")
	}

	if err := m.store.DeleteRequest(ctx, requestID); err != nil {
		return storeErr("delete request", err)
	}
	m.logger.Info("request deleted", "request_id", requestID, "actor", actor.ID)
	return nil
}

// RateResult is what a successful rating returns
type RateResult struct {
	Rating *models.Rating `json:"rating"`
	Events []models.Event `json:"events"`
	Badges []string       `json:"badges,omitempty"`
}

// Rate records the requester's rating of the helper on a completed request.
// A 5-star rating grants the helper a bonus in the same atomic write.
func (m *Manager) Rate(ctx context.Context, actor models.Actor, requestID string, value int, review string) (*RateResult, error) {
	if value < 1 || value > 5 {
		return nil, invalidInput("rating must be between 1 and 5")
	}

	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, storeErr("get request", err)
	}
	if req == nil {
		return nil, reject(requestID, actionRate, ErrNotFound, "no such request")
	}
	if req.Status != models.StatusCompleted || req.HelperID == "" {
		return nil, reject(requestID, actionRate, ErrInvalidTransition, "only completed requests can be rated")
	}
	if actor.ID != req.RequesterID {
		return nil, reject(requestID, actionRate, ErrForbidden, "only the requester can rate the helper")
	}

	now := m.now().UTC()
	rating := &models.Rating{
		ID:        uuid.NewString(),
		RequestID: requestID,
		RaterID:   actor.ID,
		RatedID:   req.HelperID,
		Rating:    value,
		Review:    strings.TrimSpace(review),
		CreatedAt: now,
	}
	var effects models.SideEffects
	if value == 5 {
		effects.Grants = []models.LedgerEntry{m.ledger.Entry(req.HelperID, PointsFiveStarBonus, ReasonFiveStarBonus, requestID)}
	}

	err = m.store.CreateRating(ctx, rating, effects, !m.policy.AllowRepeatRatings)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return nil, reject(requestID, actionRate, ErrDuplicateRating, "rater %s already rated", actor.ID)
	case err != nil:
		return nil, storeErr("create rating", err)
	}
	m.logger.Info("request rated", "request_id", requestID, "rater", actor.ID, "rating", value)

	result := &RateResult{Rating: rating, Events: grantEvents(effects.Grants)}
	result.Badges = m.refreshBadges(ctx, req.HelperID)
	result.Events = append(result.Events, badgeEvents(req.HelperID, result.Badges, now)...)
	m.notify(ctx, result.Events)
	return result, nil
}

func grantEvents(grants []models.LedgerEntry) []models.Event {
	events := make([]models.Event, 0, len(grants))
	for _, g := range grants {
		events = append(events, models.Event{
			Type:      models.EventPointsGranted,
			RequestID: g.RequestID,
			UserID:    g.UserID,
			Points:    g.Points,
			Reason:    g.Reason,
			At:        g.CreatedAt,
		})
	}
	return events
}

func badgeEvents(userID string, badgeIDs []string, at time.Time) []models.Event {
	events := make([]models.Event, 0, len(badgeIDs))
	for _, id := range badgeIDs {
		events = append(events, models.Event{
			Type:    models.EventBadgeEarned,
			UserID:  userID,
			BadgeID: id,
			At:      at,
		})
	}
	return events
}
