package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/25x8/campus-errands/internal/errands/middleware"
	"github.com/25x8/campus-errands/internal/errands/models"
	"github.com/25x8/campus-errands/internal/errands/repository"
	"github.com/25x8/campus-errands/internal/errands/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// Handler handles all HTTP requests
type Handler struct {
	Users           repository.UserStore
	Manager         *service.Manager
	Ledger          *service.Ledger
	Badges          *service.BadgeEvaluator
	JWTSecret       string
	LeaderboardSize int
	Logger          *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(users repository.UserStore, manager *service.Manager, ledger *service.Ledger, badges *service.BadgeEvaluator, jwtSecret string, leaderboardSize int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Users:           users,
		Manager:         manager,
		Ledger:          ledger,
		Badges:          badges,
		JWTSecret:       jwtSecret,
		LeaderboardSize: leaderboardSize,
		Logger:          logger,
	}
}

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Hostel   string `json:"hostel"`
	Phone    string `json:"phone"`
}

// RegisterUser handles user registration
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "login and password are required")
		return
	}

	ctx := r.Context()
	existing, err := h.Users.GetUserByLogin(ctx, req.Login)
	if err != nil {
		h.fail(w, err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "login already taken")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, err)
		return
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Login:        req.Login,
		PasswordHash: string(hashed),
		FullName:     req.FullName,
		Hostel:       req.Hostel,
		Phone:        req.Phone,
		CreatedAt:    time.Now().UTC(),
	}
	// The store makes the first registered user an admin.
	if err := h.Users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(w, http.StatusConflict, "login already taken")
			return
		}
		h.fail(w, err)
		return
	}

	h.issueToken(w, user)
}

// LoginUser handles user login
func (h *Handler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "login and password are required")
		return
	}

	user, err := h.Users.GetUserByLogin(r.Context(), req.Login)
	if err != nil {
		h.fail(w, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.issueToken(w, user)
}

func (h *Handler) issueToken(w http.ResponseWriter, user *models.User) {
	token, err := middleware.GenerateToken(user.ID, h.JWTSecret)
	if err != nil {
		h.fail(w, err)
		return
	}
	middleware.SetAuthCookie(w, token)
	w.Header().Set("Authorization", "Bearer "+token)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

type createRequestBody struct {
	RequestType      models.RequestType   `json:"request_type"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	PickupLocation   string               `json:"pickup_location"`
	DeliveryLocation string               `json:"delivery_location"`
	IsPaid           bool                 `json:"is_paid"`
	Amount           *decimal.Decimal     `json:"amount"`
	PaymentMethod    models.PaymentMethod `json:"payment_method"`
	Urgency          models.Urgency       `json:"urgency"`
	ImageURL         string               `json:"image_url"`
	Details          json.RawMessage      `json:"details"`
}

// CreateRequest posts a new request
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if !body.RequestType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown request type")
		return
	}
	details, err := models.DecodeDetails(body.RequestType, body.Details)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.Manager.Create(r.Context(), actor, service.NewRequest{
		Type:             body.RequestType,
		Title:            body.Title,
		Description:      body.Description,
		PickupLocation:   body.PickupLocation,
		DeliveryLocation: body.DeliveryLocation,
		IsPaid:           body.IsPaid,
		Amount:           body.Amount,
		PaymentMethod:    body.PaymentMethod,
		Urgency:          body.Urgency,
		ImageURL:         body.ImageURL,
		Details:          details,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"request": req, "details": details})
}

// ListRequests returns requests matching the query filters
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := models.RequestFilter{
		Status: models.Status(q.Get("status")),
		Type:   models.RequestType(q.Get("type")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown request type")
		return
	}
	switch q.Get("mine") {
	case "":
	case "requested":
		filter.RequesterID = actor.ID
	case "helping":
		filter.HelperID = actor.ID
	default:
		writeError(w, http.StatusBadRequest, "mine must be requested or helping")
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		filter.Limit = limit
	}

	reqs, err := h.Manager.List(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	if reqs == nil {
		reqs = []models.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// GetRequest returns one request with its details
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	req, details, err := h.Manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": req, "details": details})
}

// DeleteRequest removes a request and its details
func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	if err := h.Manager.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TransitionRequest applies accept, start, complete or cancel
func (h *Handler) TransitionRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	action, ok := service.ParseAction(chi.URLParam(r, "action"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}

	result, err := h.Manager.Transition(r.Context(), actor, chi.URLParam(r, "id"), action)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RateRequest records the requester's rating of the helper
func (h *Handler) RateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body struct {
		Rating int    `json:"rating"`
		Review string `json:"review"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	result, err := h.Manager.Rate(r.Context(), actor, chi.URLParam(r, "id"), body.Rating, body.Review)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type pointsEntry struct {
	models.LedgerEntry
	Display string `json:"display"`
}

// GetPoints returns the user's total and points history
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	total, err := h.Ledger.TotalFor(ctx, actor.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	history, err := h.Ledger.History(ctx, actor.ID)
	if err != nil {
		h.fail(w, err)
		return
	}

	entries := make([]pointsEntry, 0, len(history))
	for _, e := range history {
		entries = append(entries, pointsEntry{LedgerEntry: e, Display: e.Display()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "history": entries})
}

// ListBadges returns the badge catalog
func (h *Handler) ListBadges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Badges.Catalog())
}

// GetUserBadges returns the badges held by the user
func (h *Handler) GetUserBadges(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	held, err := h.Badges.Held(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, held)
}

type leaderboardRow struct {
	Rank            int    `json:"rank"`
	UserID          string `json:"user_id"`
	FullName        string `json:"full_name"`
	Hostel          string `json:"hostel"`
	TotalPoints     int64  `json:"total_points"`
	TotalDeliveries int64  `json:"total_deliveries"`
}

// GetLeaderboard returns the top users by points. Equal points share a rank.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := h.LeaderboardSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		limit = n
	}

	users, err := h.Users.ListUsers(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}

	rows := make([]leaderboardRow, 0, len(users))
	for i, u := range users {
		rank := i + 1
		if i > 0 && u.TotalPoints == rows[i-1].TotalPoints {
			rank = rows[i-1].Rank
		}
		rows = append(rows, leaderboardRow{
			Rank:            rank,
			UserID:          u.ID,
			FullName:        u.FullName,
			Hostel:          u.Hostel,
			TotalPoints:     u.TotalPoints,
			TotalDeliveries: u.TotalDeliveries,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

// SuspendUser sets or clears a user's suspension
func (h *Handler) SuspendUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Suspended bool `json:"suspended"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Users.SetUserSuspended(r.Context(), id, body.Suspended); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.fail(w, err)
		return
	}
	h.Logger.Info("user suspension changed", "user_id", id, "suspended", body.Suspended)
	w.WriteHeader(http.StatusNoContent)
}

// GrantPoints records a manual grant or penalty
func (h *Handler) GrantPoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    string `json:"user_id"`
		Points    int64  `json:"points"`
		Reason    string `json:"reason"`
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if body.UserID == "" || body.Reason == "" || body.Points == 0 {
		writeError(w, http.StatusBadRequest, "user_id, reason and non-zero points are required")
		return
	}

	entry, err := h.Ledger.Grant(r.Context(), body.UserID, body.Points, body.Reason, body.RequestID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pointsEntry{LedgerEntry: entry, Display: entry.Display()})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return actor, ok
}

// fail maps service errors onto HTTP statuses
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrDuplicateRating):
		status = http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "error", err)
	}
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		msg = "server error"
	case http.StatusServiceUnavailable:
		msg = "store unavailable, retry later"
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
