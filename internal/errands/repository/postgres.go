package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/25x8/campus-errands/internal/errands/models"
	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// userBootstrapLock is the advisory lock key taken while registering users.
const userBootstrapLock = 7301

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// InitDB initializes the database connection and schema
func (r *PostgresRepository) InitDB(databaseURI string) error {
	db, err := sql.Open("pgx", databaseURI)
	if err != nil {
		return err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	r.db = db

	if err := r.createTables(); err != nil {
		db.Close()
		return err
	}

	return nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		login VARCHAR(255) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		hostel TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		total_points BIGINT NOT NULL DEFAULT 0,
		total_deliveries BIGINT NOT NULL DEFAULT 0,
		fast_deliveries BIGINT NOT NULL DEFAULT 0,
		food_deliveries BIGINT NOT NULL DEFAULT 0,
		night_deliveries BIGINT NOT NULL DEFAULT 0,
		weekend_deliveries BIGINT NOT NULL DEFAULT 0,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		is_suspended BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL REFERENCES users(id),
		helper_id TEXT REFERENCES users(id),
		request_type VARCHAR(32) NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		pickup_location TEXT NOT NULL DEFAULT '',
		delivery_location TEXT NOT NULL DEFAULT '',
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		amount NUMERIC(10, 2),
		payment_method VARCHAR(32),
		urgency VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		accepted_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)`,
	`CREATE TABLE IF NOT EXISTS request_details (
		request_id TEXT PRIMARY KEY REFERENCES requests(id) ON DELETE CASCADE,
		request_type VARCHAR(32) NOT NULL,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS points_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		points BIGINT NOT NULL,
		reason TEXT NOT NULL,
		request_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_points_history_user ON points_history(user_id)`,
	`CREATE TABLE IF NOT EXISTS ratings (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		rater_id TEXT NOT NULL REFERENCES users(id),
		rated_id TEXT NOT NULL REFERENCES users(id),
		rating SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
		review TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ratings_request ON ratings(request_id, rater_id)`,
	`CREATE TABLE IF NOT EXISTS user_badges (
		user_id TEXT NOT NULL REFERENCES users(id),
		badge_id TEXT NOT NULL,
		earned_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, badge_id)
	)`,
}

// createTables creates the necessary tables if they don't exist
func (r *PostgresRepository) createTables() error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// User repository methods

const userColumns = `id, login, password_hash, full_name, hostel, phone, total_points,
	total_deliveries, is_admin, is_suspended, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.FullName, &u.Hostel, &u.Phone,
		&u.TotalPoints, &u.TotalDeliveries, &u.IsAdmin, &u.IsSuspended, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Serializes registrations so only the first user becomes admin.
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", userBootstrapLock); err != nil {
		return err
	}
	err = tx.QueryRowContext(
		ctx,
		`INSERT INTO users (id, login, password_hash, full_name, hostel, phone, is_admin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7 OR NOT EXISTS (SELECT 1 FROM users), $8)
		 RETURNING is_admin`,
		user.ID, user.Login, user.PasswordHash, user.FullName, user.Hostel, user.Phone, user.IsAdmin, user.CreatedAt,
	).Scan(&user.IsAdmin)
	if err != nil {
		return translate(err)
	}
	return tx.Commit()
}

func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE login = $1", login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r *PostgresRepository) SetUserSuspended(ctx context.Context, id string, suspended bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET is_suspended = $1 WHERE id = $2", suspended, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *PostgresRepository) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE NOT is_suspended ORDER BY total_points DESC, created_at ASC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) GetUserStats(ctx context.Context, id string) (*models.UserStats, error) {
	stats := &models.UserStats{}
	var (
		points    int64
		suspended bool
	)
	err := r.db.QueryRowContext(
		ctx,
		`SELECT total_points, is_suspended, total_deliveries, fast_deliveries, food_deliveries,
		        night_deliveries, weekend_deliveries
		 FROM users WHERE id = $1`,
		id,
	).Scan(&points, &suspended, &stats.Deliveries, &stats.FastDeliveries, &stats.FoodDeliveries,
		&stats.NightDeliveries, &stats.WeekendDeliveries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	err = r.db.QueryRowContext(
		ctx,
		"SELECT COUNT(*), COALESCE(AVG(rating), 0)::float8 FROM ratings WHERE rated_id = $1",
		id,
	).Scan(&stats.RatingCount, &stats.AvgRating)
	if err != nil {
		return nil, err
	}

	if points > 0 && !suspended {
		err = r.db.QueryRowContext(
			ctx,
			"SELECT COUNT(*) + 1 FROM users WHERE total_points > $1 AND NOT is_suspended",
			points,
		).Scan(&stats.LeaderboardRank)
		if err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// Request repository methods

const requestColumns = `id, requester_id, helper_id, request_type, title, description,
	pickup_location, delivery_location, is_paid, amount, payment_method, urgency, status,
	image_url, created_at, accepted_at, completed_at, cancelled_at`

func scanRequest(row interface{ Scan(...any) error }) (*models.Request, error) {
	var (
		req                             models.Request
		helperID, method                sql.NullString
		amount                          decimal.NullDecimal
		acceptedAt, completedAt, cancAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.RequesterID, &helperID, &req.Type, &req.Title, &req.Description,
		&req.PickupLocation, &req.DeliveryLocation, &req.IsPaid, &amount, &method, &req.Urgency,
		&req.Status, &req.ImageURL, &req.CreatedAt, &acceptedAt, &completedAt, &cancAt)
	if err != nil {
		return nil, err
	}
	req.HelperID = helperID.String
	req.PaymentMethod = models.PaymentMethod(method.String)
	if amount.Valid {
		a := amount.Decimal
		req.Amount = &a
	}
	req.AcceptedAt = timePtr(acceptedAt)
	req.CompletedAt = timePtr(completedAt)
	req.CancelledAt = timePtr(cancAt)
	return &req, nil
}

func (r *PostgresRepository) CreateRequest(ctx context.Context, req *models.Request, details models.Details) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var amount decimal.NullDecimal
	if req.Amount != nil {
		amount = decimal.NewNullDecimal(*req.Amount)
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO requests (id, requester_id, helper_id, request_type, title, description,
			pickup_location, delivery_location, is_paid, amount, payment_method, urgency, status,
			image_url, created_at)
		 VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		req.ID, req.RequesterID, req.Type, req.Title, req.Description, req.PickupLocation,
		req.DeliveryLocation, req.IsPaid, amount, nullString(string(req.PaymentMethod)),
		req.Urgency, req.Status, req.ImageURL, req.CreatedAt,
	)
	if err != nil {
		return translate(err)
	}

	_, err = tx.ExecContext(
		ctx,
		"INSERT INTO request_details (request_id, request_type, payload) VALUES ($1, $2, $3)",
		req.ID, details.Type(), string(payload),
	)
	if err != nil {
		return translate(err)
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM requests WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (r *PostgresRepository) GetRequestDetails(ctx context.Context, id string) (models.Details, error) {
	var (
		t       models.RequestType
		payload []byte
	)
	err := r.db.QueryRowContext(
		ctx,
		"SELECT request_type, payload FROM request_details WHERE request_id = $1",
		id,
	).Scan(&t, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return models.DecodeDetails(t, payload)
}

func (r *PostgresRepository) ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		add("request_type = $%d", filter.Type)
	}
	if filter.RequesterID != "" {
		add("requester_id = $%d", filter.RequesterID)
	}
	if filter.HelperID != "" {
		add("helper_id = $%d", filter.HelperID)
	}

	query := "SELECT " + requestColumns + " FROM requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateRequest(ctx context.Context, id string, expected models.Status, upd models.RequestUpdate, effects models.SideEffects) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE requests SET
			status = $1,
			helper_id = COALESCE($2, helper_id),
			accepted_at = COALESCE($3, accepted_at),
			completed_at = COALESCE($4, completed_at),
			cancelled_at = COALESCE($5, cancelled_at)
		 WHERE id = $6 AND status = $7`,
		upd.Status, nullStringPtr(upd.HelperID), nullTimePtr(upd.AcceptedAt),
		nullTimePtr(upd.CompletedAt), nullTimePtr(upd.CancelledAt), id, expected,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)", id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleState
	}

	if err := applyEffects(ctx, tx, effects); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) DeleteRequest(ctx context.Context, id string) error {
	// request_details rows go with the request through ON DELETE CASCADE
	res, err := r.db.ExecContext(ctx, "DELETE FROM requests WHERE id = $1", id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Ledger repository methods

func (r *PostgresRepository) AppendPoints(ctx context.Context, entry models.LedgerEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyEffects(ctx, tx, models.SideEffects{Grants: []models.LedgerEntry{entry}}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) GetUserPoints(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT total_points FROM users WHERE id = $1", userID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return total, err
}

func (r *PostgresRepository) GetPointsHistory(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, user_id, points, reason, request_id, created_at
		 FROM points_history
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			e         models.LedgerEntry
			requestID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Points, &e.Reason, &requestID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RequestID = requestID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Rating repository methods

func (r *PostgresRepository) CreateRating(ctx context.Context, rating *models.Rating, effects models.SideEffects, unique bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Locking the request row serializes ratings on the same request
	var locked string
	err = tx.QueryRowContext(ctx, "SELECT id FROM requests WHERE id = $1 FOR UPDATE", rating.RequestID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if unique {
		var exists bool
		err := tx.QueryRowContext(
			ctx,
			"SELECT EXISTS (SELECT 1 FROM ratings WHERE request_id = $1 AND rater_id = $2)",
			rating.RequestID, rating.RaterID,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicate
		}
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO ratings (id, request_id, rater_id, rated_id, rating, review, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rating.ID, rating.RequestID, rating.RaterID, rating.RatedID, rating.Rating, rating.Review, rating.CreatedAt,
	)
	if err != nil {
		return translate(err)
	}

	if err := applyEffects(ctx, tx, effects); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) GetRequestRatings(ctx context.Context, requestID string) ([]models.Rating, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, request_id, rater_id, rated_id, rating, review, created_at
		 FROM ratings WHERE request_id = $1 ORDER BY created_at ASC`,
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Rating
	for rows.Next() {
		var rt models.Rating
		if err := rows.Scan(&rt.ID, &rt.RequestID, &rt.RaterID, &rt.RatedID, &rt.Rating, &rt.Review, &rt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// Badge repository methods

func (r *PostgresRepository) GetUserBadges(ctx context.Context, userID string) ([]models.UserBadge, error) {
	rows, err := r.db.QueryContext(
		ctx,
		"SELECT user_id, badge_id, earned_at FROM user_badges WHERE user_id = $1 ORDER BY earned_at ASC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserBadge
	for rows.Next() {
		var ub models.UserBadge
		if err := rows.Scan(&ub.UserID, &ub.BadgeID, &ub.EarnedAt); err != nil {
			return nil, err
		}
		out = append(out, ub)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AwardBadge(ctx context.Context, grant models.UserBadge) (bool, error) {
	res, err := r.db.ExecContext(
		ctx,
		`INSERT INTO user_badges (user_id, badge_id, earned_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, badge_id) DO NOTHING`,
		grant.UserID, grant.BadgeID, grant.EarnedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, ErrNotFound
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// applyEffects writes ledger entries and delivery credits inside tx
func applyEffects(ctx context.Context, tx *sql.Tx, effects models.SideEffects) error {
	for _, g := range effects.Grants {
		res, err := tx.ExecContext(
			ctx,
			"UPDATE users SET total_points = total_points + $1 WHERE id = $2",
			g.Points, g.UserID,
		)
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return err
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO points_history (id, user_id, points, reason, request_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			g.ID, g.UserID, g.Points, g.Reason, nullString(g.RequestID), g.CreatedAt,
		)
		if err != nil {
			return translate(err)
		}
	}
	for _, c := range effects.Credits {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE users SET
				total_deliveries = total_deliveries + 1,
				fast_deliveries = fast_deliveries + $1,
				food_deliveries = food_deliveries + $2,
				night_deliveries = night_deliveries + $3,
				weekend_deliveries = weekend_deliveries + $4
			 WHERE id = $5`,
			b2i(c.Fast), b2i(c.Food), b2i(c.Night), b2i(c.Weekend), c.UserID,
		)
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return err
		}
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
