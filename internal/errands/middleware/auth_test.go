package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/25x8/campus-errands/internal/errands/models"
	"github.com/golang-jwt/jwt/v4"
)

type stubUsers struct {
	users map[string]*models.User
	err   error
}

func (s stubUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.users[id], nil
}

func protected(cfg *JWTConfig) (http.Handler, *models.Actor) {
	var seen models.Actor
	h := AuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetActor(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, &seen
}

func TestAuthMiddleware(t *testing.T) {
	users := stubUsers{users: map[string]*models.User{
		"u1": {ID: "u1"},
		"a1": {ID: "a1", IsAdmin: true, IsSuspended: true},
	}}
	cfg := &JWTConfig{SecretKey: "secret", Users: users}

	valid, _ := GenerateToken("u1", "secret")
	admin, _ := GenerateToken("a1", "secret")
	foreign, _ := GenerateToken("u1", "other-secret")
	unknown, _ := GenerateToken("ghost", "secret")
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}).SignedString([]byte("secret"))

	tests := []struct {
		name      string
		header    string
		cookie    string
		want      int
		wantActor models.Actor
	}{
		{"bearer", "Bearer " + valid, "", http.StatusOK, models.Actor{ID: "u1", Role: models.RoleUser}},
		{"cookie", "", valid, http.StatusOK, models.Actor{ID: "u1", Role: models.RoleUser}},
		{"role from store", "Bearer " + admin, "", http.StatusOK, models.Actor{ID: "a1", Role: models.RoleAdmin, Suspended: true}},
		{"missing", "", "", http.StatusUnauthorized, models.Actor{}},
		{"wrong secret", "Bearer " + foreign, "", http.StatusUnauthorized, models.Actor{}},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, models.Actor{}},
		{"deleted user", "Bearer " + unknown, "", http.StatusUnauthorized, models.Actor{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, seen := protected(cfg)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: authCookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if *seen != tt.wantActor {
				t.Fatalf("actor = %+v, want %+v", *seen, tt.wantActor)
			}
		})
	}
}

func TestAuthMiddlewareStoreDown(t *testing.T) {
	token, _ := GenerateToken("u1", "secret")
	h, _ := protected(&JWTConfig{SecretKey: "secret", Users: stubUsers{err: errors.New("db down")}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	tests := []struct {
		name  string
		actor *models.Actor
		want  int
	}{
		{"admin", &models.Actor{ID: "a", Role: models.RoleAdmin}, http.StatusOK},
		{"user", &models.Actor{ID: "u", Role: models.RoleUser}, http.StatusForbidden},
		{"anonymous", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.actor != nil {
				req = req.WithContext(WithActor(req.Context(), *tt.actor))
			}
			rec := httptest.NewRecorder()
			RequireAdmin(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
