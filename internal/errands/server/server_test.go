package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/25x8/campus-errands/internal/errands/config"
	"github.com/25x8/campus-errands/internal/errands/models"
	"github.com/25x8/campus-errands/internal/errands/repository"
)

const testSecret = "test-secret"

type apiClient struct {
	t   *testing.T
	srv *httptest.Server
}

func newAPI(t *testing.T) (*apiClient, *repository.MemoryRepository) {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:       testSecret,
		CampusTimeZone:  "UTC",
		HelperMayCancel: true,
		LeaderboardSize: 10,
	}
	repo := repository.NewMemoryRepository()
	s, err := New(cfg, repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &apiClient{t: t, srv: srv}, repo
}

func (c *apiClient) do(method, path, token string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.srv.URL+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.srv.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (c *apiClient) register(login string) (string, models.User) {
	c.t.Helper()
	var out struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	status := c.do(http.MethodPost, "/api/user/register", "", map[string]string{
		"login":     login,
		"password":  "pw-" + login,
		"full_name": login,
		"hostel":    "B",
	}, &out)
	if status != http.StatusOK || out.Token == "" {
		c.t.Fatalf("register %s: status %d", login, status)
	}
	return out.Token, out.User
}

func parcelBody() map[string]any {
	return map[string]any{
		"request_type":      "parcel_pickup",
		"title":             "Flipkart parcel",
		"pickup_location":   "Main gate",
		"delivery_location": "B-204",
		"details":           map[string]string{"tracking_number": "FK123", "parcel_location": "Security desk"},
	}
}

type requestEnvelope struct {
	Request models.Request `json:"request"`
}

func TestRegisterAndLogin(t *testing.T) {
	api, _ := newAPI(t)
	api.register("asha")

	if status := api.do(http.MethodPost, "/api/user/register", "", map[string]string{"login": "asha", "password": "x"}, nil); status != http.StatusConflict {
		t.Fatalf("duplicate register status = %d", status)
	}
	if status := api.do(http.MethodPost, "/api/user/login", "", map[string]string{"login": "asha", "password": "wrong"}, nil); status != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if status := api.do(http.MethodPost, "/api/user/login", "", map[string]string{"login": "asha", "password": "pw-asha"}, &out); status != http.StatusOK || out.Token == "" {
		t.Fatalf("login status = %d", status)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	api, _ := newAPI(t)
	if status := api.do(http.MethodGet, "/api/requests", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if status := api.do(http.MethodGet, "/api/requests", "garbage", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	api, _ := newAPI(t)
	api.register("warden")
	owner, _ := api.register("asha")
	helper, helperUser := api.register("ravi")

	var created requestEnvelope
	if status := api.do(http.MethodPost, "/api/requests", owner, parcelBody(), &created); status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	id := created.Request.ID
	if created.Request.Status != models.StatusOpen {
		t.Fatalf("new request status = %s", created.Request.Status)
	}

	if status := api.do(http.MethodPost, "/api/requests/"+id+"/accept", owner, nil, nil); status != http.StatusForbidden {
		t.Fatalf("self accept status = %d, want 403", status)
	}
	if status := api.do(http.MethodPost, "/api/requests/"+id+"/start", helper, nil, nil); status != http.StatusConflict {
		t.Fatalf("start open status = %d, want 409", status)
	}
	if status := api.do(http.MethodPost, "/api/requests/"+id+"/teleport", helper, nil, nil); status != http.StatusNotFound {
		t.Fatalf("unknown action status = %d, want 404", status)
	}

	for _, step := range []struct {
		token  string
		action string
		want   models.Status
	}{
		{helper, "accept", models.StatusAccepted},
		{helper, "start", models.StatusInProgress},
		{owner, "complete", models.StatusCompleted},
	} {
		var res struct {
			Request models.Request `json:"request"`
			Events  []models.Event `json:"events"`
		}
		if status := api.do(http.MethodPost, "/api/requests/"+id+"/"+step.action, step.token, nil, &res); status != http.StatusOK {
			t.Fatalf("%s status = %d", step.action, status)
		}
		if res.Request.Status != step.want {
			t.Fatalf("%s left status %s, want %s", step.action, res.Request.Status, step.want)
		}
	}

	if status := api.do(http.MethodPost, "/api/requests/"+id+"/rating", owner, map[string]any{"rating": 5, "review": "great"}, nil); status != http.StatusCreated {
		t.Fatalf("rating status = %d", status)
	}
	if status := api.do(http.MethodPost, "/api/requests/"+id+"/rating", owner, map[string]any{"rating": 5}, nil); status != http.StatusConflict {
		t.Fatalf("repeat rating status = %d, want 409", status)
	}

	var points struct {
		Total   int64 `json:"total"`
		History []struct {
			Points  int64  `json:"points"`
			Display string `json:"display"`
		} `json:"history"`
	}
	if status := api.do(http.MethodGet, "/api/user/points", helper, nil, &points); status != http.StatusOK {
		t.Fatalf("points status = %d", status)
	}
	// completion, fast bonus and 5-star bonus
	if points.Total != 18 || len(points.History) != 3 || points.History[0].Display != "+5" {
		t.Fatalf("unexpected points: %+v", points)
	}

	var badges []struct {
		ID string `json:"id"`
	}
	if status := api.do(http.MethodGet, "/api/user/badges", helper, nil, &badges); status != http.StatusOK {
		t.Fatalf("badges status = %d", status)
	}
	hasFirst := false
	for _, b := range badges {
		hasFirst = hasFirst || b.ID == "1"
	}
	if !hasFirst {
		t.Fatalf("first delivery badge missing: %+v", badges)
	}

	var board []struct {
		Rank   int    `json:"rank"`
		UserID string `json:"user_id"`
	}
	if status := api.do(http.MethodGet, "/api/leaderboard", owner, nil, &board); status != http.StatusOK {
		t.Fatalf("leaderboard status = %d", status)
	}
	if len(board) != 3 || board[0].UserID != helperUser.ID || board[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard: %+v", board)
	}

	var mine []models.Request
	if status := api.do(http.MethodGet, "/api/requests?mine=helping", helper, nil, &mine); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(mine) != 1 || mine[0].ID != id {
		t.Fatalf("unexpected helping list: %+v", mine)
	}

	if status := api.do(http.MethodDelete, "/api/requests/"+id, owner, nil, nil); status != http.StatusForbidden {
		t.Fatalf("delete completed status = %d, want 403", status)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	api, _ := newAPI(t)
	owner, _ := api.register("asha")

	bad := parcelBody()
	bad["details"] = map[string]string{"parcel_location": "desk"}
	if status := api.do(http.MethodPost, "/api/requests", owner, bad, nil); status != http.StatusBadRequest {
		t.Fatalf("missing tracking number status = %d", status)
	}

	paid := parcelBody()
	paid["is_paid"] = true
	if status := api.do(http.MethodPost, "/api/requests", owner, paid, nil); status != http.StatusBadRequest {
		t.Fatalf("paid without amount status = %d", status)
	}

	paid["amount"] = "120.00"
	paid["payment_method"] = "upi"
	if status := api.do(http.MethodPost, "/api/requests", owner, paid, nil); status != http.StatusCreated {
		t.Fatalf("paid request status = %d", status)
	}

	noDetails := parcelBody()
	delete(noDetails, "details")
	if status := api.do(http.MethodPost, "/api/requests", owner, noDetails, nil); status != http.StatusBadRequest {
		t.Fatalf("missing details status = %d", status)
	}
}

func TestGetAndDeleteRequest(t *testing.T) {
	api, _ := newAPI(t)
	owner, _ := api.register("asha")
	other, _ := api.register("meera")

	var created requestEnvelope
	api.do(http.MethodPost, "/api/requests", owner, parcelBody(), &created)
	id := created.Request.ID

	var got struct {
		Request models.Request             `json:"request"`
		Details models.ParcelPickupDetails `json:"details"`
	}
	if status := api.do(http.MethodGet, "/api/requests/"+id, other, nil, &got); status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if got.Details.TrackingNumber != "FK123" {
		t.Fatalf("unexpected details: %+v", got.Details)
	}

	if status := api.do(http.MethodDelete, "/api/requests/"+id, other, nil, nil); status != http.StatusForbidden {
		t.Fatalf("stranger delete status = %d", status)
	}
	if status := api.do(http.MethodDelete, "/api/requests/"+id, owner, nil, nil); status != http.StatusNoContent {
		t.Fatalf("owner delete status = %d", status)
	}
	if status := api.do(http.MethodGet, "/api/requests/"+id, owner, nil, nil); status != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", status)
	}
}

func TestAdminRoutes(t *testing.T) {
	api, _ := newAPI(t)
	adminToken, admin := api.register("warden")
	userToken, user := api.register("asha")
	if !admin.IsAdmin || user.IsAdmin {
		t.Fatalf("admin flags = %v, %v, want only the first user", admin.IsAdmin, user.IsAdmin)
	}

	grant := map[string]any{"user_id": user.ID, "points": -3, "reason": "No-show penalty"}
	if status := api.do(http.MethodPost, "/api/admin/points", userToken, grant, nil); status != http.StatusForbidden {
		t.Fatalf("non-admin grant status = %d", status)
	}
	var entry struct {
		Display string `json:"display"`
	}
	if status := api.do(http.MethodPost, "/api/admin/points", adminToken, grant, &entry); status != http.StatusCreated || entry.Display != "-3" {
		t.Fatalf("admin grant status = %d, display %q", status, entry.Display)
	}

	if status := api.do(http.MethodPost, "/api/admin/users/"+admin.ID+"/suspend", userToken, map[string]bool{"suspended": true}, nil); status != http.StatusForbidden {
		t.Fatalf("non-admin suspend status = %d, want 403", status)
	}
	if status := api.do(http.MethodPost, "/api/admin/users/"+user.ID+"/suspend", adminToken, map[string]bool{"suspended": true}, nil); status != http.StatusNoContent {
		t.Fatalf("suspend status = %d", status)
	}
	if status := api.do(http.MethodPost, "/api/requests", userToken, parcelBody(), nil); status != http.StatusForbidden {
		t.Fatalf("suspended create status = %d, want 403", status)
	}
	if status := api.do(http.MethodPost, "/api/admin/users/ghost/suspend", adminToken, map[string]bool{"suspended": true}, nil); status != http.StatusNotFound {
		t.Fatalf("suspend unknown status = %d", status)
	}

	var again struct {
		User models.User `json:"user"`
	}
	if status := api.do(http.MethodPost, "/api/user/login", "", map[string]string{"login": "warden", "password": "pw-warden"}, &again); status != http.StatusOK || !again.User.IsAdmin {
		t.Fatalf("admin login status = %d, user %+v", status, again.User)
	}
}

func deliverOverHTTP(t *testing.T, api *apiClient, owner, helper string) {
	t.Helper()
	var created requestEnvelope
	if status := api.do(http.MethodPost, "/api/requests", owner, parcelBody(), &created); status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	for _, step := range []struct{ token, action string }{
		{helper, "accept"},
		{helper, "start"},
		{owner, "complete"},
	} {
		if status := api.do(http.MethodPost, "/api/requests/"+created.Request.ID+"/"+step.action, step.token, nil, nil); status != http.StatusOK {
			t.Fatalf("%s status = %d", step.action, status)
		}
	}
}

func TestSuspendedUserLeavesLeaderboard(t *testing.T) {
	api, _ := newAPI(t)
	adminToken, _ := api.register("warden")
	owner, _ := api.register("asha")
	ravi, raviUser := api.register("ravi")
	meera, meeraUser := api.register("meera")

	deliverOverHTTP(t, api, owner, ravi)
	deliverOverHTTP(t, api, owner, ravi)
	deliverOverHTTP(t, api, owner, meera)

	if status := api.do(http.MethodPost, "/api/admin/users/"+raviUser.ID+"/suspend", adminToken, map[string]bool{"suspended": true}, nil); status != http.StatusNoContent {
		t.Fatalf("suspend status = %d", status)
	}

	var board []struct {
		Rank   int    `json:"rank"`
		UserID string `json:"user_id"`
	}
	if status := api.do(http.MethodGet, "/api/leaderboard", owner, nil, &board); status != http.StatusOK {
		t.Fatalf("leaderboard status = %d", status)
	}
	for _, row := range board {
		if row.UserID == raviUser.ID {
			t.Fatalf("suspended user still listed: %+v", board)
		}
	}
	if len(board) == 0 || board[0].UserID != meeraUser.ID || board[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard: %+v", board)
	}
}

func TestBadgeCatalogRoute(t *testing.T) {
	api, _ := newAPI(t)
	token, _ := api.register("asha")

	var catalog []models.Badge
	if status := api.do(http.MethodGet, "/api/badges", token, nil, &catalog); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(catalog) != 8 {
		t.Fatalf("catalog has %d badges, want 8", len(catalog))
	}
}

func TestShutdownBeforeServing(t *testing.T) {
	cfg := &config.Config{
		RunAddress:         "127.0.0.1:0",
		JWTSecret:          testSecret,
		CampusTimeZone:     "UTC",
		BadgeSweepInterval: time.Hour,
		LeaderboardSize:    10,
	}
	s, err := New(cfg, repository.NewMemoryRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := s.Run(); !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("run after shutdown = %v, want ErrServerClosed", err)
	}
}
