package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ngirimana/finindex/internal/cache"
	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/finapi"
	"github.com/ngirimana/finindex/internal/remote"
	"github.com/ngirimana/finindex/internal/service"
	"github.com/ngirimana/finindex/internal/session"
)

const idPaystack = "665f1c2e9b1d4c3a2f000010"

type testEnv struct {
	router *gin.Engine
	client *remote.MemoryClient
	store  *session.Store
	hub    *Hub
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := remote.NewMemoryClient()
	store := session.NewStore(logger, session.NewMemoryPersister())
	api := finapi.New(logger, client, cache.New(logger, time.Minute), store)
	store.Subscribe(api.OnSessionChange)
	svc := service.New(logger, api, store, service.Options{Workers: 2})
	hub := NewHub(logger, store, nil)
	t.Cleanup(hub.Close)

	router := NewRouter(logger, RouterDependencies{
		Health:         APIHealthService{API: api},
		Handlers:       NewHandlers(logger, svc, api, 6),
		Hub:            hub,
		AllowedOrigins: []string{"http://localhost:5173"},
	})
	return testEnv{router: router, client: client, store: store, hub: hub}
}

func (e testEnv) do(method, target string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) signIn(t *testing.T, role domain.Role) {
	t.Helper()
	sess := session.Session{User: domain.User{ID: "665f1c2e9b1d4c3a2f0000ee", Name: "Amina", Role: role, IsVerified: true}, Token: "tok-" + string(role)}
	if err := e.store.Set(context.Background(), sess); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func decodeNotice(t *testing.T, rec *httptest.ResponseRecorder) service.Notice {
	t.Helper()
	var n service.Notice
	if err := json.Unmarshal(rec.Body.Bytes(), &n); err != nil {
		t.Fatalf("failed to decode notice: %v (%s)", err, rec.Body.String())
	}
	return n
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	env.client.WithConnectivityError(errors.New("dial tcp: connection refused"))
	rec = env.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Fatalf("expected degraded payload, got %s", rec.Body.String())
	}
}

func TestDestructiveRouteRequiresConfirm(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, domain.RoleEditor)

	rec := env.do(http.MethodDelete, "/country-data/years/2023", nil)
	if rec.Code != http.StatusPreconditionRequired {
		t.Fatalf("expected status 428, got %d", rec.Code)
	}
	if n := decodeNotice(t, rec); n.Kind != service.NoticeInfo {
		t.Fatalf("expected info notice, got %+v", n)
	}
	if calls := env.client.Calls(); len(calls) != 0 {
		t.Fatalf("no request expected, got %+v", calls)
	}

	env.client.PushJSON(remote.Route(http.MethodDelete, "country-data/delete-by-year/2023"), domain.DeleteResult{DeletedCount: 3})
	rec = env.do(http.MethodDelete, "/country-data/years/2023?confirm=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if n := decodeNotice(t, rec); n.Message != "Successfully deleted 3 records for year 2023" {
		t.Fatalf("unexpected notice %+v", n)
	}
}

func TestRoleErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(http.MethodGet, "/users", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}
	env.signIn(t, domain.RoleViewer)
	if rec := env.do(http.MethodGet, "/startups/pending", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("viewer: expected 403, got %d", rec.Code)
	}
}

func TestLoginApproveFlow(t *testing.T) {
	env := newTestEnv(t)
	env.client.PushJSON(remote.Route(http.MethodPost, "auth/login"), domain.LoginResult{
		Token: "tok-admin",
		User:  domain.User{Name: "Amina", Role: domain.RoleAdmin, IsVerified: true},
	})
	queue := remote.Route(http.MethodGet, "startups/pending")
	env.client.SetJSON(queue, []domain.Startup{{ObjectID: idPaystack, Name: "Paystack"}})

	rec := env.do(http.MethodPost, "/auth/login", loginRequest{Email: "amina@example.com", Password: "secret1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "tok-admin") {
		t.Fatalf("token must not be returned to views")
	}

	rec = env.do(http.MethodGet, "/startups/pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending: expected 200, got %d", rec.Code)
	}
	if calls := env.client.CallsTo(queue); len(calls) != 1 || calls[0].Token != "tok-admin" {
		t.Fatalf("expected bearer token on pending call, got %+v", calls)
	}

	rec = env.do(http.MethodPatch, "/startups/"+idPaystack+"/verify?confirm=true", verifyRequest{Status: "approved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	_ = env.do(http.MethodGet, "/startups/pending", nil)
	if n := len(env.client.CallsTo(queue)); n != 2 {
		t.Fatalf("pending list should refetch after approval, got %d calls", n)
	}
}

func TestDirectoryFiltersByQuery(t *testing.T) {
	env := newTestEnv(t)
	env.client.SetJSON(remote.Route(http.MethodGet, "startups"), []map[string]any{
		{"_id": "665f1c2e9b1d4c3a2f000020", "name": "Paystack", "country": "Nigeria", "sector": "Payments", "foundedYear": 2015, "verificationStatus": "approved"},
		{"_id": "665f1c2e9b1d4c3a2f000021", "name": "M-Pesa", "country": "Kenya", "sector": "Payments, Mobile Money", "foundedYear": 2007, "verificationStatus": "approved"},
		{"_id": "665f1c2e9b1d4c3a2f000022", "name": "Chipper", "country": "Kenya", "sector": "Remittance", "foundedYear": 2018, "verificationStatus": "approved"},
	})

	rec := env.do(http.MethodGet, "/startups?country=Kenya&sector=pay", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var page struct {
		Items   []domain.Startup `json:"items"`
		Matched int              `json:"matched"`
		Total   int              `json:"total"`
		Sectors []string         `json:"sectors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode page: %v", err)
	}
	if page.Matched != 1 || page.Total != 3 || page.Items[0].Name != "M-Pesa" {
		t.Fatalf("unexpected page %+v", page)
	}
	if len(page.Sectors) != 3 {
		t.Fatalf("expected the full sector catalogue, got %v", page.Sectors)
	}
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t)
	env.client.SetJSON(remote.Route(http.MethodGet, "country-data?year=2023"), []domain.CountryRecord{
		{ObjectID: "665f1c2e9b1d4c3a2f000001", ID: "KEN", Name: "Kenya", Year: 2023, FinalScore: domain.Float(70)},
		{ObjectID: "665f1c2e9b1d4c3a2f000002", ID: "GHA", Name: "Ghana", Year: 2023, FinalScore: domain.Float(60)},
	})

	rec := env.do(http.MethodGet, "/country-data/export?year=2023", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv content type, got %s", ct)
	}
	records, err := csv.NewReader(bytes.NewReader(rec.Body.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse csv: %v", err)
	}
	if len(records) != 3 || records[1][0] != "Kenya" {
		t.Fatalf("expected header and two rows ranked by score, got %v", records)
	}
}

func TestStaleReadKeepsLastGood(t *testing.T) {
	env := newTestEnv(t)
	route := remote.Route(http.MethodGet, "country-data/years")
	env.client.PushJSON(route, []int{2023})

	if rec := env.do(http.MethodGet, "/country-data/years", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	env.signIn(t, domain.RoleEditor)
	env.client.PushError(remote.Route(http.MethodDelete, "country-data/delete-all"), &remote.APIError{Status: http.StatusInternalServerError, Message: "boom"})
	_ = env.do(http.MethodDelete, "/country-data?confirm=true", nil)
	env.client.PushError(route, &remote.APIError{Status: http.StatusInternalServerError, Message: "database offline"})

	rec := env.do(http.MethodGet, "/country-data/years", nil)
	if rec.Code != http.StatusOK || rec.Header().Get(staleHeader) != "database offline" {
		t.Fatalf("expected stale answer, got %d %q", rec.Code, rec.Header().Get(staleHeader))
	}
	if strings.TrimSpace(rec.Body.String()) != "[2023]" {
		t.Fatalf("expected last good years, got %s", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/startups", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/startups", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}

func TestSessionWebsocketPushesChanges(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var state sessionState
	if err := conn.ReadJSON(&state); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if state.SignedIn {
		t.Fatalf("expected signed out initial state")
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	env.signIn(t, domain.RoleEditor)

	if err := conn.ReadJSON(&state); err != nil {
		t.Fatalf("read pushed state: %v", err)
	}
	if !state.SignedIn || state.User == nil || state.User.Role != domain.RoleEditor {
		t.Fatalf("unexpected pushed state %+v", state)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&service.ValidationError{Message: "x"}, http.StatusBadRequest},
		{finapi.ErrInvalidID, http.StatusBadRequest},
		{service.ErrUnauthenticated, http.StatusUnauthorized},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrCancelled, http.StatusPreconditionRequired},
		{&remote.APIError{Status: http.StatusConflict}, http.StatusConflict},
		{&remote.APIError{Status: http.StatusInternalServerError}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		if got := statusOf(tc.err); got != tc.want {
			t.Fatalf("statusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
