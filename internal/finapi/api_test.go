package finapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/ngirimana/finindex/internal/cache"
	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/remote"
	"github.com/ngirimana/finindex/internal/session"
)

const (
	idKenya23 = "665f1c2e9b1d4c3a2f000001"
	idGhana23 = "665f1c2e9b1d4c3a2f000002"
	idKenya22 = "665f1c2e9b1d4c3a2f000003"
	idPending = "665f1c2e9b1d4c3a2f0000aa"
)

type fixture struct {
	api    *API
	client *remote.MemoryClient
	store  *session.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := remote.NewMemoryClient()
	store := session.NewStore(logger, session.NewMemoryPersister())
	api := New(logger, client, cache.New(logger, time.Minute), store)
	store.Subscribe(api.OnSessionChange)
	return fixture{api: api, client: client, store: store}
}

func record(id, iso3, name string, year int) domain.CountryRecord {
	return domain.CountryRecord{
		ObjectID:              id,
		ID:                    iso3,
		Name:                  name,
		Year:                  year,
		LiteracyRate:          domain.Float(80),
		DigitalInfrastructure: domain.Float(70),
		Investment:            domain.Float(60),
		FinalScore:            domain.Float(70),
	}
}

var (
	getAll    = remote.Route(http.MethodGet, "country-data")
	get2023   = remote.Route(http.MethodGet, "country-data?year=2023")
	get2022   = remote.Route(http.MethodGet, "country-data?year=2022")
	getYears  = remote.Route(http.MethodGet, "country-data/years")
	getPublic = remote.Route(http.MethodGet, "startups")
	getQueue  = remote.Route(http.MethodGet, "startups/pending")
)

func (f fixture) seedCountryData() {
	f.client.SetJSON(getAll, []domain.CountryRecord{
		record(idKenya23, "KEN", "Kenya", 2023),
		record(idGhana23, "GHA", "Ghana", 2023),
		record(idKenya22, "KEN", "Kenya", 2022),
	})
	f.client.SetJSON(get2023, []domain.CountryRecord{
		record(idKenya23, "KEN", "Kenya", 2023),
		record(idGhana23, "GHA", "Ghana", 2023),
	})
	f.client.SetJSON(get2022, []domain.CountryRecord{record(idKenya22, "KEN", "Kenya", 2022)})
	f.client.SetJSON(getYears, []int{2022, 2023})
}

func TestFetchByYearNormalizesAndCaches(t *testing.T) {
	f := newFixture(t)
	f.seedCountryData()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rows, err := f.api.FetchByYear(ctx, 2023)
		if err != nil {
			t.Fatalf("FetchByYear: %v", err)
		}
		if len(rows) != 2 || rows[0].Name != "Ghana" || rows[0].ID != "GH" || rows[1].ID != "KE" {
			t.Fatalf("expected normalized rows sorted by name, got %+v", rows)
		}
	}
	if n := len(f.client.CallsTo(get2023)); n != 1 {
		t.Fatalf("expected one network call, got %d", n)
	}

	years, err := f.api.FetchAvailableYears(ctx)
	if err != nil || len(years) != 2 || years[0] != 2023 {
		t.Fatalf("expected years newest first, got %v %v", years, err)
	}
}

func TestDeleteByYearInvalidatesOnlyThatYear(t *testing.T) {
	f := newFixture(t)
	f.seedCountryData()
	ctx := context.Background()

	_, _ = f.api.FetchByYear(ctx, 2023)
	_, _ = f.api.FetchByYear(ctx, 2022)
	_, _ = f.api.FetchAvailableYears(ctx)

	f.client.PushJSON(remote.Route(http.MethodDelete, "country-data/delete-by-year/2023"), domain.DeleteResult{DeletedCount: 2})
	res, err := f.api.DeleteByYear(ctx, 2023)
	if err != nil || res.DeletedCount != 2 {
		t.Fatalf("DeleteByYear: %+v %v", res, err)
	}

	_, _ = f.api.FetchByYear(ctx, 2023)
	_, _ = f.api.FetchByYear(ctx, 2022)
	_, _ = f.api.FetchAvailableYears(ctx)

	if n := len(f.client.CallsTo(get2023)); n != 2 {
		t.Fatalf("YEAR-2023 should refetch once, got %d calls", n)
	}
	if n := len(f.client.CallsTo(get2022)); n != 1 {
		t.Fatalf("YEAR-2022 must not refetch, got %d calls", n)
	}
	if n := len(f.client.CallsTo(getYears)); n != 2 {
		t.Fatalf("years list should refetch, got %d calls", n)
	}
}

func TestDeleteSelectiveUsesSnapshotYears(t *testing.T) {
	f := newFixture(t)
	f.seedCountryData()
	ctx := context.Background()

	_, _ = f.api.FetchAll(ctx)
	_, _ = f.api.FetchByYear(ctx, 2023)
	_, _ = f.api.FetchByYear(ctx, 2022)

	if _, err := f.api.DeleteSelective(ctx, []string{idKenya22}); err != nil {
		t.Fatalf("DeleteSelective: %v", err)
	}
	if st, _ := f.api.Cache().Inspect(KeyCountryDataByYear(2023)); st.Stale {
		t.Fatalf("2023 view holds none of the deleted ids and should stay valid")
	}
	if st, _ := f.api.Cache().Inspect(KeyCountryDataByYear(2022)); !st.Stale {
		t.Fatalf("2022 view should be stale")
	}
	if st, _ := f.api.Cache().Inspect(KeyAllCountryData); !st.Stale {
		t.Fatalf("all-data snapshot should be stale")
	}

	call := f.client.CallsTo(remote.Route(http.MethodDelete, "country-data/delete-selective"))
	if len(call) != 1 {
		t.Fatalf("expected one delete call, got %d", len(call))
	}
	body := call[0].Body.(map[string]any)
	if ids := body["ids"].([]string); len(ids) != 1 || ids[0] != idKenya22 {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestDeleteSelectiveUnknownIDWidens(t *testing.T) {
	f := newFixture(t)
	f.seedCountryData()
	ctx := context.Background()

	_, _ = f.api.FetchAll(ctx)
	_, _ = f.api.FetchByYear(ctx, 2023)

	if _, err := f.api.DeleteSelective(ctx, []string{"665f1c2e9b1d4c3a2f0000ff"}); err != nil {
		t.Fatalf("DeleteSelective: %v", err)
	}
	if st, _ := f.api.Cache().Inspect(KeyCountryDataByYear(2023)); !st.Stale {
		t.Fatalf("unknown id should invalidate every country-data view")
	}
}

func TestInvalidIDsFailLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.api.DeleteSelective(ctx, []string{"Kenya-2023"}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if err := f.api.DeleteStartup(ctx, "abc"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if n := len(f.client.Calls()); n != 0 {
		t.Fatalf("no request should be sent, got %d", n)
	}
}

func TestFailedFetchKeepsLastGood(t *testing.T) {
	f := newFixture(t)
	f.seedCountryData()
	ctx := context.Background()

	first, err := f.api.FetchByYear(ctx, 2022)
	if err != nil {
		t.Fatalf("FetchByYear: %v", err)
	}
	f.api.Refresh(KeyCountryDataByYear(2022))
	f.client.PushError(get2022, &remote.APIError{Status: http.StatusInternalServerError, Message: "database offline"})

	rows, err := f.api.FetchByYear(ctx, 2022)
	if remote.Message(err, "Failed to load data") != "database offline" {
		t.Fatalf("expected server message, got %v", err)
	}
	if len(rows) != len(first) {
		t.Fatalf("expected last good rows, got %v", rows)
	}
}

func TestAuthorizationHeaderFollowsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.SetJSON(getQueue, []domain.Startup{})

	_, _ = f.api.FetchPendingStartups(ctx)
	if calls := f.client.CallsTo(getQueue); calls[0].Token != "" {
		t.Fatalf("anonymous call must not carry a token")
	}

	if err := f.store.Set(ctx, session.Session{User: domain.User{Role: domain.RoleAdmin}, Token: "tok-admin"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, _ = f.api.FetchPendingStartups(ctx)
	calls := f.client.CallsTo(getQueue)
	if len(calls) != 2 || calls[1].Token != "tok-admin" {
		t.Fatalf("session change should refetch with token, got %+v", calls)
	}
}

func TestUnauthorizedClearsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.Set(ctx, session.Session{User: domain.User{Role: domain.RoleAdmin}, Token: "stale"})
	f.client.PushError(getQueue, &remote.APIError{Status: http.StatusUnauthorized, Message: "jwt expired"})

	if _, err := f.api.FetchPendingStartups(ctx); !remote.IsUnauthorized(err) {
		t.Fatalf("expected 401, got %v", err)
	}
	if _, ok := f.store.Get(); ok {
		t.Fatalf("session should be cleared after a rejected token")
	}
}

// signInDuring lets a new login land while a request is still in flight.
type signInDuring struct {
	*remote.MemoryClient
	store *session.Store
	next  session.Session
}

func (c *signInDuring) Do(ctx context.Context, req remote.Request) (remote.Response, error) {
	resp, err := c.MemoryClient.Do(ctx, req)
	_ = c.store.Set(ctx, c.next)
	return resp, err
}

func TestLateUnauthorizedKeepsNewerSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	store := session.NewStore(logger, session.NewMemoryPersister())
	_ = store.Set(ctx, session.Session{User: domain.User{Role: domain.RoleAdmin}, Token: "tok-old"})

	mem := remote.NewMemoryClient()
	mem.PushError(getQueue, &remote.APIError{Status: http.StatusUnauthorized, Message: "jwt expired"})
	client := &signInDuring{
		MemoryClient: mem,
		store:        store,
		next:         session.Session{User: domain.User{Role: domain.RoleAdmin}, Token: "tok-new"},
	}
	api := New(logger, client, cache.New(logger, time.Minute), store)
	store.Subscribe(api.OnSessionChange)

	if _, err := api.FetchPendingStartups(ctx); !remote.IsUnauthorized(err) {
		t.Fatalf("expected 401, got %v", err)
	}
	if mem.CallsTo(getQueue)[0].Token != "tok-old" {
		t.Fatalf("request should carry the old token")
	}
	if store.Token() != "tok-new" {
		t.Fatalf("a late rejection of the old token signed out the new session")
	}
}

func TestCreateStartupAcceptsWrappedResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	route := remote.Route(http.MethodPost, "startups")
	f.client.PushJSON(route, map[string]any{
		"message": "Startup created",
		"startup": map[string]any{"_id": "665f1c2e9b1d4c3a2f000020", "name": "Flutterwave", "verificationStatus": "pending"},
	})
	f.client.PushJSON(route, map[string]any{"_id": "665f1c2e9b1d4c3a2f000021", "name": "Chipper"})

	in := domain.StartupInput{Name: "Flutterwave", Country: "Nigeria", Sector: "Payments"}
	created, err := f.api.CreateStartup(ctx, in)
	if err != nil || created.Identifier() != "665f1c2e9b1d4c3a2f000020" || created.Name != "Flutterwave" {
		t.Fatalf("wrapped response: %+v %v", created, err)
	}
	created, err = f.api.CreateStartup(ctx, domain.StartupInput{Name: "Chipper"})
	if err != nil || created.Identifier() != "665f1c2e9b1d4c3a2f000021" {
		t.Fatalf("bare response: %+v %v", created, err)
	}
}

func TestFetchStartupsKeepsApprovedOnly(t *testing.T) {
	f := newFixture(t)
	f.client.SetJSON(getPublic, []map[string]any{
		{"_id": "665f1c2e9b1d4c3a2f000010", "name": "Paystack", "verificationStatus": "approved", "sector": "Payments"},
		{"_id": "665f1c2e9b1d4c3a2f000011", "name": "Sneaky", "verificationStatus": "pending"},
		{"_id": "665f1c2e9b1d4c3a2f000012", "name": "Legacy"},
		{"_id": "665f1c2e9b1d4c3a2f000013", "name": "Archived", "verificationStatus": "archived"},
	})

	startups, err := f.api.FetchStartups(context.Background())
	if err != nil {
		t.Fatalf("FetchStartups: %v", err)
	}
	if len(startups) != 1 || startups[0].Name != "Paystack" {
		t.Fatalf("expected only approved startups, got %+v", startups)
	}
}

func TestVerifyFailureStillInvalidatesBothLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.SetJSON(getPublic, []domain.Startup{})
	f.client.SetJSON(getQueue, []domain.Startup{})
	_, _ = f.api.FetchStartups(ctx)
	_, _ = f.api.FetchPendingStartups(ctx)

	f.client.PushError(remote.Route(http.MethodPatch, "startups/"+idPending+"/verify"),
		&remote.APIError{Status: http.StatusBadRequest, Message: "Startup already verified"})
	err := f.api.VerifyStartup(ctx, idPending, domain.StatusApproved, "")
	if remote.Message(err, "Failed to verify") != "Startup already verified" {
		t.Fatalf("unexpected error %v", err)
	}

	for _, key := range []string{KeyStartups, KeyPendingStartups} {
		if st, _ := f.api.Cache().Inspect(key); !st.Stale {
			t.Fatalf("%s should be stale after a verification attempt", key)
		}
	}
}

func TestFetchNewsWithoutArticles(t *testing.T) {
	f := newFixture(t)
	f.client.SetJSON(remote.Route(http.MethodGet, "news"), map[string]any{"status": "error"})

	news, err := f.api.FetchNews(context.Background())
	if err != nil {
		t.Fatalf("FetchNews: %v", err)
	}
	if news == nil || len(news) != 0 {
		t.Fatalf("expected empty feed, got %v", news)
	}
}
