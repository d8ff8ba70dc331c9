package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ngirimana/finindex/internal/cache"
	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/finapi"
	"github.com/ngirimana/finindex/internal/importer"
	"github.com/ngirimana/finindex/internal/listview"
	"github.com/ngirimana/finindex/internal/remote"
	"github.com/ngirimana/finindex/internal/session"
)

const (
	idPaystack = "665f1c2e9b1d4c3a2f000010"
	idChipper  = "665f1c2e9b1d4c3a2f000011"
	idKenya    = "665f1c2e9b1d4c3a2f000001"
	idGhana    = "665f1c2e9b1d4c3a2f000002"
)

var (
	routeLogin   = remote.Route(http.MethodPost, "auth/login")
	routeQueue   = remote.Route(http.MethodGet, "startups/pending")
	routePublic  = remote.Route(http.MethodGet, "startups")
	routeAll     = remote.Route(http.MethodGet, "country-data")
	routeBulk    = remote.Route(http.MethodPost, "country-data/bulk")
	routeAllDrop = remote.Route(http.MethodDelete, "country-data/delete-all")
)

type harness struct {
	svc    *Services
	api    *finapi.API
	client *remote.MemoryClient
	store  *session.Store
}

func newHarness(t *testing.T) harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := remote.NewMemoryClient()
	store := session.NewStore(logger, session.NewMemoryPersister())
	api := finapi.New(logger, client, cache.New(logger, time.Minute), store)
	store.Subscribe(api.OnSessionChange)
	now := func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return harness{
		svc:    New(logger, api, store, Options{Workers: 2, Now: now}),
		api:    api,
		client: client,
		store:  store,
	}
}

func (h harness) signIn(t *testing.T, role domain.Role) {
	t.Helper()
	sess := session.Session{User: domain.User{ID: "665f1c2e9b1d4c3a2f0000ee", Name: "Amina", Role: role, IsVerified: true}, Token: "tok-" + string(role)}
	if err := h.store.Set(context.Background(), sess); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func TestAdminApproveRefetchesBothLists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.client.PushJSON(routeLogin, domain.LoginResult{
		Token: "tok-admin",
		User:  domain.User{Name: "Amina", Email: "amina@example.com", Role: domain.RoleAdmin, IsVerified: true},
	})
	if _, n, err := h.svc.Auth.Login(ctx, domain.Credentials{Email: "amina@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("Login: %v (%+v)", err, n)
	}

	h.client.SetJSON(routeQueue, []domain.Startup{{ObjectID: idPaystack, Name: "Paystack", VerificationStatus: domain.StatusPending}})
	h.client.SetJSON(routePublic, []domain.Startup{})

	page, err := h.svc.Startups.Pending(ctx, listview.NewPager(listview.PendingStep))
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("Pending: %+v %v", page, err)
	}
	if _, err := h.svc.Startups.Directory(ctx, listview.StartupFilter{}, listview.NewPager(0)); err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if calls := h.client.CallsTo(routeQueue); len(calls) != 1 || calls[0].Token != "tok-admin" {
		t.Fatalf("pending list must be fetched with the admin token, got %+v", calls)
	}

	n, err := h.svc.Startups.Approve(ctx, idPaystack, "", Confirmed)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if n.Kind != NoticeSuccess || n.Message != "Startup approved." {
		t.Fatalf("unexpected notice %+v", n)
	}
	verify := h.client.CallsTo(remote.Route(http.MethodPatch, "startups/"+idPaystack+"/verify"))
	if len(verify) != 1 || verify[0].Token != "tok-admin" {
		t.Fatalf("expected one authenticated verify call, got %+v", verify)
	}

	_, _ = h.svc.Startups.Pending(ctx, listview.NewPager(listview.PendingStep))
	_, _ = h.svc.Startups.Directory(ctx, listview.StartupFilter{}, listview.NewPager(0))
	if n := len(h.client.CallsTo(routeQueue)); n != 2 {
		t.Fatalf("pending list should refetch once, got %d calls", n)
	}
	if n := len(h.client.CallsTo(routePublic)); n != 2 {
		t.Fatalf("directory should refetch once, got %d calls", n)
	}
}

func TestApproveRejectsTerminalStartup(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin)
	ctx := context.Background()
	h.client.SetJSON(routePublic, []domain.Startup{{ObjectID: idPaystack, Name: "Paystack", VerificationStatus: domain.StatusApproved}})
	_, _ = h.svc.Startups.Directory(ctx, listview.StartupFilter{}, listview.NewPager(0))

	_, err := h.svc.Startups.Reject(ctx, idPaystack, "", Confirmed)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := len(h.client.CallsTo(remote.Route(http.MethodPatch, "startups/"+idPaystack+"/verify"))); n != 0 {
		t.Fatalf("no verify call expected, got %d", n)
	}
}

func TestApproveEachReportsPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin)
	ctx := context.Background()
	h.client.PushError(remote.Route(http.MethodPatch, "startups/"+idChipper+"/verify"),
		&remote.APIError{Status: http.StatusConflict, Message: "Startup already verified"})

	results, n, err := h.svc.Startups.ApproveEach(ctx, []string{idPaystack, idChipper, "bad-id"}, "ok", Confirmed)
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || len(taskErr.Errors) != 2 {
		t.Fatalf("expected two item failures, got %v", err)
	}
	if len(results) != 3 || !results[0].OK || results[1].OK || results[2].OK {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[1].Error != "Startup already verified" {
		t.Fatalf("expected server message, got %q", results[1].Error)
	}
	if n.Kind != NoticeError || n.Message != "1 of 3 startups approved" || len(n.Details) != 2 {
		t.Fatalf("unexpected notice %+v", n)
	}
	if !errors.Is(err, finapi.ErrInvalidID) {
		t.Fatalf("task error should unwrap to the invalid id")
	}
}

func TestDeclinedConfirmationSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleEditor)

	n, err := h.svc.Dataset.DeleteAll(context.Background(), Declined)
	if !errors.Is(err, ErrCancelled) || n.Kind != NoticeInfo {
		t.Fatalf("expected cancelled info notice, got %+v %v", n, err)
	}
	if calls := h.client.Calls(); len(calls) != 0 {
		t.Fatalf("no request expected, got %+v", calls)
	}
}

func TestRoleGates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Dataset.DeleteByYear(ctx, 2023, Confirmed); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous delete: expected ErrUnauthenticated, got %v", err)
	}
	h.signIn(t, domain.RoleViewer)
	if _, err := h.svc.Dataset.DeleteByYear(ctx, 2023, Confirmed); !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer delete: expected ErrForbidden, got %v", err)
	}
	h.signIn(t, domain.RoleEditor)
	if _, err := h.svc.Users.List(ctx); !errors.Is(err, ErrForbidden) {
		t.Fatalf("editor users: expected ErrForbidden, got %v", err)
	}
	if _, err := h.svc.Startups.Pending(ctx, listview.NewPager(0)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("editor pending: expected ErrForbidden, got %v", err)
	}
	if calls := h.client.Calls(); len(calls) != 0 {
		t.Fatalf("no request expected, got %+v", calls)
	}
}

func TestDeleteAllReportsCounts(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleEditor)
	before := 10
	h.client.PushJSON(routeAllDrop, domain.DeleteResult{DeletedCount: 10, BeforeCount: &before})

	n, err := h.svc.Dataset.DeleteAll(context.Background(), Confirmed)
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if want := "All data cleared. 10 records deleted. Before: 10, After: -"; n.Message != want {
		t.Fatalf("expected %q, got %q", want, n.Message)
	}
}

func TestDeleteSelectedResolvesKeys(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleEditor)
	ctx := context.Background()
	h.client.SetJSON(routeAll, []domain.CountryRecord{
		{ObjectID: idKenya, ID: "KE", Name: "Kenya", Year: 2023},
		{ObjectID: idGhana, ID: "GH", Name: "Ghana", Year: 2023},
	})
	route := remote.Route(http.MethodDelete, "country-data/delete-selective")
	h.client.PushJSON(route, domain.DeleteResult{DeletedCount: 1})

	n, err := h.svc.Dataset.DeleteSelected(ctx, []domain.RecordKey{{Name: "Ghana", Year: 2023}}, Confirmed)
	if err != nil || n.Message != "Successfully deleted 1 selected records" {
		t.Fatalf("DeleteSelected: %+v %v", n, err)
	}
	body := h.client.CallsTo(route)[0].Body.(map[string]any)
	if ids := body["ids"].([]string); len(ids) != 1 || ids[0] != idGhana {
		t.Fatalf("unexpected ids %v", body)
	}

	_, err = h.svc.Dataset.DeleteSelected(ctx, []domain.RecordKey{{Name: "Togo", Year: 2020}}, Confirmed)
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Message != "No valid records found to delete" || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unresolved keys to fail, got %v", err)
	}

	_, err = h.svc.Dataset.DeleteSelected(ctx, []domain.RecordKey{{Name: "Kenya", Year: 2023}, {Name: "Togo", Year: 2020}}, Confirmed)
	if !errors.As(err, &vErr) || vErr.Message != "Some selected records no longer exist" || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a partly unknown selection to fail, got %v", err)
	}
	if n := len(h.client.CallsTo(route)); n != 1 {
		t.Fatalf("unresolved selections must not be sent, got %d calls", n)
	}
}

func TestImportValidatesBeforeUpload(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleEditor)
	ctx := context.Background()

	report, err := h.svc.Dataset.Import(ctx, []importer.Row{{"name": "Kenya", "literacyRate": 150, "digitalInfrastructure": 80, "investment": 70}}, 2024)
	if err == nil || report.Notice.Message != "Validation failed" || len(report.Notice.Details) != 1 {
		t.Fatalf("expected validation failure, got %+v %v", report.Notice, err)
	}
	if n := len(h.client.CallsTo(routeBulk)); n != 0 {
		t.Fatalf("nothing should be uploaded, got %d calls", n)
	}

	h.client.SetJSON(routeAll, []domain.CountryRecord{
		{ObjectID: idKenya, ID: "KE", Name: "Kenya", Year: 2024, FintechCompanies: domain.Int(200)},
		{ObjectID: idGhana, ID: "GH", Name: "Ghana", Year: 2023, FintechCompanies: domain.Int(120)},
	})
	report, err = h.svc.Dataset.Import(ctx, []importer.Row{{"name": "Kenya", "literacyRate": 80, "digitalInfrastructure": 70, "investment": 60}}, 2024)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Notice.Message != "Successfully imported 2 countries" {
		t.Fatalf("unexpected notice %+v", report.Notice)
	}
	if len(report.Notice.Details) != 2 || report.Notice.Details[1] != "Total fintech companies: 320" {
		t.Fatalf("unexpected details %v", report.Notice.Details)
	}
	if n := len(h.client.CallsTo(routeBulk)); n != 1 {
		t.Fatalf("expected one upload, got %d", n)
	}
}

func TestTrendFallsBackToAllRows(t *testing.T) {
	h := newHarness(t)
	h.client.SetJSON(routeAll, []domain.CountryRecord{
		{Name: "Kenya", Year: 2024}, {Name: "Ghana", Year: 2023}, {Name: "Kenya", Year: 2022},
	})
	ctx := context.Background()

	rows, err := h.svc.Dataset.Trend(ctx, 2023, nil)
	if err != nil || len(rows) != 2 || rows[0].Name != "Ghana" || rows[1].Year != 2022 {
		t.Fatalf("unexpected trend %+v %v", rows, err)
	}
	rows, _ = h.svc.Dataset.Trend(ctx, 2010, []string{"Kenya"})
	if len(rows) != 2 || rows[0].Year != 2022 || rows[1].Year != 2024 {
		t.Fatalf("expected every Kenya row ascending, got %+v", rows)
	}
}

func TestLoginRefusesUnverifiedAccount(t *testing.T) {
	h := newHarness(t)
	h.client.PushJSON(routeLogin, domain.LoginResult{Token: "tok", User: domain.User{Email: "new@example.com", Role: domain.RoleViewer}})

	_, n, err := h.svc.Auth.Login(context.Background(), domain.Credentials{Email: "new@example.com", Password: "secret1"})
	if !errors.Is(err, ErrNotVerified) || n.Kind != NoticeError {
		t.Fatalf("expected unverified refusal, got %+v %v", n, err)
	}
	if _, ok := h.store.Get(); ok {
		t.Fatalf("no session should be stored")
	}
}

func TestRegisterAndVerifyEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	form := RegisterForm{
		FirstName: "Kofi", LastName: "Mensah", Country: "Ghana",
		Email: "kofi@example.com", Password: "secret1", ConfirmPassword: "secret2",
	}

	if _, err := h.svc.Auth.Register(ctx, form); err == nil || err.Error() != "Passwords do not match" {
		t.Fatalf("expected mismatch, got %v", err)
	}
	form.ConfirmPassword = "secret1"
	n, err := h.svc.Auth.Register(ctx, form)
	if err != nil || n.Message != "Registration successful. Wait for admin verification." {
		t.Fatalf("Register: %+v %v", n, err)
	}
	call := h.client.CallsTo(remote.Route(http.MethodPost, "auth/register"))[0]
	if reg := call.Body.(domain.Registration); reg.Name != "Kofi Mensah" || reg.Role != domain.RoleViewer {
		t.Fatalf("unexpected registration %+v", reg)
	}

	if _, err := h.svc.Auth.VerifyEmail(ctx, "12a"); err == nil || !strings.Contains(err.Error(), "6 digits") {
		t.Fatalf("expected digit check, got %v", err)
	}
	if _, err := h.svc.Auth.VerifyEmail(ctx, "123456"); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if _, ok := h.svc.Auth.PendingEmail(ctx); ok {
		t.Fatalf("pending email should be cleared")
	}
}

func TestRegisterValidationOrder(t *testing.T) {
	cases := []struct {
		form RegisterForm
		want string
	}{
		{RegisterForm{FirstName: "A"}, "Please fill in all required fields"},
		{RegisterForm{FirstName: "A", LastName: "B", Country: "C"}, "Password and confirmation are required"},
		{RegisterForm{FirstName: "A", LastName: "B", Country: "C", Password: "123", ConfirmPassword: "123"}, "Password must be at least 6 characters long"},
		{RegisterForm{FirstName: "A", LastName: "B", Country: "C", Password: "123456", ConfirmPassword: "123456", Email: "a@b"}, "Please enter a valid email address"},
		{RegisterForm{FirstName: "A", LastName: "B", Country: "C", Password: "123456", ConfirmPassword: "123456", Email: "a@b.co", Role: domain.RoleAdmin}, "Please choose a valid role"},
	}
	for _, tc := range cases {
		if _, err := tc.form.Validate(); err == nil || err.Error() != tc.want {
			t.Fatalf("expected %q, got %v", tc.want, err)
		}
	}
}

func TestCreateStartupStampsAuthor(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleViewer)
	ctx := context.Background()
	in := domain.StartupInput{Name: "M-Kopa", Country: "Kenya", Sector: "Energy", Description: "Solar", FoundedYear: 1985}

	if _, _, err := h.svc.Startups.Create(ctx, in); err == nil {
		t.Fatalf("founded year before 1990 should be rejected")
	}
	in.FoundedYear = 2011
	_, n, err := h.svc.Startups.Create(ctx, in)
	if err != nil || n.Message != "Startup submitted for review." {
		t.Fatalf("Create: %+v %v", n, err)
	}
	body := h.client.CallsTo(remote.Route(http.MethodPost, "startups"))[0].Body.(domain.StartupInput)
	if body.AddedBy != "Amina" || body.AddedAt != time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli() {
		t.Fatalf("unexpected payload %+v", body)
	}
}

func TestFailureUsesServerMessage(t *testing.T) {
	err := &remote.APIError{Status: http.StatusConflict, Message: "Duplicate records", Details: "Kenya exists"}
	n := Failure(err, "Failed to upload data to backend")
	if n.Message != "Duplicate records" || len(n.Details) != 1 || n.Details[0] != "Kenya exists" {
		t.Fatalf("unexpected notice %+v", n)
	}
	n = Failure(context.DeadlineExceeded, "Failed")
	if n.Message != "Request timed out. Please retry." {
		t.Fatalf("unexpected timeout notice %+v", n)
	}
}
