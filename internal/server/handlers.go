package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/finapi"
	"github.com/ngirimana/finindex/internal/importer"
	"github.com/ngirimana/finindex/internal/listview"
	"github.com/ngirimana/finindex/internal/remote"
	"github.com/ngirimana/finindex/internal/service"
)

// staleHeader carries the failure message when a read answers with the last
// good data instead of fresh data.
const staleHeader = "X-Finindex-Stale"

// Handlers exposes the services over HTTP.
type Handlers struct {
	logger   *slog.Logger
	svc      *service.Services
	api      *finapi.API
	pageStep int
	now      func() time.Time
}

// NewHandlers constructs the handlers. pageStep sizes the directory pages.
func NewHandlers(logger *slog.Logger, svc *service.Services, api *finapi.API, pageStep int) *Handlers {
	return &Handlers{
		logger:   logger,
		svc:      svc,
		api:      api,
		pageStep: pageStep,
		now:      time.Now,
	}
}

// Auth

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User   domain.User    `json:"user"`
	Notice service.Notice `json:"notice"`
}

// Login handles POST /auth/login.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid request"})
		return
	}
	sess, n, err := h.svc.Auth.Login(c.Request.Context(), domain.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		writeNotice(c, statusOf(err), n)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{User: sess.User, Notice: n})
}

// Logout handles POST /auth/logout.
func (h *Handlers) Logout(c *gin.Context) {
	n, err := h.svc.Auth.Logout(c.Request.Context())
	h.respondNotice(c, n, err)
}

// Register handles POST /auth/register.
func (h *Handlers) Register(c *gin.Context) {
	var form service.RegisterForm
	if err := c.ShouldBindJSON(&form); err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid request"})
		return
	}
	n, err := h.svc.Auth.Register(c.Request.Context(), form)
	h.respondNotice(c, n, err)
}

// VerifyEmail handles PATCH /auth/verify-email.
func (h *Handlers) VerifyEmail(c *gin.Context) {
	var req struct {
		OTP string `json:"otp"`
	}
	_ = c.ShouldBindJSON(&req)
	n, err := h.svc.Auth.VerifyEmail(c.Request.Context(), req.OTP)
	h.respondNotice(c, n, err)
}

// Session handles GET /auth/session.
func (h *Handlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, stateOf(h.svc.Auth.Current()))
}

// Me handles GET /auth/me.
func (h *Handlers) Me(c *gin.Context) {
	user, err := h.svc.Auth.Me(c.Request.Context())
	if err != nil {
		writeError(c, err, "Failed to load profile")
		return
	}
	c.JSON(http.StatusOK, user)
}

// Country data

// YearView handles GET /country-data?year=&sort=&dir=.
func (h *Handlers) YearView(c *gin.Context) {
	ctx := c.Request.Context()
	year, ok := h.yearParam(ctx, c)
	if !ok {
		return
	}
	spec := listview.SortSpec{Field: c.Query("sort"), Dir: listview.ParseDirection(c.Query("dir"))}
	if spec.Field == "" {
		spec = listview.DefaultCountrySort
	}
	view, err := h.svc.Dataset.YearView(ctx, year, spec)
	respondRead(c, view, len(view.Rows) == 0, err, "Failed to load data")
}

// Years handles GET /country-data/years.
func (h *Handlers) Years(c *gin.Context) {
	years, err := h.svc.Dataset.Years(c.Request.Context())
	if years == nil {
		years = []int{}
	}
	respondRead(c, years, len(years) == 0, err, "Failed to load years")
}

// Trend handles GET /country-data/trend?year=&country=.
func (h *Handlers) Trend(c *gin.Context) {
	ctx := c.Request.Context()
	year, ok := h.yearParam(ctx, c)
	if !ok {
		return
	}
	rows, err := h.svc.Dataset.Trend(ctx, year, c.QueryArray("country"))
	respondRead(c, rows, len(rows) == 0, err, "Failed to load data")
}

// Countries handles GET /country-data/countries.
func (h *Handlers) Countries(c *gin.Context) {
	names, err := h.svc.Dataset.Countries(c.Request.Context())
	respondRead(c, names, len(names) == 0, err, "Failed to load data")
}

// Legend handles GET /country-data/legend.
func (h *Handlers) Legend(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Dataset.Legend())
}

// Export handles GET /country-data/export?year=&format=.
func (h *Handlers) Export(c *gin.Context) {
	ctx := c.Request.Context()
	year, ok := h.yearParam(ctx, c)
	if !ok {
		return
	}
	format := importer.FormatCSV
	contentType := "text/csv"
	name := importer.ExportFileName
	if strings.EqualFold(c.Query("format"), string(importer.FormatXLSX)) {
		format = importer.FormatXLSX
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		name = strings.TrimSuffix(name, ".csv") + ".xlsx"
	}
	spec := listview.SortSpec{Field: c.Query("sort"), Dir: listview.ParseDirection(c.Query("dir"))}

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := h.svc.Dataset.Export(ctx, c.Writer, year, spec, format); err != nil {
		h.logger.Error("export failed", "error", err, "year", year)
		c.Header("Content-Disposition", "")
		writeError(c, err, "Failed to export data")
	}
}

type importRequest struct {
	Year int            `json:"year"`
	Rows []importer.Row `json:"rows"`
}

// Import handles POST /country-data/import. A multipart "file" field is read
// as CSV or XLSX; a JSON body carries rows directly.
func (h *Handlers) Import(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		report service.ImportReport
		err    error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		year, ok := h.yearParam(ctx, c)
		if !ok {
			return
		}
		fh, ferr := c.FormFile("file")
		if ferr != nil {
			writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "A file is required"})
			return
		}
		if fh.Size > importer.MaxFileSize {
			writeError(c, importer.ErrTooLarge, "")
			return
		}
		f, oerr := fh.Open()
		if oerr != nil {
			writeError(c, oerr, "Failed to process file")
			return
		}
		defer f.Close()
		report, err = h.svc.Dataset.ImportFile(ctx, fh.Filename, f, year)
	} else {
		var req importRequest
		if berr := c.ShouldBindJSON(&req); berr != nil {
			writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid request"})
			return
		}
		if req.Year == 0 {
			req.Year = h.now().Year()
		}
		report, err = h.svc.Dataset.Import(ctx, req.Rows, req.Year)
	}
	status := http.StatusOK
	if err != nil {
		status = statusOf(err)
	}
	c.JSON(status, report)
}

// DeleteAll handles DELETE /country-data?confirm=true.
func (h *Handlers) DeleteAll(c *gin.Context) {
	n, err := h.svc.Dataset.DeleteAll(c.Request.Context(), confirmer(c))
	h.respondNotice(c, n, err)
}

// DeleteByYear handles DELETE /country-data/years/:year?confirm=true.
func (h *Handlers) DeleteByYear(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid year"})
		return
	}
	n, err := h.svc.Dataset.DeleteByYear(c.Request.Context(), year, confirmer(c))
	h.respondNotice(c, n, err)
}

// DeleteByCountry handles DELETE /country-data/countries/:name?confirm=true.
func (h *Handlers) DeleteByCountry(c *gin.Context) {
	n, err := h.svc.Dataset.DeleteByCountry(c.Request.Context(), c.Param("name"), confirmer(c))
	h.respondNotice(c, n, err)
}

// DeleteSelected handles POST /country-data/delete-selected?confirm=true.
func (h *Handlers) DeleteSelected(c *gin.Context) {
	var req struct {
		Keys []domain.RecordKey `json:"keys"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid request"})
		return
	}
	n, err := h.svc.Dataset.DeleteSelected(c.Request.Context(), req.Keys, confirmer(c))
	h.respondNotice(c, n, err)
}

// Startups

// Directory handles GET /startups?search=&country=&sector=&visible=&signature=&more=.
func (h *Handlers) Directory(c *gin.Context) {
	var f listview.StartupFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid filter"})
		return
	}
	page, err := h.svc.Startups.Directory(c.Request.Context(), f, pagerOf(c, h.pageStep))
	respondRead(c, page, page.Total == 0, err, "Failed to load startups")
}

// Pending handles GET /startups/pending.
func (h *Handlers) Pending(c *gin.Context) {
	page, err := h.svc.Startups.Pending(c.Request.Context(), pagerOf(c, listview.PendingStep))
	if errors.Is(err, service.ErrForbidden) || errors.Is(err, service.ErrUnauthenticated) {
		writeError(c, err, "")
		return
	}
	respondRead(c, page, page.Total == 0, err, "Failed to load pending startups")
}

// CreateStartup handles POST /startups.
func (h *Handlers) CreateStartup(c *gin.Context) {
	var in domain.StartupInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid request"})
		return
	}
	created, n, err := h.svc.Startups.Create(c.Request.Context(), in)
	if err != nil {
		writeNotice(c, statusOf(err), n)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"startup": created, "notice": n})
}

// BulkUploadStartups handles POST /startups/bulk with a multipart "file".
func (h *Handlers) BulkUploadStartups(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "A file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err, "Failed to process file")
		return
	}
	defer f.Close()
	n, err := h.svc.Startups.BulkUpload(c.Request.Context(), fh.Filename, f)
	h.respondNotice(c, n, err)
}

// DeleteStartup handles DELETE /startups/:id?confirm=true.
func (h *Handlers) DeleteStartup(c *gin.Context) {
	n, err := h.svc.Startups.Delete(c.Request.Context(), c.Param("id"), confirmer(c))
	h.respondNotice(c, n, err)
}

type verifyRequest struct {
	Status string `json:"verificationStatus"`
	Notes  string `json:"adminNotes"`
}

// VerifyStartup handles PATCH /startups/:id/verify?confirm=true.
func (h *Handlers) VerifyStartup(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid request"})
		return
	}
	status, err := domain.ParseVerificationStatus(req.Status)
	if err != nil || status == domain.StatusPending {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Status must be approved or rejected"})
		return
	}
	ctx := c.Request.Context()
	var n service.Notice
	if status == domain.StatusApproved {
		n, err = h.svc.Startups.Approve(ctx, c.Param("id"), req.Notes, confirmer(c))
	} else {
		n, err = h.svc.Startups.Reject(ctx, c.Param("id"), req.Notes, confirmer(c))
	}
	h.respondNotice(c, n, err)
}

// BulkApprove handles PATCH /startups/bulk-verify?confirm=true.
func (h *Handlers) BulkApprove(c *gin.Context) {
	n, err := h.svc.Startups.BulkApprove(c.Request.Context(), confirmer(c))
	h.respondNotice(c, n, err)
}

// ApproveEach handles PATCH /startups/approve-each?confirm=true. Partial
// failures answer 207 with every outcome.
func (h *Handlers) ApproveEach(c *gin.Context) {
	var req struct {
		IDs   []string `json:"startupIds"`
		Notes string   `json:"adminNotes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid request"})
		return
	}
	results, n, err := h.svc.Startups.ApproveEach(c.Request.Context(), req.IDs, req.Notes, confirmer(c))
	status := http.StatusOK
	var taskErr *service.TaskError
	switch {
	case errors.As(err, &taskErr):
		status = http.StatusMultiStatus
	case err != nil:
		status = statusOf(err)
	}
	if results == nil {
		results = []service.ItemResult{}
	}
	c.JSON(status, gin.H{"results": results, "notice": n})
}

// Users

// Users handles GET /users.
func (h *Handlers) Users(c *gin.Context) {
	users, err := h.svc.Users.List(c.Request.Context())
	h.respondUsers(c, users, err)
}

// UnverifiedUsers handles GET /users/unverified.
func (h *Handlers) UnverifiedUsers(c *gin.Context) {
	users, err := h.svc.Users.Unverified(c.Request.Context())
	h.respondUsers(c, users, err)
}

func (h *Handlers) respondUsers(c *gin.Context, users []domain.User, err error) {
	if errors.Is(err, service.ErrForbidden) || errors.Is(err, service.ErrUnauthenticated) {
		writeError(c, err, "")
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	respondRead(c, users, len(users) == 0, err, "Failed to load users")
}

// CreateUser handles POST /users.
func (h *Handlers) CreateUser(c *gin.Context) {
	var form service.RegisterForm
	if err := c.ShouldBindJSON(&form); err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid request"})
		return
	}
	n, err := h.svc.Users.Create(c.Request.Context(), form)
	h.respondNotice(c, n, err)
}

// VerifyUser handles PATCH /users/:id/verify?confirm=true.
func (h *Handlers) VerifyUser(c *gin.Context) {
	n, err := h.svc.Users.Verify(c.Request.Context(), c.Param("id"), confirmer(c))
	h.respondNotice(c, n, err)
}

// UpdateUser handles PATCH /users/:id.
func (h *Handlers) UpdateUser(c *gin.Context) {
	var upd domain.UserUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid request"})
		return
	}
	n, err := h.svc.Users.Update(c.Request.Context(), c.Param("id"), upd)
	h.respondNotice(c, n, err)
}

// DeleteUser handles DELETE /users/:id?confirm=true.
func (h *Handlers) DeleteUser(c *gin.Context) {
	n, err := h.svc.Users.Delete(c.Request.Context(), c.Param("id"), confirmer(c))
	h.respondNotice(c, n, err)
}

// News handles GET /news.
func (h *Handlers) News(c *gin.Context) {
	news, err := h.svc.News.Latest(c.Request.Context())
	if news == nil {
		news = []domain.NewsArticle{}
	}
	respondRead(c, news, len(news) == 0, err, "Failed to load news")
}

// CacheState handles GET /debug/cache.
func (h *Handlers) CacheState(c *gin.Context) {
	states := h.api.Cache().Snapshot()
	sort.Slice(states, func(i, j int) bool { return states[i].Key < states[j].Key })
	c.JSON(http.StatusOK, states)
}

// helpers

// yearParam reads ?year=, defaulting to the newest year with data. It writes
// the error response itself when the value is invalid.
func (h *Handlers) yearParam(ctx context.Context, c *gin.Context) (int, bool) {
	raw := c.Query("year")
	if raw == "" {
		return h.svc.Dataset.LatestYear(ctx, h.now().Year()), true
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < importer.MinYear || year > importer.MaxYear {
		writeNotice(c, http.StatusBadRequest, service.Notice{Kind: service.NoticeError, Message: "Invalid year (must be between 2000-2030)"})
		return 0, false
	}
	return year, true
}

func pagerOf(c *gin.Context, step int) listview.Pager {
	p := listview.NewPager(step)
	if v, err := strconv.Atoi(c.Query("visible")); err == nil && v > 0 {
		p.Visible = v
	}
	p.Signature = c.Query("signature")
	if more, _ := strconv.ParseBool(c.Query("more")); more {
		p = p.More()
	}
	return p
}

// confirmer turns ?confirm=true into consent for destructive routes.
func confirmer(c *gin.Context) service.Confirmer {
	if ok, _ := strconv.ParseBool(c.Query("confirm")); ok {
		return service.Confirmed
	}
	return service.Declined
}

func (h *Handlers) respondNotice(c *gin.Context, n service.Notice, err error) {
	if err != nil {
		if statusOf(err) >= http.StatusInternalServerError {
			h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		}
		writeNotice(c, statusOf(err), n)
		return
	}
	writeNotice(c, http.StatusOK, n)
}

// respondRead answers the last good data with a stale marker when a refetch
// failed, and an error only when there is nothing to show.
func respondRead(c *gin.Context, data any, empty bool, err error, fallback string) {
	if err != nil {
		if empty {
			writeError(c, err, fallback)
			return
		}
		c.Header(staleHeader, service.Failure(err, fallback).Message)
	}
	c.JSON(http.StatusOK, data)
}

func writeError(c *gin.Context, err error, fallback string) {
	writeNotice(c, statusOf(err), service.Failure(err, fallback))
}

func writeNotice(c *gin.Context, status int, n service.Notice) {
	c.JSON(status, n)
}

// statusOf maps service and API errors onto response codes.
func statusOf(err error) int {
	var vErr *service.ValidationError
	var apiErr *remote.APIError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &vErr), errors.Is(err, finapi.ErrInvalidID),
		errors.Is(err, importer.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotVerified):
		return http.StatusForbidden
	case errors.Is(err, service.ErrCancelled):
		return http.StatusPreconditionRequired
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
