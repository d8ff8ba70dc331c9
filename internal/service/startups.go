package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/finapi"
	"github.com/ngirimana/finindex/internal/importer"
	"github.com/ngirimana/finindex/internal/listview"
)

// StartupService runs the startup directory and its verification workflow.
type StartupService struct {
	api    *finapi.API
	gate   gate
	pool   pool
	nowFn  func() time.Time
	logger *slog.Logger
}

// FirstFoundedYear is the earliest founding year accepted by the form.
const FirstFoundedYear = 1990

// Directory renders the public directory.
func (s *StartupService) Directory(ctx context.Context, f listview.StartupFilter, pager listview.Pager) (listview.StartupPage, error) {
	all, err := s.api.FetchStartups(ctx)
	return listview.StartupDirectory(all, f, pager), err
}

// Pending renders the review queue. Admin only.
func (s *StartupService) Pending(ctx context.Context, pager listview.Pager) (listview.StartupPage, error) {
	if _, err := s.gate.require(domain.ActionVerifyStartup); err != nil {
		return listview.PendingQueue(nil, pager), err
	}
	pending, err := s.api.FetchPendingStartups(ctx)
	return listview.PendingQueue(pending, pager), err
}

// Create validates the form and submits a new startup on behalf of the
// signed-in user. The startup starts pending.
func (s *StartupService) Create(ctx context.Context, in domain.StartupInput) (domain.Startup, Notice, error) {
	sess, err := s.gate.require(domain.ActionCreateStartup)
	if err != nil {
		return domain.Startup{}, Failure(err, ""), err
	}
	if err := s.validateInput(&in); err != nil {
		return domain.Startup{}, Failure(err, ""), err
	}
	in.AddedBy = sess.User.DisplayName()
	in.AddedAt = s.nowFn().UnixMilli()

	created, err := s.api.CreateStartup(ctx, in)
	if err != nil {
		return domain.Startup{}, Failure(err, "Failed to add startup"), err
	}
	s.logger.Info("startup submitted", "name", in.Name, "by", in.AddedBy)
	return created, Success("Startup submitted for review."), nil
}

func (s *StartupService) validateInput(in *domain.StartupInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Country = strings.TrimSpace(in.Country)
	in.Sector = strings.TrimSpace(in.Sector)
	in.Description = strings.TrimSpace(in.Description)
	in.Website = strings.TrimSpace(in.Website)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", in.Name}, {"country", in.Country}, {"sector", in.Sector}, {"description", in.Description},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return invalid("Missing required fields", missing...)
	}
	if current := s.nowFn().Year(); in.FoundedYear < FirstFoundedYear || in.FoundedYear > current {
		return invalid("Invalid founded year", fmt.Sprintf("must be between %d and %d", FirstFoundedYear, current))
	}
	return nil
}

// Delete removes a startup. Editor or admin.
func (s *StartupService) Delete(ctx context.Context, id string, c Confirmer) (Notice, error) {
	if _, err := s.gate.require(domain.ActionDeleteStartup); err != nil {
		return Failure(err, ""), err
	}
	if err := confirm(ctx, c, "Are you sure you want to delete this startup?"); err != nil {
		return Failure(err, ""), err
	}
	if err := s.api.DeleteStartup(ctx, id); err != nil {
		return Failure(err, "Failed to delete"), err
	}
	return Success("Startup deleted."), nil
}

// BulkUpload reads a startup spreadsheet, checks its columns and posts the
// rows as read.
func (s *StartupService) BulkUpload(ctx context.Context, name string, r io.Reader) (Notice, error) {
	if _, err := s.gate.require(domain.ActionBulkUploadStartup); err != nil {
		return Failure(err, ""), err
	}
	table, err := importer.Read(name, r)
	if err != nil {
		vErr := invalid("Invalid file", err.Error())
		return Failure(vErr, ""), vErr
	}
	if len(table.Rows) == 0 {
		vErr := invalid("File is empty or has no valid data rows")
		return Failure(vErr, ""), vErr
	}
	if missing := importer.MissingStartupColumns(table.Header); len(missing) > 0 {
		vErr := invalid("Missing required fields: " + strings.Join(missing, ", "))
		return Failure(vErr, ""), vErr
	}
	if err := s.api.BulkUploadStartups(ctx, importer.Objects(table.Rows)); err != nil {
		n := Failure(err, "Unknown error")
		n.Message = "Bulk upload failed: " + n.Message
		return n, err
	}
	return Success(fmt.Sprintf("Upload complete: %d startups submitted", len(table.Rows))), nil
}

// Approve accepts a pending startup.
func (s *StartupService) Approve(ctx context.Context, id, notes string, c Confirmer) (Notice, error) {
	return s.decide(ctx, id, domain.StatusApproved, notes, c)
}

// Reject declines a pending startup.
func (s *StartupService) Reject(ctx context.Context, id, notes string, c Confirmer) (Notice, error) {
	return s.decide(ctx, id, domain.StatusRejected, notes, c)
}

func (s *StartupService) decide(ctx context.Context, id string, to domain.VerificationStatus, notes string, c Confirmer) (Notice, error) {
	if _, err := s.gate.require(domain.ActionVerifyStartup); err != nil {
		return Failure(err, ""), err
	}
	if err := s.checkTransition(id, to); err != nil {
		return Failure(err, "Failed to verify"), err
	}
	action := "approve"
	if to == domain.StatusRejected {
		action = "reject"
	}
	if err := confirm(ctx, c, fmt.Sprintf("Are you sure you want to %s this startup?", action)); err != nil {
		return Failure(err, ""), err
	}
	if err := s.api.VerifyStartup(ctx, id, to, notes); err != nil {
		return Failure(err, "Failed to verify"), err
	}
	s.logger.Info("startup verified", "id", id, "status", to)
	return Success(fmt.Sprintf("Startup %s.", to)), nil
}

// checkTransition refuses a decision on a startup whose cached state is
// already terminal. Unknown startups are left to the API.
func (s *StartupService) checkTransition(id string, to domain.VerificationStatus) error {
	if from, ok := s.knownStatus(id); ok {
		if err := from.CanTransition(to); err != nil {
			return invalid("Startup cannot be changed", err.Error())
		}
	}
	return domain.StatusPending.CanTransition(to)
}

func (s *StartupService) knownStatus(id string) (domain.VerificationStatus, bool) {
	for _, key := range []string{finapi.KeyPendingStartups, finapi.KeyStartups} {
		v, ok := s.api.Cache().Peek(key)
		if !ok {
			continue
		}
		list, _ := v.([]domain.Startup)
		for _, st := range list {
			if st.Identifier() != id {
				continue
			}
			if st.VerificationStatus == "" {
				return domain.StatusPending, true
			}
			return st.VerificationStatus, true
		}
	}
	return "", false
}

// BulkApproveNotes is attached to every startup approved in bulk.
const BulkApproveNotes = "Bulk approved by admin"

// BulkApprove approves every pending startup in one request. The API may
// apply it partially; the lists are refetched either way.
func (s *StartupService) BulkApprove(ctx context.Context, c Confirmer) (Notice, error) {
	if _, err := s.gate.require(domain.ActionVerifyStartup); err != nil {
		return Failure(err, ""), err
	}
	pending, err := s.api.FetchPendingStartups(ctx)
	if err != nil {
		return Failure(err, "Bulk verify failed"), err
	}
	if len(pending) == 0 {
		return Notice{Kind: NoticeInfo, Message: "No pending startups."}, nil
	}
	if err := confirm(ctx, c, fmt.Sprintf("Approve all %d pending startups?", len(pending))); err != nil {
		return Failure(err, ""), err
	}
	ids := make([]string, 0, len(pending))
	for _, st := range pending {
		ids = append(ids, st.Identifier())
	}
	if err := s.api.BulkVerifyStartups(ctx, ids, domain.StatusApproved, BulkApproveNotes); err != nil {
		return Failure(err, "Bulk verify failed"), err
	}
	return Success(fmt.Sprintf("All %d startups approved.", len(ids))), nil
}

// ItemResult is the outcome for one startup of ApproveEach.
type ItemResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ApproveEach approves ids one request at a time through the worker pool and
// reports every outcome. Failures are also returned as a *TaskError.
func (s *StartupService) ApproveEach(ctx context.Context, ids []string, notes string, c Confirmer) ([]ItemResult, Notice, error) {
	if _, err := s.gate.require(domain.ActionVerifyStartup); err != nil {
		return nil, Failure(err, ""), err
	}
	if len(ids) == 0 {
		err := invalid("No startups selected")
		return nil, Failure(err, ""), err
	}
	if err := confirm(ctx, c, fmt.Sprintf("Approve %d selected startups?", len(ids))); err != nil {
		return nil, Failure(err, ""), err
	}

	results := make([]ItemResult, len(ids))
	err := s.pool.run(ctx, len(ids), func(i int) error {
		id := ids[i]
		results[i].ID = id
		err := s.checkTransition(id, domain.StatusApproved)
		if err == nil {
			err = s.api.VerifyStartup(ctx, id, domain.StatusApproved, notes)
		}
		if err != nil {
			results[i].Error = Failure(err, "Failed to verify").Message
			return &ItemError{ID: id, Err: err}
		}
		results[i].OK = true
		return nil
	})
	for i := range results {
		results[i].ID = ids[i]
	}
	if err != nil {
		n := Failure(err, "Failed to verify")
		n.Message = fmt.Sprintf("%d of %d startups approved", countOK(results), len(ids))
		return results, n, err
	}
	return results, Success(fmt.Sprintf("All %d startups approved.", len(ids))), nil
}

func countOK(results []ItemResult) int {
	n := 0
	for _, r := range results {
		if r.OK {
			n++
		}
	}
	return n
}
