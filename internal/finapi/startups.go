package finapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ngirimana/finindex/internal/cache"
	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/remote"
)

// Cache keys of the startup queries.
const (
	KeyStartups        = "startups/approved"
	KeyPendingStartups = "startups/pending"
)

// startupWriteTags are invalidated by every startup write, successful or not.
var startupWriteTags = []cache.Tag{
	{Type: TagStartups, ID: IDList},
	{Type: TagStartups, ID: IDPending},
	cache.TypeTag(TagStartupCounts),
}

// FetchStartups returns the public directory. Only approved startups are kept
// even if the API returns others.
func (a *API) FetchStartups(ctx context.Context) ([]domain.Startup, error) {
	return cache.Query(ctx, a.cache, KeyStartups, func(ctx context.Context) ([]domain.Startup, []cache.Tag, error) {
		var all []domain.Startup
		if err := a.getJSON(ctx, "startups", &all); err != nil {
			return nil, nil, err
		}
		approved := make([]domain.Startup, 0, len(all))
		for _, s := range all {
			if s.VerificationStatus == domain.StatusApproved {
				approved = append(approved, s)
			}
		}
		return approved, []cache.Tag{{Type: TagStartups, ID: IDList}}, nil
	})
}

// FetchPendingStartups returns startups awaiting review. Needs an admin token.
func (a *API) FetchPendingStartups(ctx context.Context) ([]domain.Startup, error) {
	return cache.Query(ctx, a.cache, KeyPendingStartups, func(ctx context.Context) ([]domain.Startup, []cache.Tag, error) {
		var pending []domain.Startup
		if err := a.getJSON(ctx, "startups/pending", &pending); err != nil {
			return nil, nil, err
		}
		return pending, []cache.Tag{{Type: TagStartups, ID: IDPending}}, nil
	})
}

// CreateStartup submits a new startup; it starts pending.
func (a *API) CreateStartup(ctx context.Context, in domain.StartupInput) (domain.Startup, error) {
	var raw json.RawMessage
	err := a.mutate(ctx, remote.Request{Method: http.MethodPost, Path: "startups", Body: in}, &raw, startupWriteTags...)
	if err != nil {
		return domain.Startup{}, err
	}
	if len(raw) == 0 {
		return domain.Startup{}, nil
	}
	created, err := decodeStartup(raw)
	if err != nil {
		// The write went through; only the echo is unusable.
		a.logger.Warn("unrecognised create-startup response", "error", err)
		return domain.Startup{}, nil
	}
	return created, nil
}

// decodeStartup accepts a bare startup, {"startup": ...} and {"data": ...}.
func decodeStartup(raw json.RawMessage) (domain.Startup, error) {
	var wrapped struct {
		Startup *domain.Startup `json:"startup"`
		Data    *domain.Startup `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		switch {
		case wrapped.Startup != nil:
			return *wrapped.Startup, nil
		case wrapped.Data != nil:
			return *wrapped.Data, nil
		}
	}
	var created domain.Startup
	if err := json.Unmarshal(raw, &created); err != nil {
		return domain.Startup{}, err
	}
	if created.Identifier() == "" && created.Name == "" {
		return domain.Startup{}, fmt.Errorf("no startup in response")
	}
	return created, nil
}

// DeleteStartup removes a startup by id.
func (a *API) DeleteStartup(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return a.mutate(ctx, remote.Request{Method: http.MethodDelete, Path: "startups/" + id}, nil, startupWriteTags...)
}

// BulkUploadStartups posts spreadsheet rows as read from the file.
func (a *API) BulkUploadStartups(ctx context.Context, rows []map[string]any) error {
	if len(rows) == 0 {
		return fmt.Errorf("no startups to upload")
	}
	return a.mutate(ctx, remote.Request{
		Method: http.MethodPost,
		Path:   "startups/bulk",
		Body:   map[string]any{"data": rows},
	}, nil, startupWriteTags...)
}

// VerifyStartup records an admin decision for one startup. Both lists are
// invalidated whatever the outcome.
func (a *API) VerifyStartup(ctx context.Context, id string, status domain.VerificationStatus, notes string) error {
	if err := ValidateID(id); err != nil {
		a.cache.Invalidate(startupWriteTags...)
		return err
	}
	return a.mutate(ctx, remote.Request{
		Method: http.MethodPatch,
		Path:   "startups/" + id + "/verify",
		Body:   domain.VerificationDecision{Status: status, AdminNotes: notes},
	}, nil, startupWriteTags...)
}

// BulkVerifyStartups records one decision for many startups in one call.
// The API may apply it partially; callers must rely on the refetched lists.
func (a *API) BulkVerifyStartups(ctx context.Context, ids []string, status domain.VerificationStatus, notes string) error {
	if err := validateIDs(ids); err != nil {
		a.cache.Invalidate(startupWriteTags...)
		return err
	}
	return a.mutate(ctx, remote.Request{
		Method: http.MethodPatch,
		Path:   "startups/bulk-verify",
		Body:   domain.VerificationDecision{StartupIDs: ids, Status: status, AdminNotes: notes},
	}, nil, startupWriteTags...)
}
