// Package finapi is the typed, cached facade over the Fintech Index REST API.
// Reads are cached under invalidation tags; every write declares the tags it
// invalidates so that exactly the affected reads refetch.
package finapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ngirimana/finindex/internal/cache"
	"github.com/ngirimana/finindex/internal/remote"
	"github.com/ngirimana/finindex/internal/session"
)

// Tag types.
const (
	TagCountryData   = "CountryData"
	TagYears         = "Years"
	TagStartupCounts = "StartupCounts"
	TagStartups      = "Startups"
	TagUsers         = "Users"
	TagUser          = "User"
	TagNews          = "News"
)

// Tag ids shared by several queries.
const (
	IDList       = "LIST"
	IDPending    = "PENDING"
	IDUnverified = "UNVERIFIED"
	IDMe         = "ME"
)

// ErrInvalidID is returned before any request when an id is not an ObjectID.
var ErrInvalidID = errors.New("invalid record id")

// SessionSource supplies the bearer token and lets the facade drop a session
// the API no longer accepts.
type SessionSource interface {
	Token() string
	ClearToken(ctx context.Context, token string) (bool, error)
}

// API is safe for concurrent use.
type API struct {
	client   remote.Client
	cache    *cache.Cache
	sessions SessionSource
	logger   *slog.Logger
}

// New wires the facade. sessions may be nil for anonymous use.
func New(logger *slog.Logger, client remote.Client, c *cache.Cache, sessions SessionSource) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		client:   client,
		cache:    c,
		sessions: sessions,
		logger:   logger.With("component", "finapi"),
	}
}

// Cache exposes the underlying cache for diagnostics.
func (a *API) Cache() *cache.Cache { return a.cache }

// Ping checks the API is reachable.
func (a *API) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// OnSessionChange drops everything that depends on who is signed in.
// Subscribe it to the session store.
func (a *API) OnSessionChange(_ session.Session, _ bool) {
	a.cache.Invalidate(
		cache.Tag{Type: TagUser, ID: IDMe},
		cache.Tag{Type: TagStartups, ID: IDPending},
		cache.TypeTag(TagUsers),
	)
}

// Invalidate exposes tag invalidation for callers that reconcile after a
// batch of their own.
func (a *API) Invalidate(tags ...cache.Tag) []string {
	return a.cache.Invalidate(tags...)
}

// Refresh marks one cached query stale so its next read refetches.
func (a *API) Refresh(key string) {
	a.cache.MarkStale(key)
}

func (a *API) token() string {
	if a.sessions == nil {
		return ""
	}
	return a.sessions.Token()
}

// do sends the request with the current token. A 401 on an authenticated
// request clears the session, unless a different session has been set since
// the request went out.
func (a *API) do(ctx context.Context, req remote.Request) (remote.Response, error) {
	req.Token = a.token()
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		if req.Token != "" && remote.IsUnauthorized(err) && a.sessions != nil {
			cleared, clearErr := a.sessions.ClearToken(context.WithoutCancel(ctx), req.Token)
			switch {
			case clearErr != nil:
				a.logger.Warn("clearing session failed", "error", clearErr)
			case cleared:
				a.logger.Warn("token rejected, session cleared", "path", req.Path)
			default:
				a.logger.Debug("rejected token already replaced", "path", req.Path)
			}
		}
		return remote.Response{}, err
	}
	return resp, nil
}

func (a *API) getJSON(ctx context.Context, path string, dst any) error {
	resp, err := a.do(ctx, remote.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return err
	}
	return resp.Decode(dst)
}

// mutate sends a write and invalidates tags afterwards. Tags are invalidated
// even when the write fails: the server may have applied part of it.
func (a *API) mutate(ctx context.Context, req remote.Request, dst any, tags ...cache.Tag) error {
	resp, err := a.do(ctx, req)
	a.cache.Invalidate(tags...)
	if err != nil {
		a.logger.Debug("mutation failed", "method", req.Method, "path", req.Path, "error", err)
		return err
	}
	if dst != nil {
		return resp.Decode(dst)
	}
	return nil
}

// ValidateID checks that id is a persisted ObjectID.
func ValidateID(id string) error {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}

func validateIDs(ids []string) error {
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			return err
		}
	}
	return nil
}
