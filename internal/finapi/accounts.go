package finapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ngirimana/finindex/internal/cache"
	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/remote"
)

// Cache keys of account and news queries.
const (
	KeyMe              = "auth/me"
	KeyUsers           = "users/all"
	KeyUnverifiedUsers = "users/unverified"
	KeyNews            = "news"
)

var userWriteTags = []cache.Tag{
	{Type: TagUsers, ID: IDList},
	{Type: TagUsers, ID: IDUnverified},
}

// An edit may target the signed-in user's own profile.
var userUpdateTags = []cache.Tag{
	{Type: TagUsers, ID: IDList},
	{Type: TagUsers, ID: IDUnverified},
	{Type: TagUser, ID: IDMe},
}

// Login exchanges credentials for a token. The session is not touched here.
func (a *API) Login(ctx context.Context, creds domain.Credentials) (domain.LoginResult, error) {
	var res domain.LoginResult
	err := a.mutate(ctx, remote.Request{Method: http.MethodPost, Path: "auth/login", Body: creds}, &res,
		cache.Tag{Type: TagUser, ID: IDMe})
	return res, err
}

// Register creates an unverified account and returns the API's message.
func (a *API) Register(ctx context.Context, reg domain.Registration) (string, error) {
	reg.IsVerified = false
	var res struct {
		Message string `json:"message"`
	}
	err := a.mutate(ctx, remote.Request{Method: http.MethodPost, Path: "auth/register", Body: reg}, &res, userWriteTags...)
	return res.Message, err
}

// VerifyEmail confirms a registration with the emailed one-time code.
func (a *API) VerifyEmail(ctx context.Context, email, otp string) (string, error) {
	var res struct {
		Message string `json:"message"`
	}
	err := a.mutate(ctx, remote.Request{
		Method: http.MethodPatch,
		Path:   "auth/verify-email",
		Body:   map[string]string{"email": email, "otp": otp},
	}, &res, userWriteTags...)
	return res.Message, err
}

// Me returns the profile of the token holder.
func (a *API) Me(ctx context.Context) (domain.User, error) {
	return cache.Query(ctx, a.cache, KeyMe, func(ctx context.Context) (domain.User, []cache.Tag, error) {
		var raw json.RawMessage
		if err := a.getJSON(ctx, "auth/me", &raw); err != nil {
			return domain.User{}, nil, err
		}
		user, err := decodeUser(raw)
		return user, []cache.Tag{{Type: TagUser, ID: IDMe}}, err
	})
}

// decodeUser accepts both a bare profile and {"user": profile}.
func decodeUser(raw json.RawMessage) (domain.User, error) {
	var wrapped struct {
		User *domain.User `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil {
		return *wrapped.User, nil
	}
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// FetchUsers lists every account. Admin only.
func (a *API) FetchUsers(ctx context.Context) ([]domain.User, error) {
	return cache.Query(ctx, a.cache, KeyUsers, func(ctx context.Context) ([]domain.User, []cache.Tag, error) {
		var users []domain.User
		if err := a.getJSON(ctx, "users", &users); err != nil {
			return nil, nil, err
		}
		return users, []cache.Tag{{Type: TagUsers, ID: IDList}}, nil
	})
}

// FetchUnverifiedUsers lists accounts awaiting verification. Admin only.
func (a *API) FetchUnverifiedUsers(ctx context.Context) ([]domain.User, error) {
	return cache.Query(ctx, a.cache, KeyUnverifiedUsers, func(ctx context.Context) ([]domain.User, []cache.Tag, error) {
		var users []domain.User
		if err := a.getJSON(ctx, "users/unverified", &users); err != nil {
			return nil, nil, err
		}
		return users, []cache.Tag{{Type: TagUsers, ID: IDUnverified}}, nil
	})
}

// CreateUser adds an account on behalf of an admin.
func (a *API) CreateUser(ctx context.Context, reg domain.Registration) error {
	return a.mutate(ctx, remote.Request{Method: http.MethodPost, Path: "users", Body: reg}, nil, userWriteTags...)
}

// VerifyUser marks an account verified.
func (a *API) VerifyUser(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return a.mutate(ctx, remote.Request{Method: http.MethodPatch, Path: "users/" + id + "/verify"}, nil, userWriteTags...)
}

// UpdateUser edits name, role and verification flag.
func (a *API) UpdateUser(ctx context.Context, id string, upd domain.UserUpdate) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return a.mutate(ctx, remote.Request{Method: http.MethodPatch, Path: "users/" + id, Body: upd}, nil, userUpdateTags...)
}

// DeleteUser removes an account.
func (a *API) DeleteUser(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return a.mutate(ctx, remote.Request{Method: http.MethodDelete, Path: "users/" + id}, nil, userWriteTags...)
}

// FetchNews returns the news feed; a payload without articles is an empty feed.
func (a *API) FetchNews(ctx context.Context) ([]domain.NewsArticle, error) {
	return cache.Query(ctx, a.cache, KeyNews, func(ctx context.Context) ([]domain.NewsArticle, []cache.Tag, error) {
		var raw json.RawMessage
		if err := a.getJSON(ctx, "news", &raw); err != nil {
			return nil, nil, err
		}
		var payload struct {
			Articles []domain.NewsArticle `json:"articles"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil || payload.Articles == nil {
			payload.Articles = []domain.NewsArticle{}
		}
		return payload.Articles, []cache.Tag{{Type: TagNews, ID: IDList}}, nil
	})
}
