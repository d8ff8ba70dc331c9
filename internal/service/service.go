// Package service implements the user-facing operations on top of the cached
// API facade: role gates, confirmations, validation and result notices.
package service

import (
	"log/slog"
	"time"

	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/finapi"
	"github.com/ngirimana/finindex/internal/session"
)

// Options tunes the services.
type Options struct {
	// Workers bounds per-item verification requests.
	Workers int
	// Now is the clock used for timestamps and year defaults.
	Now func() time.Time
}

// Services groups every service sharing one facade and session store.
type Services struct {
	Dataset  *DatasetService
	Startups *StartupService
	Auth     *AuthService
	Users    *UserService
	News     *NewsService
}

// New wires the services.
func New(logger *slog.Logger, api *finapi.API, sessions *session.Store, opts Options) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := gate{sessions: sessions}
	return &Services{
		Dataset:  &DatasetService{api: api, gate: g, logger: logger.With("component", "dataset")},
		Startups: &StartupService{api: api, gate: g, pool: newPool(opts.Workers), nowFn: opts.Now, logger: logger.With("component", "startups")},
		Auth:     &AuthService{api: api, sessions: sessions, logger: logger.With("component", "auth")},
		Users:    &UserService{api: api, gate: g, logger: logger.With("component", "users")},
		News:     &NewsService{api: api},
	}
}

// gate checks the current session against an action.
type gate struct {
	sessions *session.Store
}

func (g gate) current() (session.Session, error) {
	if g.sessions == nil {
		return session.Session{}, ErrUnauthenticated
	}
	s, ok := g.sessions.Get()
	if !ok {
		return session.Session{}, ErrUnauthenticated
	}
	return s, nil
}

func (g gate) require(a domain.Action) (session.Session, error) {
	s, err := g.current()
	if err != nil {
		return s, err
	}
	if !s.Role().Can(a) {
		return s, ErrForbidden
	}
	return s, nil
}
