package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Listener receives the new state after every change. ok is false once the
// session has been cleared.
type Listener func(s Session, ok bool)

type subscriber struct {
	id int
	fn Listener
}

// Store is the single process-wide session value. Writes (persist, swap and
// notify) are serialised by writeMu so the persisted blob, the current value
// and the order listeners observe always agree. Listeners must not call Set,
// Clear or ClearToken.
type Store struct {
	writeMu   sync.Mutex
	mu        sync.RWMutex
	current   *Session
	subs      []subscriber
	nextID    int
	persister Persister
	sealer    *Sealer
	nowFn     func() time.Time
	logger    *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithSealer encrypts the persisted blobs.
func WithSealer(s *Sealer) Option {
	return func(st *Store) { st.sealer = s }
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		if now != nil {
			st.nowFn = now
		}
	}
}

// NewStore builds an empty store. Call Load to restore a persisted session.
func NewStore(logger *slog.Logger, persister Persister, opts ...Option) *Store {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{persister: persister, nowFn: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores the persisted session. An unreadable or expired blob is
// removed rather than reported.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, ok, err := s.persister.Load(ctx, UserKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	raw, err = s.open(raw)
	if err == nil {
		var sess Session
		if err = json.Unmarshal(raw, &sess); err == nil && sess.Token != "" && !Expired(sess.Token, s.nowFn()) {
			s.mu.Lock()
			s.current = &sess
			s.mu.Unlock()
			s.notify(sess, true)
			return nil
		}
	}
	s.logger.Warn("discarding persisted session", "error", err)
	return s.persister.Delete(ctx, UserKey)
}

// Get returns the current session. An expired token reads as signed out.
func (s *Store) Get() (Session, bool) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil {
		return Session{}, false
	}
	if Expired(cur.Token, s.nowFn()) {
		s.logger.Info("session token expired", "email", cur.User.Email)
		if _, err := s.ClearToken(context.Background(), cur.Token); err != nil {
			s.logger.Warn("clearing expired session failed", "error", err)
		}
		return Session{}, false
	}
	return *cur, true
}

// Token returns the bearer token, or "" when signed out.
func (s *Store) Token() string {
	sess, ok := s.Get()
	if !ok {
		return ""
	}
	return sess.Token
}

// Set persists and publishes a new session.
func (s *Store) Set(ctx context.Context, sess Session) error {
	if sess.Token == "" {
		return errors.New("session token is empty")
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	raw, err = s.seal(raw)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.persister.Save(ctx, UserKey, raw); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	s.notify(sess, true)
	return nil
}

// Clear removes the session everywhere and publishes the sign-out.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.clearLocked(ctx)
}

// ClearToken clears the session only while token is still the current one,
// so a rejection of an older token cannot sign out a newer session. It
// reports whether anything was cleared.
func (s *Store) ClearToken(ctx context.Context, token string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	match := s.current != nil && s.current.Token == token
	s.mu.RUnlock()
	if !match {
		return false, nil
	}
	return true, s.clearLocked(ctx)
}

// clearLocked expects writeMu to be held.
func (s *Store) clearLocked(ctx context.Context) error {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	s.mu.Unlock()

	err := s.persister.Delete(ctx, UserKey)
	if had {
		s.notify(Session{}, false)
	}
	return err
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// notify calls listeners outside the lock, in subscription order.
func (s *Store) notify(sess Session, ok bool) {
	s.mu.RLock()
	subs := append([]subscriber(nil), s.subs...)
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.fn(sess, ok)
	}
}

// SetPendingEmail remembers the address awaiting OTP confirmation.
func (s *Store) SetPendingEmail(ctx context.Context, email string) error {
	raw, err := s.seal([]byte(email))
	if err != nil {
		return err
	}
	return s.persister.Save(ctx, PendingEmailKey, raw)
}

// PendingEmail returns the address awaiting confirmation, if any.
func (s *Store) PendingEmail(ctx context.Context) (string, bool, error) {
	raw, ok, err := s.persister.Load(ctx, PendingEmailKey)
	if err != nil || !ok {
		return "", false, err
	}
	raw, err = s.open(raw)
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// ClearPendingEmail forgets the pending address.
func (s *Store) ClearPendingEmail(ctx context.Context) error {
	return s.persister.Delete(ctx, PendingEmailKey)
}

func (s *Store) seal(raw []byte) ([]byte, error) {
	if s.sealer == nil {
		return raw, nil
	}
	return s.sealer.Seal(raw)
}

func (s *Store) open(raw []byte) ([]byte, error) {
	if s.sealer == nil {
		return raw, nil
	}
	return s.sealer.Open(raw)
}
