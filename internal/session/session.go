// Package session holds the process-wide signed-in state: the user's profile
// and bearer token. The state is persisted as a single JSON blob and every
// change is broadcast to subscribers.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/ngirimana/finindex/internal/domain"
)

const (
	// UserKey is the persisted key of the signed-in session blob.
	UserKey = "fintechUser"
	// PendingEmailKey remembers the address awaiting OTP confirmation.
	PendingEmailKey = "pendingUserEmail"
)

// Session is the signed-in user plus the token sent with every request.
type Session struct {
	User  domain.User
	Token string
}

// MarshalJSON flattens the profile and the token into one object.
func (s Session) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(s.User)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["token"] = s.Token
	return json.Marshal(fields)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return fmt.Errorf("decode session profile: %w", err)
	}
	var tok struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("decode session token: %w", err)
	}
	s.User = user
	s.Token = tok.Token
	return nil
}

// Role returns the signed-in user's role.
func (s Session) Role() domain.Role {
	return s.User.Role
}
