package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VerificationStatus tracks the admin review state of a startup.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusApproved VerificationStatus = "approved"
	StatusRejected VerificationStatus = "rejected"
	// StatusUnknown stands for a value this client does not recognise. It is
	// never publicly visible and accepts no transition.
	StatusUnknown VerificationStatus = "unknown"
)

// ErrInvalidTransition is returned when a verification decision is not allowed
// from the current state.
var ErrInvalidTransition = errors.New("invalid verification transition")

// ParseVerificationStatus maps API values onto the known states. Records
// created before the workflow existed carry no status and count as pending.
func ParseVerificationStatus(v string) (VerificationStatus, error) {
	switch VerificationStatus(strings.ToLower(strings.TrimSpace(v))) {
	case "", StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown verification status %q", v)
	}
}

// Terminal reports whether no further decision can be taken.
func (s VerificationStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransition checks pending -> approved|rejected, the only legal moves.
func (s VerificationStatus) CanTransition(to VerificationStatus) error {
	if s != StatusPending {
		return fmt.Errorf("%w: startup is already %s", ErrInvalidTransition, s)
	}
	if to != StatusApproved && to != StatusRejected {
		return fmt.Errorf("%w: cannot move to %q", ErrInvalidTransition, to)
	}
	return nil
}

// UnmarshalJSON decodes unrecognised values to StatusUnknown so one odd
// record does not fail a whole list.
func (s *VerificationStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if !bytes.Equal(data, []byte("null")) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	parsed, err := ParseVerificationStatus(raw)
	if err != nil {
		parsed = StatusUnknown
	}
	*s = parsed
	return nil
}

// Sectors is the list of sectors a startup operates in. The API stores either
// a delimited string or a list; both decode to a list.
type Sectors []string

// ParseSectors splits on commas and semicolons, trimming and dropping blanks.
func ParseSectors(raw string) Sectors {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	out := make(Sectors, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String joins the sectors for display and for write requests.
func (s Sectors) String() string {
	return strings.Join(s, ", ")
}

func (s *Sectors) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*s = ParseSectors(strings.Join(items, ","))
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sector: %w", err)
	}
	*s = ParseSectors(raw)
	return nil
}

// Timestamp accepts RFC 3339 strings and epoch milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", raw, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// Startup is a fintech startup directory entry.
type Startup struct {
	ObjectID           string             `json:"_id,omitempty"`
	LegacyID           string             `json:"id,omitempty"`
	Name               string             `json:"name"`
	Country            string             `json:"country"`
	Sector             Sectors            `json:"sector"`
	FoundedYear        int                `json:"foundedYear"`
	Description        string             `json:"description"`
	Website            string             `json:"website,omitempty"`
	AddedBy            string             `json:"addedBy,omitempty"`
	AddedAt            Timestamp          `json:"addedAt"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	AdminNotes         string             `json:"adminNotes,omitempty"`
}

// Identifier prefers the persisted _id over the legacy id field.
func (s Startup) Identifier() string {
	if s.ObjectID != "" {
		return s.ObjectID
	}
	return s.LegacyID
}

// StartupInput is the payload for creating a startup.
type StartupInput struct {
	Name        string `json:"name"`
	Country     string `json:"country"`
	Sector      string `json:"sector"`
	FoundedYear int    `json:"foundedYear"`
	Description string `json:"description"`
	Website     string `json:"website,omitempty"`
	AddedBy     string `json:"addedBy,omitempty"`
	AddedAt     int64  `json:"addedAt,omitempty"`
}

// StartupCount is the number of approved startups in a country for a year.
type StartupCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// VerificationDecision is sent when an admin approves or rejects startups.
type VerificationDecision struct {
	StartupIDs []string           `json:"startupIds,omitempty"`
	Status     VerificationStatus `json:"verificationStatus"`
	AdminNotes string             `json:"adminNotes,omitempty"`
}
