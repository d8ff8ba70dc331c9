package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Conflict names a record the API refused because it already exists.
type Conflict struct {
	ID   string `json:"id"`
	Year int    `json:"year"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s (%d)", c.ID, c.Year)
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status    int
	Message   string
	Details   string
	Conflicts []Conflict
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Conflicts) > 0 {
		parts := make([]string, len(e.Conflicts))
		for i, c := range e.Conflicts {
			parts[i] = c.String()
		}
		msg += "; conflicts: " + strings.Join(parts, ", ")
	}
	return fmt.Sprintf("api error %d: %s", e.Status, msg)
}

type errorBody struct {
	Message   string     `json:"message"`
	Error     string     `json:"error"`
	Details   any        `json:"details"`
	Conflicts []Conflict `json:"conflicts"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var payload errorBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}
	apiErr.Message = payload.Message
	if apiErr.Message == "" {
		apiErr.Message = payload.Error
	}
	switch d := payload.Details.(type) {
	case string:
		apiErr.Details = d
	case nil:
	default:
		if raw, err := json.Marshal(d); err == nil {
			apiErr.Details = string(raw)
		}
	}
	apiErr.Conflicts = payload.Conflicts
	return apiErr
}

// Message returns the server-reported message carried by err, or fallback
// when there is none.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, ErrTransport) {
		return "Network error. Please check your connection and retry."
	}
	return fallback
}

// IsUnauthorized reports whether the API rejected the bearer token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
