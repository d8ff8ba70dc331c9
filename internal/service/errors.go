package service

import (
	"context"
	"errors"
	"strings"

	"github.com/ngirimana/finindex/internal/remote"
)

var (
	// ErrUnauthenticated is returned when an operation needs a session.
	ErrUnauthenticated = errors.New("please sign in to continue")
	// ErrForbidden is returned when the session's role may not act.
	ErrForbidden = errors.New("you do not have permission to perform this action")
	// ErrCancelled is returned when a destructive operation was not confirmed.
	ErrCancelled = errors.New("operation cancelled")
	// ErrNotFound is returned when a selected item is not in the current data.
	ErrNotFound = errors.New("not found")
)

// ValidationError carries client-side validation failures. Nothing was sent.
// Err, when set, classifies the failure for errors.Is.
type ValidationError struct {
	Message  string
	Problems []string
	Err      error
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(msg string, problems ...string) error {
	return &ValidationError{Message: msg, Problems: problems}
}

// NoticeKind classifies a notice for display.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
	NoticeInfo    NoticeKind = "info"
)

// Notice is the transient, dismissable message shown after an operation.
type Notice struct {
	Kind    NoticeKind `json:"type"`
	Message string     `json:"message"`
	Details []string   `json:"details,omitempty"`
}

// Success builds a success notice.
func Success(msg string, details ...string) Notice {
	return Notice{Kind: NoticeSuccess, Message: msg, Details: details}
}

// Failure turns err into an error notice. Server messages win over fallback;
// validation problems and API conflicts become details.
func Failure(err error, fallback string) Notice {
	n := Notice{Kind: NoticeError, Message: fallback}

	var vErr *ValidationError
	var apiErr *remote.APIError
	var taskErr *TaskError
	switch {
	case errors.As(err, &vErr):
		n.Message = vErr.Message
		n.Details = append(n.Details, vErr.Problems...)
	case errors.As(err, &taskErr):
		for _, e := range taskErr.Errors {
			var item *ItemError
			if errors.As(e, &item) {
				n.Details = append(n.Details, item.ID+": "+Failure(item.Err, item.Err.Error()).Message)
				continue
			}
			n.Details = append(n.Details, remote.Message(e, e.Error()))
		}
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrForbidden), errors.Is(err, ErrCancelled):
		n.Message = err.Error()
		if errors.Is(err, ErrCancelled) {
			n.Kind = NoticeInfo
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		n.Message = "Request timed out. Please retry."
	default:
		n.Message = remote.Message(err, fallback)
		if errors.As(err, &apiErr) {
			if apiErr.Details != "" {
				n.Details = append(n.Details, apiErr.Details)
			}
			if len(apiErr.Conflicts) > 0 {
				parts := make([]string, len(apiErr.Conflicts))
				for i, c := range apiErr.Conflicts {
					parts[i] = c.String()
				}
				n.Details = append(n.Details, "Conflicts: "+strings.Join(parts, ", "))
			}
		}
	}
	return n
}
