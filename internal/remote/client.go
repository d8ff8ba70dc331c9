package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Client defines the minimal contract the API facade needs to reach the
// Fintech Index REST API.
type Client interface {
	Do(ctx context.Context, req Request) (Response, error)
	Ping(ctx context.Context) error
	Close() error
}

// Request is a single API call. Path is relative to the /api prefix.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// Token is sent as a bearer credential when not empty.
	Token string
}

// Response is the raw answer of a successful (2xx) call.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the body into dst. An empty body leaves dst untouched.
func (r Response) Decode(dst any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Options configures an HTTP client implementation.
type Options struct {
	BaseURL string
	Timeout time.Duration
}

var (
	// ErrMissingBaseURL indicates the API base URL is not provided.
	ErrMissingBaseURL = errors.New("API base URL is required")
	// ErrTransport wraps failures where no response was received.
	ErrTransport = errors.New("network error")
)
