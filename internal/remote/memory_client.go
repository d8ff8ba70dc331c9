package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

// MemoryClient is an in-memory Client used for unit testing the API facade
// without a running API. Responses are queued per route ("GET country-data").
type MemoryClient struct {
	mu           sync.Mutex
	calls        []Request
	responses    map[string][]queued
	fallback     map[string]queued
	err          error
	connectivity error
	gate         chan struct{}
}

type queued struct {
	resp Response
	err  error
}

// NewMemoryClient instantiates an empty client. Unqueued routes answer 200
// with an empty body.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		responses: make(map[string][]queued),
		fallback:  make(map[string]queued),
	}
}

// Route builds the key used to queue responses. A query string, when given,
// is part of the key: Route("GET", "country-data?year=2024").
func Route(method, path string) string {
	return method + " " + path
}

func routeOf(req Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	path := req.Path
	if len(req.Query) > 0 {
		path += "?" + req.Query.Encode()
	}
	return Route(method, path)
}

// WithError configures the client to return the provided error for subsequent calls.
func (m *MemoryClient) WithError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithConnectivityError forces Ping to return the supplied error.
func (m *MemoryClient) WithConnectivityError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectivity = err
	return m
}

// Hold blocks every call until Release is invoked. Used to observe coalescing.
func (m *MemoryClient) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

// Release unblocks calls held by Hold.
func (m *MemoryClient) Release() {
	m.mu.Lock()
	gate := m.gate
	m.gate = nil
	m.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// PushJSON queues a 200 response with v encoded as the body.
func (m *MemoryClient) PushJSON(route string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory client: encode %s: %v", route, err))
	}
	m.push(route, queued{resp: Response{Status: http.StatusOK, Body: raw}})
}

// PushError queues an error answer for the route.
func (m *MemoryClient) PushError(route string, err error) {
	m.push(route, queued{err: err})
}

// SetJSON makes the route answer v whenever its queue is empty.
func (m *MemoryClient) SetJSON(route string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory client: encode %s: %v", route, err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback[route] = queued{resp: Response{Status: http.StatusOK, Body: raw}}
}

func (m *MemoryClient) push(route string, q queued) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[route] = append(m.responses[route], q)
}

func (m *MemoryClient) Do(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	gate := m.gate
	m.calls = append(m.calls, cloneRequest(req))
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return Response{}, m.err
	}

	route := routeOf(req)
	if q := m.responses[route]; len(q) > 0 {
		next := q[0]
		m.responses[route] = q[1:]
		return next.resp, next.err
	}
	if next, ok := m.fallback[route]; ok {
		return next.resp, next.err
	}
	return Response{Status: http.StatusOK}, nil
}

func (m *MemoryClient) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivity
}

func (m *MemoryClient) Close() error {
	return nil
}

// Calls returns a snapshot of executed requests.
func (m *MemoryClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallsTo returns the executed requests for a route.
func (m *MemoryClient) CallsTo(route string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, c := range m.calls {
		if routeOf(c) == route {
			out = append(out, c)
		}
	}
	return out
}

func cloneRequest(src Request) Request {
	dst := src
	if src.Query != nil {
		dst.Query = make(url.Values, len(src.Query))
		for k, v := range src.Query {
			dst.Query[k] = append([]string(nil), v...)
		}
	}
	return dst
}
