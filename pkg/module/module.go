// Package module mounts self-contained HTTP surfaces under single-level
// path prefixes, each with its own middleware chain.
package module

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Module serves an inner router beneath a prefix such as "/api". The
// prefix is removed from the path before the inner router sees it.
type Module struct {
	prefix string
	router http.Handler

	chain   []Middleware
	once    sync.Once
	handler http.Handler
}

// New panics when prefix is empty, relative, or nested ("/api/v1").
func New(prefix string, router http.Handler) *Module {
	if err := validatePrefix(prefix); err != nil {
		panic(err)
	}
	return &Module{prefix: prefix, router: router}
}

// Use appends mw to the chain. The first middleware added runs
// outermost. The chain is fixed on the first request.
func (m *Module) Use(mw Middleware) {
	m.chain = append(m.chain, mw)
}

// Handler returns the inner router wrapped in the middleware chain.
func (m *Module) Handler() http.Handler {
	m.once.Do(func() {
		h := m.router
		for i := len(m.chain) - 1; i >= 0; i-- {
			h = m.chain[i](h)
		}
		m.handler = h
	})
	return m.handler
}

func (m *Module) Prefix() string {
	return m.prefix
}

// Serve dispatches a copy of req whose path has the prefix removed.
func (m *Module) Serve(w http.ResponseWriter, req *http.Request) {
	m.Handler().ServeHTTP(w, stripPrefix(req, m.prefix))
}

func stripPrefix(req *http.Request, prefix string) *http.Request {
	path := strings.TrimPrefix(req.URL.Path, prefix)
	if path == "" {
		path = "/"
	}

	u := *req.URL
	u.Path = path
	u.RawPath = ""

	out := req.Clone(req.Context())
	out.URL = &u
	return out
}

func validatePrefix(prefix string) error {
	switch {
	case prefix == "":
		return fmt.Errorf("module prefix cannot be empty")
	case prefix[0] != '/':
		return fmt.Errorf("module prefix must start with /: %s", prefix)
	case strings.Contains(prefix[1:], "/"), len(prefix) == 1:
		return fmt.Errorf("module prefix must be a single path segment: %s", prefix)
	}
	return nil
}
