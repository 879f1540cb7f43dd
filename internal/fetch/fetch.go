// Package fetch provides the page-fetching capability resolvers depend on:
// a plain HTTP implementation and a headless-rendered implementation that
// waits for client-side script to materialize content.
package fetch

import (
	"context"
	"net/http"
	"time"
)

// Marker identifies the condition a rendered fetch polls for before
// extracting the final HTML.
type Marker struct {
	// Selector waits for document.querySelector(Selector) to match.
	Selector string
	// Variable waits for a script-injected global to be defined.
	Variable string
	// Substring waits for a literal substring in the rendered document.
	Substring string
}

// IsZero reports whether no wait condition was requested.
func (m Marker) IsZero() bool {
	return m.Selector == "" && m.Variable == "" && m.Substring == ""
}

// Request captures everything needed to fetch a URL.
type Request struct {
	URL     string
	Method  string // GET when empty
	Body    []byte // POST payload
	Headers http.Header
	// Wait is honored by the rendered fetcher only.
	Wait Marker
}

// Response is the result returned by a Fetcher implementation.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Fetcher retrieves one page. Implementations must honor ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}
