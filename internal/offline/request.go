package offline

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ticks-app/ticks/internal/cache"
)

// Mode mirrors the fetch mode a browser attaches to a request.
type Mode string

const (
	ModeNavigate Mode = "navigate"
	ModeNoCORS   Mode = "no-cors"
	ModeCORS     Mode = "cors"
	ModeSameOrg  Mode = "same-origin"
)

// Request is the intercepted request as seen by the router.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Mode     Mode
	Header   http.Header
	Body     []byte
}

// NewRequest builds a request for target, which may carry a query string.
func NewRequest(method, target string) (*Request, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse request target %q: %w", target, err)
	}
	if parsed.IsAbs() || parsed.Host != "" {
		return nil, fmt.Errorf("request target %q must be origin relative", target)
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method:   strings.ToUpper(method),
		Path:     path,
		RawQuery: parsed.RawQuery,
		Header:   make(http.Header),
	}, nil
}

// ModeFromHeaders derives the fetch mode from Fetch Metadata request headers.
// Older clients that only send Sec-Fetch-Dest: document on a GET are treated
// as navigations too.
func ModeFromHeaders(method string, h http.Header) Mode {
	if mode := Mode(strings.ToLower(strings.TrimSpace(h.Get("Sec-Fetch-Mode")))); mode != "" {
		return mode
	}
	if strings.EqualFold(h.Get("Sec-Fetch-Dest"), "document") && method == http.MethodGet {
		return ModeNavigate
	}
	return ""
}

// Target returns path plus query, the form used in cache keys and upstream URLs.
func (r *Request) Target() string {
	if r.RawQuery == "" {
		return r.Path
	}
	return r.Path + "?" + r.RawQuery
}

// Key is the cache key for this request.
func (r *Request) Key() string {
	return cache.RequestKey(r.Method, r.Target())
}

// IsNavigation reports whether the request loads a full document.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}
