package offline

import (
	"net/http"

	"github.com/ticks-app/ticks/internal/cache"
)

// Source names where a response came from.
const (
	SourceCache       = "cache"
	SourceNetwork     = "network"
	SourcePlaceholder = "placeholder"
	SourceOfflinePage = "offline_page"
)

// Response is a fully buffered response. Its body can be read any number of
// times; Clone must be used before handing the same value to two owners.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy.
func (r *Response) Clone() *Response {
	cloned := *r
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

func (r *Response) snapshot(key string) cache.StoredResponse {
	return cache.StoredResponse{
		Key:    key,
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   append([]byte(nil), r.Body...),
	}
}

func fromStored(stored *cache.StoredResponse, source string) *Response {
	header := stored.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		Status: stored.Status,
		Header: header,
		Body:   stored.Body,
		Source: source,
	}
}
