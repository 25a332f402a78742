package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ticks-app/ticks/internal/server"
)

// Fetcher performs a network fetch. Any HTTP status is a successful fetch;
// only transport failures are errors.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// OriginFetcher fetches requests from the static web client origin.
type OriginFetcher struct {
	client *http.Client
	origin *url.URL
}

// NewOriginFetcher resolves request paths against origin.
func NewOriginFetcher(client *http.Client, origin string) (*OriginFetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", origin)
	}
	return &OriginFetcher{client: client, origin: parsed}, nil
}

// Fetch sends req to the origin and buffers the whole response.
func (f *OriginFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	target := f.resolve(req)

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	// 缓存的快照统一保存解码后的正文。
	httpReq.Header.Del("Accept-Encoding")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target.Redacted(), err)
	}
	return &Response{
		Status: resp.StatusCode,
		Header: server.CloneHeaders(resp.Header),
		Body:   payload,
		Source: SourceNetwork,
	}, nil
}

func (f *OriginFetcher) resolve(req *Request) *url.URL {
	target := *f.origin
	target.Path = strings.TrimRight(f.origin.Path, "/") + req.Path
	target.RawPath = ""
	target.RawQuery = req.RawQuery
	return &target
}
