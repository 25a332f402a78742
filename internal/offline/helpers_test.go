package offline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ticks-app/ticks/internal/cache"
)

var errNetworkDown = errors.New("network down")

// fakeOrigin scripts network responses per request target.
type fakeOrigin struct {
	mu     sync.Mutex
	bodies map[string]string
	status map[string]int
	delay  map[string]time.Duration
	down   bool
	calls  map[string]int
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{
		bodies: map[string]string{},
		status: map[string]int{},
		delay:  map[string]time.Duration{},
		calls:  map[string]int{},
	}
}

func (f *fakeOrigin) serve(target, body string) *fakeOrigin {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[target] = body
	return f
}

func (f *fakeOrigin) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeOrigin) callCount(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[target]
}

func (f *fakeOrigin) Fetch(ctx context.Context, req *Request) (*Response, error) {
	target := req.Target()
	f.mu.Lock()
	f.calls[target]++
	delay := f.delay[target]
	down := f.down
	body, ok := f.bodies[target]
	status := f.status[target]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if down {
		return nil, errNetworkDown
	}
	if status == 0 {
		status = http.StatusOK
		if !ok {
			status = http.StatusNotFound
		}
	}
	return &Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte(body),
		Source: SourceNetwork,
	}, nil
}

func testOptions() Options {
	return Options{
		Version:          "v2",
		PagePartition:    "ticketmaster-cache-v2",
		AssetPartition:   "ticketmaster-assets-v2",
		Pages:            []string{"/", "/splash.html", "/index.html", "/for-you.html"},
		Assets:           []string{"/assets/icon.png", "/assets/icon-512.png", "/manifest.json"},
		OfflinePage:      "/splash.html",
		PlaceholderImage: "/assets/icon.png",
		NetworkTimeout:   50 * time.Millisecond,
	}
}

// fullOrigin serves every url in opts.
func fullOrigin(opts Options) *fakeOrigin {
	origin := newFakeOrigin()
	for _, p := range append(append([]string(nil), opts.Pages...), opts.Assets...) {
		origin.serve(p, "content of "+p)
	}
	return origin
}

func newTestManager(t *testing.T, origin Fetcher) (*Manager, cache.Store) {
	t.Helper()
	store := cache.NewMemoryStore()
	mgr, err := NewManager(testOptions(), store, origin, nil, nil)
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	return mgr, store
}

func seed(t *testing.T, store cache.Store, partition, target, body string) {
	t.Helper()
	ctx := context.Background()
	part, err := store.Open(ctx, partition)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	key := cache.RequestKey(http.MethodGet, target)
	if err := part.Put(ctx, key, cache.StoredResponse{Status: http.StatusOK, Body: []byte(body)}); err != nil {
		t.Fatalf("put error: %v", err)
	}
}

func mustRequest(t *testing.T, target string, mode Mode) *Request {
	t.Helper()
	req, err := NewRequest(http.MethodGet, target)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	req.Mode = mode
	return req
}
