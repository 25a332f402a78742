package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

type storeFactory struct {
	name string
	make func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "disk", make: newTestStore},
		{name: "memory", make: func(t *testing.T) Store { return NewMemoryStore() }},
	}
}

func TestPartitionPutAndMatch(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			part, err := store.Open(ctx, "ticketmaster-cache-v2")
			if err != nil {
				t.Fatalf("open error: %v", err)
			}

			key := RequestKey(http.MethodGet, "/index.html")
			header := http.Header{"Content-Type": []string{"text/html"}}
			if err := part.Put(ctx, key, StoredResponse{Status: 200, Header: header, Body: []byte("<html>v1</html>")}); err != nil {
				t.Fatalf("put error: %v", err)
			}

			got, err := part.Match(ctx, key)
			if err != nil {
				t.Fatalf("match error: %v", err)
			}
			if string(got.Body) != "<html>v1</html>" {
				t.Fatalf("cached body mismatch: %s", string(got.Body))
			}
			if got.Status != 200 || got.Header.Get("Content-Type") != "text/html" {
				t.Fatalf("metadata mismatch: %d %v", got.Status, got.Header)
			}
			if got.Key != key {
				t.Fatalf("key mismatch: %s", got.Key)
			}
			if got.StoredAt.IsZero() {
				t.Fatalf("stored_at should be populated")
			}

			// 后写者胜出
			if err := part.Put(ctx, key, StoredResponse{Status: 200, Body: []byte("<html>v2</html>")}); err != nil {
				t.Fatalf("overwrite error: %v", err)
			}
			got, err = store.Match(ctx, key)
			if err != nil {
				t.Fatalf("store match error: %v", err)
			}
			if string(got.Body) != "<html>v2</html>" {
				t.Fatalf("expected overwritten body, got %s", string(got.Body))
			}
		})
	}
}

func TestStoreMatchMissing(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			if _, err := store.Open(context.Background(), "pages"); err != nil {
				t.Fatalf("open error: %v", err)
			}
			_, err := store.Match(context.Background(), RequestKey("GET", "/missing"))
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreMatchReportsCancellation(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			part, err := store.Open(context.Background(), "assets")
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			if err := part.Put(context.Background(), "GET /manifest.json", StoredResponse{Status: 200}); err != nil {
				t.Fatalf("put error: %v", err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			// 取消的查询不能被当成未命中，否则调用方会误走网络回退
			if _, err := store.Match(ctx, "GET /manifest.json"); !errors.Is(err, context.Canceled) || errors.Is(err, ErrNotFound) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			if _, err := part.Match(ctx, "GET /manifest.json"); !errors.Is(err, context.Canceled) {
				t.Fatalf("partition match should report cancellation, got %v", err)
			}
		})
	}
}

// cancelAfterContext 在第 n 次调用 Err 之后报告取消，用于模拟遍历分区途中被取消。
type cancelAfterContext struct {
	context.Context
	calls int
	after int
}

func (c *cancelAfterContext) Err() error {
	c.calls++
	if c.calls > c.after {
		return context.Canceled
	}
	return nil
}

func TestMemoryStoreMatchStopsWhenCancelledMidScan(t *testing.T) {
	store := NewMemoryStore()
	part, _ := store.Open(context.Background(), "assets")
	if err := part.Put(context.Background(), "GET /manifest.json", StoredResponse{Status: 200}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	ctx := &cancelAfterContext{Context: context.Background(), after: 1}
	if _, err := store.Match(ctx, "GET /manifest.json"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from partition lookup, got %v", err)
	}
}

func TestStoreOpenIsIdempotent(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			first, err := store.Open(ctx, "assets")
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			if err := first.Put(ctx, "GET /manifest.json", StoredResponse{Status: 200, Body: []byte("{}")}); err != nil {
				t.Fatalf("put error: %v", err)
			}
			second, err := store.Open(ctx, "assets")
			if err != nil {
				t.Fatalf("reopen error: %v", err)
			}
			if _, err := second.Match(ctx, "GET /manifest.json"); err != nil {
				t.Fatalf("reopened partition lost entry: %v", err)
			}
			names, err := store.Keys(ctx)
			if err != nil {
				t.Fatalf("keys error: %v", err)
			}
			if len(names) != 1 || names[0] != "assets" {
				t.Fatalf("unexpected partitions: %v", names)
			}
		})
	}
}

func TestStoreDeletePartition(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			part, err := store.Open(ctx, "ticketmaster-cache-v1")
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			if err := part.Put(ctx, "GET /", StoredResponse{Status: 200, Body: []byte("old")}); err != nil {
				t.Fatalf("put error: %v", err)
			}

			existed, err := store.Delete(ctx, "ticketmaster-cache-v1")
			if err != nil || !existed {
				t.Fatalf("delete failed: existed=%v err=%v", existed, err)
			}
			if _, err := store.Match(ctx, "GET /"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected entries to be gone, got %v", err)
			}
			if err := part.Put(ctx, "GET /", StoredResponse{Status: 200}); !errors.Is(err, ErrPartitionGone) {
				t.Fatalf("put into deleted partition should fail, got %v", err)
			}
			existed, err = store.Delete(ctx, "ticketmaster-cache-v1")
			if err != nil || existed {
				t.Fatalf("second delete should report missing: existed=%v err=%v", existed, err)
			}
		})
	}
}

func TestPartitionEntriesAndRemove(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			part, err := store.Open(ctx, "pages")
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			for _, key := range []string{"GET /b", "GET /a"} {
				if err := part.Put(ctx, key, StoredResponse{Status: 200, Body: []byte(key)}); err != nil {
					t.Fatalf("put error: %v", err)
				}
			}
			entries, err := part.Entries(ctx)
			if err != nil {
				t.Fatalf("entries error: %v", err)
			}
			if len(entries) != 2 || entries[0].Key != "GET /a" || entries[1].SizeBytes != int64(len("GET /b")) {
				t.Fatalf("unexpected entries: %+v", entries)
			}
			if err := part.Remove(ctx, "GET /a"); err != nil {
				t.Fatalf("remove error: %v", err)
			}
			if err := part.Remove(ctx, "GET /a"); err != nil {
				t.Fatalf("removing a missing entry should not fail: %v", err)
			}
			if _, err := part.Match(ctx, "GET /a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found after remove, got %v", err)
			}
		})
	}
}

func TestMatchReturnsIndependentSnapshot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	part, _ := store.Open(ctx, "pages")
	if err := part.Put(ctx, "GET /", StoredResponse{Status: 200, Body: []byte("abc")}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	got, _ := part.Match(ctx, "GET /")
	got.Body[0] = 'z'
	again, _ := part.Match(ctx, "GET /")
	if string(again.Body) != "abc" {
		t.Fatalf("stored snapshot mutated through a match result: %s", string(again.Body))
	}
}

func TestOpenRejectsInvalidNames(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			for _, name := range []string{"", "..", "a/b", ".hidden"} {
				if _, err := store.Open(context.Background(), name); !errors.Is(err, ErrInvalidName) {
					t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
				}
			}
		})
	}
}

func TestDiskStoreIgnoresStrayFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, ".tmp"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	names, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("stray files should not be partitions: %v", names)
	}
}

func TestStoredResponseClone(t *testing.T) {
	orig := StoredResponse{Status: 200, Header: http.Header{"X": []string{"1"}}, Body: []byte("body")}
	cloned := orig.Clone()
	cloned.Header.Set("X", "2")
	cloned.Body[0] = 'B'
	if orig.Header.Get("X") != "1" || string(orig.Body) != "body" {
		t.Fatalf("clone shares data with original")
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
