package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// NewMemoryStore 返回进程内缓存，重启后内容丢失。
func NewMemoryStore() Store {
	return &memoryStore{partitions: make(map[string]*memoryPartition)}
}

type memoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
}

type memoryPartition struct {
	name    string
	mu      sync.RWMutex
	entries map[string]StoredResponse
	deleted bool
}

func (s *memoryStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validPartitionName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.partitions[name]
	if !ok {
		part = &memoryPartition{name: name, entries: make(map[string]StoredResponse)}
		s.partitions[name] = part
	}
	return part, nil
}

func (s *memoryStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	part, ok := s.partitions[name]
	delete(s.partitions, name)
	s.mu.Unlock()

	if ok {
		part.mu.Lock()
		part.deleted = true
		part.entries = nil
		part.mu.Unlock()
	}
	return ok, nil
}

func (s *memoryStore) Match(ctx context.Context, key string) (*StoredResponse, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		s.mu.RLock()
		part := s.partitions[name]
		s.mu.RUnlock()
		if part == nil {
			continue
		}
		resp, err := part.Match(ctx, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (p *memoryPartition) Name() string {
	return p.name
}

func (p *memoryPartition) Match(ctx context.Context, key string) (*StoredResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	resp, ok := p.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cloned := resp.Clone()
	return &cloned, nil
}

func (p *memoryPartition) Put(ctx context.Context, key string, resp StoredResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := resp.Clone()
	stored.Key = key
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return ErrPartitionGone
	}
	p.entries[key] = stored
	return nil
}

func (p *memoryPartition) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
	return nil
}

func (p *memoryPartition) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.deleted {
		return nil, ErrPartitionGone
	}
	entries := make([]Entry, 0, len(p.entries))
	for key, resp := range p.entries {
		entries = append(entries, Entry{
			Partition: p.name,
			Key:       key,
			Status:    resp.Status,
			SizeBytes: int64(len(resp.Body)),
			StoredAt:  resp.StoredAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
