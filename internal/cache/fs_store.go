package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const entrySuffix = ".entry"

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入；分区级操作由 partMu 串行化。
type fileStore struct {
	basePath string

	// partMu 保护分区目录的创建与删除，条目写入持读锁。
	partMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type filePartition struct {
	store *fileStore
	name  string
	dir   string
}

func (s *fileStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.partitionDir(name)
	if err != nil {
		return nil, err
	}

	s.partMu.Lock()
	defer s.partMu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create partition %s: %w", name, err)
	}
	return &filePartition{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.partMu.RLock()
	defer s.partMu.RUnlock()
	return s.listPartitions()
}

func (s *fileStore) listPartitions() ([]string, error) {
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() && validPartitionName(item.Name()) {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.partitionDir(name)
	if err != nil {
		return false, err
	}

	s.partMu.Lock()
	defer s.partMu.Unlock()
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete partition %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStore) Match(ctx context.Context, key string) (*StoredResponse, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		part := &filePartition{store: s, name: name, dir: filepath.Join(s.basePath, name)}
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

func (p *filePartition) Name() string {
	return p.name
}

func (p *filePartition) Match(ctx context.Context, key string) (*StoredResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f, err := os.Open(p.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	resp, err := decodeEntry(f)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return resp, nil
}

func (p *filePartition) Put(ctx context.Context, key string, resp StoredResponse) error {
	s := p.store
	s.partMu.RLock()
	defer s.partMu.RUnlock()

	unlock := s.lockEntry(p.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	resp.Key = key
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Now().UTC()
	}

	// 分区目录被 Delete 移除后不再隐式重建。
	tempFile, err := os.CreateTemp(p.dir, ".cache-*")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPartitionGone
		}
		return err
	}
	tempName := tempFile.Name()

	err = encodeEntry(tempFile, resp)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, p.entryPath(key)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (p *filePartition) Remove(ctx context.Context, key string) error {
	unlock := p.store.lockEntry(p.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(p.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (p *filePartition) Entries(ctx context.Context) ([]Entry, error) {
	items, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrPartitionGone
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if item.IsDir() || !strings.HasSuffix(item.Name(), entrySuffix) {
			continue
		}
		f, err := os.Open(filepath.Join(p.dir, item.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		resp, err := decodeEntry(f)
		f.Close()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Partition: p.name,
			Key:       resp.Key,
			Status:    resp.Status,
			SizeBytes: int64(len(resp.Body)),
			StoredAt:  resp.StoredAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (p *filePartition) entryPath(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(p.dir, hex.EncodeToString(sum[:])+entrySuffix)
}

func (s *fileStore) partitionDir(name string) (string, error) {
	if !validPartitionName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.basePath, name), nil
}

func (s *fileStore) lockEntry(partition, key string) func() {
	lockKey := partition + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// 条目文件格式：第一行是 JSON 元信息，其后为原始正文。
func encodeEntry(w io.Writer, resp StoredResponse) error {
	meta, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(meta); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := bw.Write(resp.Body); err != nil {
		return err
	}
	return bw.Flush()
}

func decodeEntry(r io.Reader) (*StoredResponse, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var resp StoredResponse
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	return &resp, nil
}
