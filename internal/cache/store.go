package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Store 管理全部命名分区。各操作相互之间是原子的，但不提供跨操作事务：
// Match 之后紧跟的 Put 不做隔离，后写者胜出。
type Store interface {
	// Open 打开（必要时创建）名为 name 的分区，重复调用是幂等的。
	Open(ctx context.Context, name string) (Partition, error)

	// Keys 返回当前存在的分区名，按字典序排列。
	Keys(ctx context.Context) ([]string, error)

	// Delete 删除分区及其全部条目，返回分区此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Match 按 Keys 的顺序在所有分区中查找 key，未命中返回 ErrNotFound。
	Match(ctx context.Context, key string) (*StoredResponse, error)
}

// Partition 是一个独立的 key → 响应快照映射。
type Partition interface {
	Name() string

	// Match 精确查找 key，未命中返回 ErrNotFound。
	Match(ctx context.Context, key string) (*StoredResponse, error)

	// Put 写入或覆盖 key 对应的快照。分区已被删除时返回 ErrPartitionGone。
	Put(ctx context.Context, key string, resp StoredResponse) error

	// Remove 删除单个条目，条目不存在时不报错。
	Remove(ctx context.Context, key string) error

	// Entries 列出分区内所有条目的元信息，按 key 排序。
	Entries(ctx context.Context) ([]Entry, error)
}

// StoredResponse 是写入缓存时响应的不可变快照，可被重复读取。
type StoredResponse struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone 返回与原快照互不共享底层数据的副本。
func (r StoredResponse) Clone() StoredResponse {
	cloned := r
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return cloned
}

// Entry 描述分区内的一个条目，供诊断接口输出。
type Entry struct {
	Partition string    `json:"partition"`
	Key       string    `json:"key"`
	Status    int       `json:"status"`
	SizeBytes int64     `json:"size_bytes"`
	StoredAt  time.Time `json:"stored_at"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrPartitionGone 表示目标分区已被删除。
	ErrPartitionGone = errors.New("cache partition deleted")
	// ErrInvalidName 表示分区名不合法。
	ErrInvalidName = errors.New("invalid partition name")
)

// RequestKey 将方法与请求目标（path[?query]）归一化为缓存键。
func RequestKey(method, target string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if target == "" {
		target = "/"
	}
	return method + " " + target
}

func validPartitionName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
