// Package kv is the process-wide key-value service behind the banner
// selection. Every Set is announced to subscribers as a Change; with the
// Redis backend the announcement reaches other processes too.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv store closed")

// Change carries the key and the value it was set to.
type Change struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Store is a string key-value store with change notifications. Concurrent
// writers to the same key race; the last write wins.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Subscribe returns a channel of changes and a func that ends the
	// subscription. The channel is also closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan Change, func())
	Close() error
}
