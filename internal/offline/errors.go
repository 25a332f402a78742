package offline

import (
	"errors"
	"fmt"
	"time"

	"github.com/ticks-app/ticks/internal/cache"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("network fetch timed out")
	// ErrAssetNotFound is returned when an asset is neither cached nor reachable.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrInvalidPhase is returned when a lifecycle step runs out of order.
	ErrInvalidPhase = errors.New("invalid lifecycle phase")
)

// FetchError reports an unreachable network, or a non-2xx status where a
// successful response was required.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that the network did not answer within After.
type TimeoutError struct {
	URL   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch %s: timed out after %s", e.URL, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// CacheMissError reports that no stored entry exists where one was required.
// Err carries the network failure that made the lookup necessary.
type CacheMissError struct {
	Key string
	Err error
}

func (e *CacheMissError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no cached response for %s (network: %v)", e.Key, e.Err)
	}
	return fmt.Sprintf("no cached response for %s", e.Key)
}

func (e *CacheMissError) Unwrap() []error {
	if e.Err == nil {
		return []error{cache.ErrNotFound}
	}
	return []error{cache.ErrNotFound, e.Err}
}
