package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ticks-app/ticks/internal/cache"
	"github.com/ticks-app/ticks/internal/logging"
)

// Fetch classifies req and resolves it with the matching strategy.
func (m *Manager) Fetch(ctx context.Context, req *Request) (*Response, error) {
	started := time.Now()
	class := m.classifier.classify(req)

	var (
		resp *Response
		err  error
	)
	switch class {
	case ClassAsset:
		resp, err = m.fetchAsset(ctx, req)
	case ClassPage:
		resp, err = m.fetchPage(ctx, req)
	default:
		resp, err = m.fetchOther(ctx, req)
	}

	source := ""
	if resp != nil {
		source = resp.Source
	}
	m.metrics.ObserveOffline(class.String(), source, time.Since(started))
	m.logFetch(req, class, source, started, err)
	return resp, err
}

// Classify exposes the routing decision for diagnostics.
func (m *Manager) Classify(req *Request) Classification {
	return m.classifier.classify(req)
}

// fetchAsset: cache first, then network, then the placeholder icon for images.
func (m *Manager) fetchAsset(ctx context.Context, req *Request) (*Response, error) {
	cached, err := m.store.Match(ctx, req.Key())
	if err == nil {
		return fromStored(cached, SourceCache), nil
	}

	var cause error
	if errors.Is(err, cache.ErrNotFound) {
		resp, fetchErr := m.fetcher.Fetch(ctx, req)
		if fetchErr == nil {
			return resp, nil
		}
		cause = &FetchError{URL: req.Target(), Err: fetchErr}
	} else {
		cause = fmt.Errorf("cache lookup %s: %w", req.Key(), err)
	}

	if isImagePath(req.Path) {
		placeholderKey := cache.RequestKey(http.MethodGet, m.opts.PlaceholderImage)
		placeholder, perr := m.store.Match(ctx, placeholderKey)
		if perr == nil {
			return fromStored(placeholder, SourcePlaceholder), nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrAssetNotFound, req.Path, &CacheMissError{Key: placeholderKey, Err: cause})
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrAssetNotFound, req.Path, cause)
}

// fetchPage: network first under the timeout, refreshing the page partition on
// success; cached copy, then the offline page for navigations, on failure.
func (m *Manager) fetchPage(ctx context.Context, req *Request) (*Response, error) {
	resp, netErr := fetchWithTimeout(ctx, m.fetcher, req, m.opts.NetworkTimeout)
	if netErr == nil {
		if req.Method == http.MethodGet {
			m.refreshPage(ctx, req, resp.Clone())
		}
		return resp, nil
	}

	key := req.Key()
	if cached, err := m.store.Match(ctx, key); err == nil {
		return fromStored(cached, SourceCache), nil
	}

	if req.IsNavigation() {
		offlineKey := cache.RequestKey(http.MethodGet, m.opts.OfflinePage)
		if page, err := m.store.Match(ctx, offlineKey); err == nil {
			return fromStored(page, SourceOfflinePage), nil
		}
		return nil, &CacheMissError{Key: offlineKey, Err: netErr}
	}
	return nil, &CacheMissError{Key: key, Err: netErr}
}

// fetchOther: cache first, plain network fetch otherwise. Network errors are
// returned unchanged for the host's default handling.
func (m *Manager) fetchOther(ctx context.Context, req *Request) (*Response, error) {
	if cached, err := m.store.Match(ctx, req.Key()); err == nil {
		return fromStored(cached, SourceCache), nil
	}
	return m.fetcher.Fetch(ctx, req)
}

func (m *Manager) refreshPage(ctx context.Context, req *Request, snapshot *Response) {
	putCtx := context.WithoutCancel(ctx)
	part, err := m.store.Open(putCtx, m.opts.PagePartition)
	if err == nil {
		err = part.Put(putCtx, req.Key(), snapshot.snapshot(req.Key()))
	}
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"action":    "cache_put",
			"partition": m.opts.PagePartition,
			"cache_key": req.Key(),
		}).Warn("cache_put_failed")
	}
}

func (m *Manager) logFetch(req *Request, class Classification, source string, started time.Time, err error) {
	fields := logging.RequestFields(class.String(), source, req.Key())
	fields["version"] = m.opts.Version
	fields["mode"] = string(req.Mode)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Warn("offline_fetch_failed")
		return
	}
	m.logger.WithFields(fields).Debug("offline_fetch")
}
