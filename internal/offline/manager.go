package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ticks-app/ticks/internal/cache"
	"github.com/ticks-app/ticks/internal/config"
	"github.com/ticks-app/ticks/internal/logging"
	"github.com/ticks-app/ticks/internal/metrics"
)

// Phase is the lifecycle state of one cache version.
type Phase int

const (
	PhaseParsed Phase = iota
	PhaseInstalling
	PhaseInstalled
	PhaseActivating
	PhaseActivated
	PhaseRedundant
)

func (p Phase) String() string {
	switch p {
	case PhaseParsed:
		return "parsed"
	case PhaseInstalling:
		return "installing"
	case PhaseInstalled:
		return "installed"
	case PhaseActivating:
		return "activating"
	case PhaseActivated:
		return "activated"
	case PhaseRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Options describes one cache version.
type Options struct {
	Version          string
	PagePartition    string
	AssetPartition   string
	Pages            []string
	Assets           []string
	OfflinePage      string
	PlaceholderImage string
	NetworkTimeout   time.Duration
	// MaxClients caps the client sessions a host remembers; 0 means DefaultMaxClients.
	MaxClients       int
}

// OptionsFromConfig maps the [Offline] config section onto manager options.
func OptionsFromConfig(cfg config.OfflineConfig) Options {
	return Options{
		Version:          cfg.Version,
		PagePartition:    cfg.PagePartition,
		AssetPartition:   cfg.AssetPartition,
		Pages:            append([]string(nil), cfg.Pages...),
		Assets:           append([]string(nil), cfg.Assets...),
		OfflinePage:      cfg.OfflinePage,
		PlaceholderImage: cfg.PlaceholderImage,
		NetworkTimeout:   cfg.NetworkTimeout.DurationValue(),
		MaxClients:       cfg.MaxClients,
	}
}

func (o Options) validate() error {
	switch {
	case o.Version == "":
		return errors.New("version is required")
	case o.PagePartition == "" || o.AssetPartition == "":
		return errors.New("partition names are required")
	case o.PagePartition == o.AssetPartition:
		return errors.New("page and asset partitions must differ")
	case o.NetworkTimeout <= 0:
		return errors.New("network timeout must be positive")
	case o.MaxClients < 0:
		return errors.New("max clients must not be negative")
	}
	return nil
}

// Claimer takes control of open client sessions on behalf of a version.
type Claimer interface {
	Claim(version string) int
}

// Manager owns one cache version: its partitions, its lifecycle phase and the
// request routing that serves from them.
type Manager struct {
	opts       Options
	store      cache.Store
	fetcher    Fetcher
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	classifier classifier

	mu          sync.RWMutex
	phase       Phase
	skipWaiting bool
}

// NewManager builds a manager in PhaseParsed. metrics may be nil.
func NewManager(opts Options, store cache.Store, fetcher Fetcher, logger *logrus.Logger, m *metrics.Metrics) (*Manager, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Manager{
		opts:       opts,
		store:      store,
		fetcher:    fetcher,
		logger:     logger,
		metrics:    m,
		classifier: newClassifier(opts.Pages, opts.Assets),
		phase:      PhaseParsed,
	}, nil
}

// Version returns the version label.
func (m *Manager) Version() string { return m.opts.Version }

// Partitions returns the page and asset partition names.
func (m *Manager) Partitions() []string {
	return []string{m.opts.PagePartition, m.opts.AssetPartition}
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// SkipWaiting reports whether the version asked to replace the active one
// without waiting for its clients to go away.
func (m *Manager) SkipWaiting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipWaiting
}

func (m *Manager) transition(from []Phase, to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range from {
		if m.phase == p {
			m.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidPhase, m.phase, to)
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// Install opens both partitions and precaches the page and asset lists. Any
// failed fetch fails the install and leaves the manager redundant.
// Install may run again on an installed manager; entries are overwritten.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.transition([]Phase{PhaseParsed, PhaseInstalled}, PhaseInstalling); err != nil {
		return err
	}
	started := time.Now()
	fields := logging.LifecycleFields("install", m.opts.Version, m.Partitions())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.precache(gctx, m.opts.PagePartition, m.opts.Pages)
	})
	g.Go(func() error {
		return m.precache(gctx, m.opts.AssetPartition, m.opts.Assets)
	})
	if err := g.Wait(); err != nil {
		m.setPhase(PhaseRedundant)
		m.metrics.ObserveLifecycle("install", err)
		m.logger.WithFields(fields).WithError(err).Error("install_failed")
		return fmt.Errorf("install %s: %w", m.opts.Version, err)
	}

	m.mu.Lock()
	m.phase = PhaseInstalled
	m.skipWaiting = true
	m.mu.Unlock()

	m.metrics.ObserveLifecycle("install", nil)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	m.logger.WithFields(fields).Info("install_completed")
	return nil
}

func (m *Manager) precache(ctx context.Context, name string, urls []string) error {
	part, err := m.store.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open partition %s: %w", name, err)
	}
	return AddAll(ctx, part, m.fetcher, urls)
}

// AddAll fetches every url and stores the responses in part. Nothing is stored
// unless every fetch succeeds with a 2xx status.
func AddAll(ctx context.Context, part cache.Partition, fetcher Fetcher, urls []string) error {
	type fetched struct {
		key  string
		resp *Response
	}
	results := make([]fetched, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range urls {
		g.Go(func() error {
			req, err := NewRequest(http.MethodGet, target)
			if err != nil {
				return &FetchError{URL: target, Err: err}
			}
			resp, err := fetcher.Fetch(gctx, req)
			if err != nil {
				return &FetchError{URL: target, Err: err}
			}
			if !resp.OK() {
				return &FetchError{URL: target, Status: resp.Status}
			}
			results[i] = fetched{key: req.Key(), resp: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if err := part.Put(ctx, r.key, r.resp.snapshot(r.key)); err != nil {
			return fmt.Errorf("store %s in %s: %w", r.key, part.Name(), err)
		}
	}
	return nil
}

// Activate deletes every partition that does not belong to this version and
// then lets claimer take over open client sessions. claimer may be nil.
func (m *Manager) Activate(ctx context.Context, claimer Claimer) error {
	if err := m.transition([]Phase{PhaseInstalled}, PhaseActivating); err != nil {
		return err
	}
	fields := logging.LifecycleFields("activate", m.opts.Version, m.Partitions())

	deleted, err := m.deleteStale(ctx)
	if err != nil {
		m.setPhase(PhaseInstalled)
		m.metrics.ObserveLifecycle("activate", err)
		m.logger.WithFields(fields).WithError(err).Error("activate_failed")
		return fmt.Errorf("activate %s: %w", m.opts.Version, err)
	}

	claimed := 0
	if claimer != nil {
		claimed = claimer.Claim(m.opts.Version)
	}
	m.setPhase(PhaseActivated)

	m.metrics.ObserveLifecycle("activate", nil)
	fields["deleted"] = deleted
	fields["claimed"] = claimed
	m.logger.WithFields(fields).Info("activate_completed")
	return nil
}

func (m *Manager) deleteStale(ctx context.Context) ([]string, error) {
	names, err := m.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	var deleted []string
	for _, name := range names {
		if name == m.opts.PagePartition || name == m.opts.AssetPartition {
			continue
		}
		if _, err := m.store.Delete(ctx, name); err != nil {
			return deleted, fmt.Errorf("delete partition %s: %w", name, err)
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
