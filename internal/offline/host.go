package offline

import (
	"container/list"
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/ticks-app/ticks/internal/cache"
	"github.com/ticks-app/ticks/internal/logging"
	"github.com/ticks-app/ticks/internal/metrics"
	"github.com/ticks-app/ticks/internal/server"
)

// SourceHeader names the response header that reports where a response came from.
const SourceHeader = "X-Ticks-Source"

// DefaultMaxClients bounds the remembered client sessions when Options.MaxClients is 0.
const DefaultMaxClients = 10000

// Host drives cache versions through install and activate, and routes client
// requests to the version that controls them. A client that is not yet
// controlled gets plain network responses until it navigates or a version
// claims it.
//
// Only clients that opened a document (navigated) are remembered. The set is
// capped at MaxClients; the least recently seen client is forgotten first.
type Host struct {
	opts    Options
	store   cache.Store
	fetcher Fetcher
	logger  *logrus.Logger
	metrics *metrics.Metrics

	updateMu sync.Mutex

	mu         sync.RWMutex
	active     *Manager
	waiting    *Manager
	maxClients int
	clients    map[string]*list.Element
	recent     *list.List // *clientEntry, most recently seen first
}

type clientEntry struct {
	id      string
	version string
}

// NewHost creates a host with no active version. Call Update to install one.
func NewHost(opts Options, store cache.Store, fetcher Fetcher, logger *logrus.Logger, m *metrics.Metrics) (*Host, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if store == nil || fetcher == nil {
		return nil, errors.New("cache store and fetcher are required")
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	maxClients := opts.MaxClients
	if maxClients == 0 {
		maxClients = DefaultMaxClients
	}
	return &Host{
		opts:       opts,
		store:      store,
		fetcher:    fetcher,
		logger:     logger,
		metrics:    m,
		maxClients: maxClients,
		clients:    make(map[string]*list.Element),
		recent:     list.New(),
	}, nil
}

// Update installs a fresh manager for the configured version. If the install
// succeeds and the version skips waiting, or nothing is active yet, it is
// activated right away. A failed install leaves the current version in place.
func (h *Host) Update(ctx context.Context) error {
	h.updateMu.Lock()
	defer h.updateMu.Unlock()

	mgr, err := NewManager(h.opts, h.store, h.fetcher, h.logger, h.metrics)
	if err != nil {
		return err
	}
	if err := mgr.Install(ctx); err != nil {
		return err
	}

	h.mu.RLock()
	hasActive := h.active != nil
	h.mu.RUnlock()

	if hasActive && !mgr.SkipWaiting() {
		h.mu.Lock()
		h.waiting = mgr
		h.mu.Unlock()
		return nil
	}

	// Activate calls back into Claim, so h.mu must not be held here.
	if err := mgr.Activate(ctx, h); err != nil {
		return err
	}
	h.mu.Lock()
	h.active = mgr
	h.waiting = nil
	h.mu.Unlock()
	return nil
}

// Claim marks every known client as controlled by version and returns how
// many clients were claimed.
func (h *Host) Claim(version string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for e := h.recent.Front(); e != nil; e = e.Next() {
		e.Value.(*clientEntry).version = version
	}
	return h.recent.Len()
}

// Active returns the active manager, or nil.
func (h *Host) Active() *Manager {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// Serve resolves req for clientID.
func (h *Host) Serve(ctx context.Context, clientID string, req *Request) (*Response, error) {
	mgr := h.controller(clientID, req.IsNavigation())
	if mgr == nil {
		return h.fetcher.Fetch(ctx, req)
	}
	return mgr.Fetch(ctx, req)
}

// controller returns the manager that should serve clientID, or nil for a
// plain network passthrough. A navigation opens a new document: the client is
// remembered and the active version, if any, controls it. Sub-resource
// requests from clients that never navigated leave no trace.
func (h *Host) controller(clientID string, navigation bool) *Manager {
	h.mu.Lock()
	defer h.mu.Unlock()

	if navigation {
		version := ""
		if h.active != nil {
			version = h.active.Version()
		}
		h.rememberClient(clientID, version)
		return h.active
	}

	e, known := h.clients[clientID]
	if !known || h.active == nil {
		return nil
	}
	h.recent.MoveToFront(e)
	if e.Value.(*clientEntry).version != h.active.Version() {
		return nil
	}
	return h.active
}

// rememberClient records clientID as seen now and evicts the least recently
// seen clients beyond maxClients. Callers hold h.mu.
func (h *Host) rememberClient(clientID, version string) {
	if clientID == "" {
		return
	}
	if e, ok := h.clients[clientID]; ok {
		e.Value.(*clientEntry).version = version
		h.recent.MoveToFront(e)
		return
	}
	h.clients[clientID] = h.recent.PushFront(&clientEntry{id: clientID, version: version})
	for h.recent.Len() > h.maxClients {
		oldest := h.recent.Back()
		h.recent.Remove(oldest)
		delete(h.clients, oldest.Value.(*clientEntry).id)
	}
}

// Handle serves an intercepted HTTP request through Serve.
func (h *Host) Handle(c fiber.Ctx) error {
	req, err := NewRequest(c.Method(), string(c.Request().RequestURI()))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request target")
	}
	c.Request().Header.VisitAll(func(key, value []byte) {
		req.Header.Add(string(key), string(value))
	})
	req.Mode = ModeFromHeaders(req.Method, req.Header)
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := h.Serve(ctx, server.ClientID(c), req)
	if err != nil {
		return h.writeError(c, req, err)
	}

	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) || key == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Append(key, value)
		}
	}
	c.Set(SourceHeader, resp.Source)
	c.Status(resp.Status)
	if req.Method == http.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

func (h *Host) writeError(c fiber.Ctx, req *Request, err error) error {
	code := "upstream_failed"
	var cacheMiss *CacheMissError
	switch {
	case errors.Is(err, ErrAssetNotFound):
		code = "asset_not_found"
	case errors.As(err, &cacheMiss):
		code = "offline_unavailable"
	}
	h.logger.WithFields(logrus.Fields{
		"action":     "offline_fetch",
		"cache_key":  req.Key(),
		"request_id": server.RequestID(c),
		"code":       code,
	}).WithError(err).Warn("offline_request_failed")
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": code})
}

// PartitionStatus describes one stored partition.
type PartitionStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// Status is the diagnostics view of the host.
type Status struct {
	Version     string            `json:"version"`
	Phase       string            `json:"phase"`
	SkipWaiting bool              `json:"skip_waiting"`
	Waiting     string            `json:"waiting,omitempty"`
	Clients     int               `json:"clients"`
	Controlled  int               `json:"controlled"`
	Partitions  []PartitionStatus `json:"partitions"`
}

// Status reports the active version, client counts and stored partitions.
func (h *Host) Status(ctx context.Context) (Status, error) {
	h.mu.RLock()
	st := Status{Version: h.opts.Version, Phase: PhaseParsed.String(), Clients: h.recent.Len()}
	current := map[string]bool{}
	if h.active != nil {
		st.Version = h.active.Version()
		st.Phase = h.active.Phase().String()
		st.SkipWaiting = h.active.SkipWaiting()
		for _, name := range h.active.Partitions() {
			current[name] = true
		}
		for e := h.recent.Front(); e != nil; e = e.Next() {
			if e.Value.(*clientEntry).version == st.Version {
				st.Controlled++
			}
		}
	}
	if h.waiting != nil {
		st.Waiting = h.waiting.Version()
	}
	h.mu.RUnlock()

	names, err := h.store.Keys(ctx)
	if err != nil {
		return st, err
	}
	sort.Strings(names)
	for _, name := range names {
		part, err := h.store.Open(ctx, name)
		if err != nil {
			return st, err
		}
		entries, err := part.Entries(ctx)
		if err != nil {
			return st, err
		}
		st.Partitions = append(st.Partitions, PartitionStatus{Name: name, Entries: len(entries), Current: current[name]})
	}
	return st, nil
}
