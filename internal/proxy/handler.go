package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/ticks-app/ticks/internal/config"
	"github.com/ticks-app/ticks/internal/logging"
	"github.com/ticks-app/ticks/internal/metrics"
	"github.com/ticks-app/ticks/internal/server"
	"github.com/ticks-app/ticks/internal/version"
)

const (
	// EventsPath and ImagePath are the public routes of the two endpoints.
	EventsPath = "/api/ticketmaster-events"
	ImagePath  = "/api/ticketmaster-image"

	eventsEndpoint = "events"
	imageEndpoint  = "image"
	eventsAPIPath  = "/discovery/v2/events.json"

	msgEventsUpstream = "Error fetching data from Ticketmaster"
	msgInternal       = "Internal Server Error"
	msgImageRequired  = "imageUrl query parameter is required"

	defaultMaxImageBytes = 10 * 1024 * 1024
)

// ErrImageTooLarge 表示上游图片超过 Proxy.MaxImageBytes。
var ErrImageTooLarge = errors.New("image exceeds size limit")

// Handler 负责两个只读转发接口：活动搜索与任意图片代理。
type Handler struct {
	client  *http.Client
	cfg     config.ProxyConfig
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewHandler 构造 Handler；metrics 可以为 nil。
func NewHandler(client *http.Client, cfg config.ProxyConfig, logger *logrus.Logger, m *metrics.Metrics) (*Handler, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if _, err := url.Parse(cfg.EventsBaseURL); err != nil || cfg.EventsBaseURL == "" {
		return nil, fmt.Errorf("invalid events base url %q", cfg.EventsBaseURL)
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}
	return &Handler{client: client, cfg: cfg, logger: logger, metrics: m}, nil
}

// Register mounts both endpoints on router.
func Register(router fiber.Router, h *Handler) {
	router.Get(EventsPath, h.guard(eventsEndpoint, h.Events))
	router.Get(ImagePath, h.guard(imageEndpoint, h.Image))
}

// Events forwards the caller's query plus the API key to the events search API.
func (h *Handler) Events(c fiber.Ctx) error {
	started := time.Now()
	target, err := h.eventsURL(string(c.Request().URI().QueryString()))
	if err != nil {
		return h.fail(c, eventsEndpoint, "", started, err)
	}
	logTarget := h.cfg.EventsBaseURL + eventsAPIPath

	resp, err := h.get(requestContext(c), target)
	if err != nil {
		return h.fail(c, eventsEndpoint, logTarget, started, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upErr := newUpstreamError(eventsEndpoint, resp)
		h.finish(c, eventsEndpoint, logTarget, started, upErr.Status, upErr)
		return c.Status(upErr.Status).JSON(fiber.Map{"error": msgEventsUpstream})
	}

	var payload json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return h.fail(c, eventsEndpoint, logTarget, started, fmt.Errorf("decode events payload: %w", err))
	}

	h.finish(c, eventsEndpoint, logTarget, started, fiber.StatusOK, nil)
	c.Set(fiber.HeaderCacheControl, h.cfg.EventsCacheControl)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Status(fiber.StatusOK).Send(payload)
}

// Image fetches imageUrl and passes its bytes through.
func (h *Handler) Image(c fiber.Ctx) error {
	started := time.Now()
	imageURL := c.Query("imageUrl")
	if imageURL == "" {
		h.finish(c, imageEndpoint, "", started, fiber.StatusBadRequest, nil)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msgImageRequired})
	}

	parsed, err := url.Parse(imageURL)
	if err == nil && parsed.Scheme != "http" && parsed.Scheme != "https" {
		err = fmt.Errorf("unsupported image url scheme %q", parsed.Scheme)
	}
	if err != nil {
		return h.fail(c, imageEndpoint, "", started, err)
	}
	logTarget := parsed.Redacted()

	resp, err := h.get(requestContext(c), parsed.String())
	if err != nil {
		return h.fail(c, imageEndpoint, logTarget, started, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upErr := newUpstreamError(imageEndpoint, resp)
		h.finish(c, imageEndpoint, logTarget, started, upErr.Status, upErr)
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(upErr.Status).SendString(upErr.StatusText)
	}

	body, err := readLimited(resp, h.cfg.MaxImageBytes)
	if err != nil {
		return h.fail(c, imageEndpoint, logTarget, started, fmt.Errorf("read image: %w", err))
	}

	h.finish(c, imageEndpoint, logTarget, started, fiber.StatusOK, nil)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	return c.Status(fiber.StatusOK).Send(body)
}

func (h *Handler) eventsURL(rawQuery string) (string, error) {
	base, err := url.Parse(h.cfg.EventsBaseURL)
	if err != nil {
		return "", err
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("parse query: %w", err)
	}
	query.Del("apikey")
	if h.cfg.HasAPIKey() {
		query.Set("apikey", h.cfg.TicketmasterAPIKey)
	}
	base.Path = strings.TrimRight(base.Path, "/") + eventsAPIPath
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func (h *Handler) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	return h.client.Do(req)
}

// fail 统一输出 500 与日志，上游错误细节只进日志不回给调用方。
func (h *Handler) fail(c fiber.Ctx, endpoint, upstream string, started time.Time, err error) error {
	h.finish(c, endpoint, upstream, started, fiber.StatusInternalServerError, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msgInternal})
}

func (h *Handler) finish(c fiber.Ctx, endpoint, upstream string, started time.Time, status int, err error) {
	h.metrics.ObserveProxy(endpoint, status)

	fields := logging.ProxyFields(endpoint, upstream)
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if reqID := server.RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	entry := h.logger.WithFields(fields)
	switch {
	case status >= fiber.StatusInternalServerError:
		entry.WithError(err).Error("proxy_failed")
	case err != nil:
		entry.WithError(err).Warn("proxy_upstream_error")
	default:
		entry.Info("proxy_completed")
	}
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// readLimited 最多读取 limit 字节；声明或实际长度超出时返回 ErrImageTooLarge。
func readLimited(resp *http.Response, limit int64) ([]byte, error) {
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: content-length %d > %d", ErrImageTooLarge, resp.ContentLength, limit)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, limit)
	}
	return body, nil
}
