package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FetchHandler receives every request that is not an API or diagnostics call.
// The offline lifecycle host implements it; tests inject recorders.
type FetchHandler interface {
	Handle(fiber.Ctx) error
}

// FetchHandlerFunc adapts a function to the FetchHandler interface.
type FetchHandlerFunc func(fiber.Ctx) error

// Handle makes FetchHandlerFunc satisfy FetchHandler.
func (f FetchHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Fetch      FetchHandler
	ListenPort int
}

const (
	contextKeyRequestID = "_ticks_request_id"
	contextKeyClientID  = "_ticks_client_id"

	// ClientCookie identifies a browsing session across requests.
	ClientCookie = "ticks_client"
	// ClientHeader lets non-browser callers pin a session explicitly.
	ClientHeader = "X-Ticks-Client"

	// APIPrefix and DiagnosticsPrefix are served by explicitly registered routes.
	APIPrefix         = "/api/"
	DiagnosticsPrefix = "/-/"
)

// NewApp builds a Fiber application with request id and client session
// middleware. Routes under /api/ and /-/ must be registered by the caller;
// everything else is handed to opts.Fetch.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Fetch == nil {
		return nil, errors.New("fetch handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  jsonErrorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isReservedPath(c.Path()) {
			return c.Next()
		}
		return opts.Fetch.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并为每个浏览会话分配稳定的 client id。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isReservedPath(c.Path()) {
			return c.Next()
		}

		clientID := strings.TrimSpace(c.Get(ClientHeader))
		if clientID == "" {
			clientID = strings.TrimSpace(c.Cookies(ClientCookie))
		}
		if _, err := uuid.Parse(clientID); err != nil {
			clientID = uuid.NewString()
			c.Cookie(&fiber.Cookie{
				Name:     ClientCookie,
				Value:    clientID,
				Path:     "/",
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
				Expires:  time.Now().Add(365 * 24 * time.Hour),
			})
		}
		c.Locals(contextKeyClientID, clientID)
		return c.Next()
	}
}

func jsonErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			message := fe.Message
			// 路由未命中时 fiber 的消息形如 "Cannot GET /x"，改用标准状态文本。
			if strings.HasPrefix(message, "Cannot ") {
				message = http.StatusText(status)
			}
			code = strings.ToLower(strings.ReplaceAll(message, " ", "_"))
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "http_error",
				"path":       c.Path(),
				"request_id": RequestID(c),
			}).Error(err.Error())
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// ClientID returns the browsing session id assigned by the router middleware.
func ClientID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyClientID); value != nil {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

func isReservedPath(path string) bool {
	return strings.HasPrefix(path, APIPrefix) || strings.HasPrefix(path, DiagnosticsPrefix)
}
