package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/ticks-app/ticks/internal/server"
)

// guard 捕获 handler 内的 panic，按接口约定返回 500 JSON 并记录日志。
func (h *Handler) guard(endpoint string, next fiber.Handler) fiber.Handler {
	return func(c fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = h.respondPanic(c, endpoint, r)
			}
		}()
		return next(c)
	}
}

func (h *Handler) respondPanic(c fiber.Ctx, endpoint string, recovered interface{}) error {
	fields := logrus.Fields{
		"action":   "proxy",
		"endpoint": endpoint,
		"error":    "handler_panic",
	}
	requestID := server.RequestID(c)
	if requestID != "" {
		fields["request_id"] = requestID
		c.Set("X-Request-ID", requestID)
	}
	h.logger.WithFields(fields).Error(fmt.Sprintf("panic: %v", recovered))
	h.metrics.ObserveProxy(endpoint, fiber.StatusInternalServerError)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msgInternal})
}
