package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ticks-app/ticks/internal/metrics"
	"github.com/ticks-app/ticks/internal/offline"
	"github.com/ticks-app/ticks/internal/server"
)

// LifecycleHost 是诊断接口依赖的离线生命周期宿主。
type LifecycleHost interface {
	Status(ctx context.Context) (offline.Status, error)
	Update(ctx context.Context) error
}

// RegisterDiagnostics 暴露 /-/status、/-/lifecycle/install 与 /-/metrics，供运维排查缓存版本与分区。
func RegisterDiagnostics(app *fiber.App, host LifecycleHost, gatherer prometheus.Gatherer, logger *logrus.Logger) {
	if app == nil || host == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		status, err := host.Status(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(status)
	})

	app.Post("/-/lifecycle/install", func(c fiber.Ctx) error {
		started := time.Now()
		if err := host.Update(c.Context()); err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"action":     "install",
					"request_id": server.RequestID(c),
				}).WithError(err).Warn("manual_install_failed")
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   "install_failed",
				"message": err.Error(),
			})
		}
		status, err := host.Status(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"status":     status,
			"elapsed_ms": time.Since(started).Milliseconds(),
		})
	})

	if gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler(gatherer)))
	}
}
