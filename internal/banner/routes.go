package banner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/ticks-app/ticks/internal/server"
)

const (
	Path       = "/api/banner"
	EventsPath = "/api/banner/events"

	heartbeatInterval = 15 * time.Second
)

type setRequest struct {
	Image string `json:"image"`
}

// Register mounts the banner API on router.
func Register(router fiber.Router, svc *Service) {
	router.Get(Path, svc.handleGet)
	router.Put(Path, svc.handlePut)
	router.Get(EventsPath, svc.handleEvents)
}

func (s *Service) handleGet(c fiber.Ctx) error {
	b, err := s.Current(c.Context())
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(b)
}

func (s *Service) handlePut(c fiber.Ctx) error {
	var req setRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
	}
	b, err := s.Set(c.Context(), req.Image)
	switch {
	case errors.Is(err, ErrImageRequired):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "image_required"})
	case errors.Is(err, ErrImageTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "image_too_large"})
	case errors.Is(err, ErrInvalidImage):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_image"})
	case err != nil:
		s.logger.WithFields(logrus.Fields{
			"action":     "banner_set",
			"request_id": server.RequestID(c),
		}).WithError(err).Error("banner_update_failed")
		return err
	}
	return c.JSON(b)
}

// handleEvents streams the current banner and then every change as
// server-sent events.
func (s *Service) handleEvents(c fiber.Ctx) error {
	current, err := s.Current(c.Context())
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// The stream outlives the handler, so it gets its own context.
	ctx, cancel := context.WithCancel(context.Background())
	changes, stop := s.Watch(ctx)
	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer stop()
		if err := writeEvent(w, current); err != nil {
			return
		}
		streamBanners(w, changes, heartbeatInterval)
	})
}

// streamBanners writes every banner from changes until the channel closes or
// the client goes away. Heartbeat comments detect dead connections.
func streamBanners(w *bufio.Writer, changes <-chan Banner, heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case b, ok := <-changes:
			if !ok {
				return
			}
			if err := writeEvent(w, b); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w *bufio.Writer, b Banner) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: banner\ndata: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}
