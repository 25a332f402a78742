// Package banner stores the banner image chosen by the user and announces
// changes to every open page.
package banner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ticks-app/ticks/internal/config"
	"github.com/ticks-app/ticks/internal/kv"
)

// Key is the kv key holding the selected image.
const Key = "bannerImage"

var (
	ErrImageRequired = errors.New("image is required")
	ErrImageTooLarge = errors.New("image exceeds the size limit")
	ErrInvalidImage  = errors.New("malformed data url")
)

// Banner is the image pages should show. Custom is false when no image has
// been chosen and the default is in use.
type Banner struct {
	Image  string `json:"image"`
	Custom bool   `json:"custom"`
}

// Service reads and writes the banner through a kv.Store.
type Service struct {
	store        kv.Store
	defaultImage string
	maxBytes     int64
	logger       *logrus.Logger
}

// NewService wires a Service from the [Banner] config section.
func NewService(store kv.Store, cfg config.BannerConfig, logger *logrus.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		store:        store,
		defaultImage: cfg.DefaultImage,
		maxBytes:     cfg.MaxImageBytes,
		logger:       logger,
	}, nil
}

// Current returns the stored image, or the default when none is stored.
func (s *Service) Current(ctx context.Context) (Banner, error) {
	value, ok, err := s.store.Get(ctx, Key)
	if err != nil {
		return Banner{}, fmt.Errorf("load banner: %w", err)
	}
	return s.banner(value, ok), nil
}

// Set stores image, either a URL or a data URL, and notifies watchers.
func (s *Service) Set(ctx context.Context, image string) (Banner, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return Banner{}, ErrImageRequired
	}
	if strings.HasPrefix(image, "data:") && s.maxBytes > 0 {
		size, err := dataURLSize(image)
		if err != nil {
			return Banner{}, err
		}
		if size > s.maxBytes {
			return Banner{}, fmt.Errorf("%w: %d bytes > %d", ErrImageTooLarge, size, s.maxBytes)
		}
	}
	if err := s.store.Set(ctx, Key, image); err != nil {
		return Banner{}, fmt.Errorf("save banner: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"action":    "banner_set",
		"data_url":  strings.HasPrefix(image, "data:"),
		"value_len": len(image),
	}).Info("banner_updated")
	return s.banner(image, true), nil
}

// Watch delivers the banner every time it changes until ctx is done or stop
// is called.
func (s *Service) Watch(ctx context.Context) (<-chan Banner, func()) {
	changes, stop := s.store.Subscribe(ctx)
	out := make(chan Banner, 1)
	go func() {
		defer close(out)
		for change := range changes {
			if change.Key != Key {
				continue
			}
			select {
			case out <- s.banner(change.Value, change.Value != ""):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, stop
}

func (s *Service) banner(value string, ok bool) Banner {
	if !ok || value == "" {
		return Banner{Image: s.defaultImage}
	}
	return Banner{Image: value, Custom: true}
}

// dataURLSize returns the decoded payload size of a data: URL.
func dataURLSize(raw string) (int64, error) {
	meta, payload, found := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !found {
		return 0, ErrInvalidImage
	}
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		payload = strings.TrimRight(payload, "=")
		return int64(base64.RawStdEncoding.DecodedLen(len(payload))), nil
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return int64(len(decoded)), nil
}
