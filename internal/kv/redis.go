package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys, e.g. "ticks" stores bannerImage as ticks:bannerImage.
	Prefix string
	// Channel carries change notifications between processes.
	Channel string
}

type redisStore struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	opts    RedisOptions
	hub     *broadcaster
	logger  *logrus.Logger
	stopped chan struct{}
}

// OpenRedis connects to Redis and starts relaying the change channel to local
// subscribers. Sets made by any process sharing the channel are delivered.
func OpenRedis(opts RedisOptions, logger *logrus.Logger) (Store, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if opts.Channel == "" {
		return nil, errors.New("redis channel is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	pubsub := client.Subscribe(ctx, opts.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe %s: %w", opts.Channel, err)
	}

	s := &redisStore{
		client:  client,
		pubsub:  pubsub,
		opts:    opts,
		hub:     newBroadcaster(),
		logger:  logger,
		stopped: make(chan struct{}),
	}
	go s.relay()
	return s, nil
}

func (s *redisStore) namespaced(key string) string {
	if s.opts.Prefix == "" {
		return key
	}
	return s.opts.Prefix + ":" + key
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.namespaced(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.mapErr(err)
	}
	return val, true, nil
}

// Set stores the value and publishes the change. Local subscribers receive it
// through the relay like every other process does.
func (s *redisStore) Set(ctx context.Context, key, value string) error {
	payload, err := json.Marshal(Change{Key: key, Value: value})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.namespaced(key), value, 0).Err(); err != nil {
		return s.mapErr(err)
	}
	if err := s.client.Publish(ctx, s.opts.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", s.mapErr(err))
	}
	return nil
}

func (s *redisStore) Subscribe(ctx context.Context) (<-chan Change, func()) {
	return s.hub.subscribe(ctx)
}

func (s *redisStore) Close() error {
	err := s.pubsub.Close()
	<-s.stopped
	s.hub.close()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *redisStore) relay() {
	defer close(s.stopped)
	for msg := range s.pubsub.Channel() {
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			if s.logger != nil {
				s.logger.WithFields(logrus.Fields{
					"action":  "kv_relay",
					"channel": msg.Channel,
				}).WithError(err).Warn("kv_change_decode_failed")
			}
			continue
		}
		s.hub.publish(change)
	}
}

func (s *redisStore) mapErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return err
}
