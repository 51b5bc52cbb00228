// Package redisclient adapts github.com/redis/go-redis/v9 to the
// kvstore.Client contract, in the same shape as the teacher's
// internal/realtime/bus/redis_bus.go: a plain value store (GET/SET) plus
// a pub/sub forwarder goroutine per subscription, with the publish
// issued from the same Put call that persists the value. Redis pub/sub
// is at-most-once and a failed publish is only logged, so fan-out is
// best-effort: Put returns after SET and PUBLISH without waiting for
// subscribers to observe the write, and a subscriber can miss an update
// that a later Get would return.
package redisclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/runnerkv/runner/internal/kvstore"
	"github.com/runnerkv/runner/internal/pkg/logger"
)

type Client struct {
	log    *logger.Logger
	rdb    *goredis.Client
	name   string
	prefix string

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	cancel context.CancelFunc
}

var _ kvstore.Client = (*Client)(nil)

// Config is the minimal dial configuration; DSNs/pooling knobs live in
// internal/config and are resolved by the caller.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key/channel this client touches, so
	// multiple runner deployments can share a Redis instance.
	Prefix string
}

func New(ctx context.Context, log *logger.Logger, name string, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redisclient: missing address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisclient: ping: %w", err)
	}

	return &Client{
		log:    log.With("component", "RedisKVClient"),
		rdb:    rdb,
		name:   name,
		prefix: cfg.Prefix,
		subs:   make(map[string]*subscription),
	}, nil
}

func (c *Client) Name() string { return c.name }

func (c *Client) key(path string) string {
	if c.prefix == "" {
		return path
	}
	return c.prefix + ":" + path
}

func (c *Client) Get(ctx context.Context, path string) ([]byte, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(path)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *Client) Put(ctx context.Context, path string, value []byte) error {
	key := c.key(path)
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return err
	}
	// Best-effort fan-out: subscribers reconcile via the channel; a
	// missed publish is corrected on the next rescan's Get.
	if err := c.rdb.Publish(ctx, key, value).Err(); err != nil {
		c.log.Warn("redis publish failed, relying on next rescan", "path", path, "error", err)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, path string, fn kvstore.WatchFunc) (func(), error) {
	key := c.key(path)
	sub := c.rdb.Subscribe(ctx, key)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redisclient: subscribe %s: %w", path, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				fn(subCtx, []byte(m.Payload))
			}
		}
	}()

	c.mu.Lock()
	id := path + fmt.Sprintf("#%p", &sub)
	c.subs[id] = &subscription{cancel: cancel}
	c.mu.Unlock()

	return func() {
		cancel()
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}, nil
}

func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := c.key(prefix) + "*"
	var out []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if c.prefix != "" {
			k = strings.TrimPrefix(k, c.prefix+":")
		}
		out = append(out, k)
	}
	return out, iter.Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	for _, s := range c.subs {
		s.cancel()
	}
	c.mu.Unlock()
	return c.rdb.Close()
}
