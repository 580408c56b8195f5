// Package cache implements the cache-aside read policies layered over a
// backing load function: pass-through with null markers (penetration),
// mutex rebuild (breakdown) and logical expiration (avalanche plus
// breakdown for pre-warmed data). Writers never update entries in place;
// they mutate the backing store and delete the entry so the next read
// repopulates it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/citydeal/seckill/internal/port"
)

const (
	nullMarkerTTL  = 2 * time.Minute
	rebuildLockTTL = 10 * time.Second

	// a contended mutex rebuild is retried from the top of the lookup
	retryInterval = 50 * time.Millisecond
	maxAttempts   = 20

	rebuildTimeout = 5 * time.Second
)

var (
	// ErrNotFound covers both a true miss on the backing store and a null
	// marker: callers treat them the same, the load decision does not.
	ErrNotFound = errors.New("cache: entry not found")

	// ErrRebuildContended surfaces when the mutex policy exhausts its
	// retry budget without the entry appearing.
	ErrRebuildContended = errors.New("cache: rebuild lock contended")
)

// envelope wraps a logically-expiring value. The entry has no physical
// TTL; staleness is judged by ExpireAt alone.
type envelope struct {
	ExpireAt time.Time       `json:"expireAt"`
	Data     json.RawMessage `json:"data"`
}

// Client owns the connection to the shared store, the rebuild lock and a
// bounded pool of workers that run asynchronous logical-expire rebuilds.
type Client struct {
	rdb    *redis.Client
	locker port.Locker
	log    zerolog.Logger

	rebuilds chan func()
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewClient(rdb *redis.Client, locker port.Locker, rebuildWorkers int, logger zerolog.Logger) *Client {
	c := &Client{
		rdb:      rdb,
		locker:   locker,
		log:      logger,
		rebuilds: make(chan func(), rebuildWorkers*2),
		done:     make(chan struct{}),
	}
	for i := 0; i < rebuildWorkers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-c.done:
					return
				case job := <-c.rebuilds:
					job()
				}
			}
		}()
	}
	return c
}

// Close stops the rebuild pool. Rebuilds scheduled afterwards are dropped
// and surrender their lock; in-flight jobs run to completion.
func (c *Client) Close() {
	close(c.done)
	c.wg.Wait()
}

// Delete removes an entry; the write path for any backing-store mutation.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// GetWithPassThrough reads key, falling back to load on a miss. A load
// that finds nothing writes a short-lived null marker so repeated misses
// stop reaching the backing store. load returns nil for not-found.
func GetWithPassThrough[T any](ctx context.Context, c *Client, key string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	v, hit, err := lookup[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if hit {
		return v, nil
	}

	loaded, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := store(ctx, c, key, loaded, ttl); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("cache write failed")
	}
	if loaded == nil {
		return nil, ErrNotFound
	}
	return loaded, nil
}

// GetWithMutex serializes rebuilds of one key: on a miss, the caller that
// wins the rebuild lock loads and writes; everyone else sleeps briefly and
// retries the whole lookup. The retry budget is bounded; exhausting it
// surfaces ErrRebuildContended instead of recursing forever.
func GetWithMutex[T any](ctx context.Context, c *Client, key, lockResource string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		v, hit, err := lookup[T](ctx, c, key)
		if err != nil {
			return nil, err
		}
		if hit {
			return v, nil
		}

		token, err := c.locker.Acquire(ctx, lockResource, rebuildLockTTL)
		if errors.Is(err, port.ErrLockHeld) {
			time.Sleep(retryInterval)
			continue
		}
		if err != nil {
			return nil, err
		}

		loaded, loadErr := load(ctx)
		if loadErr == nil {
			if err := store(ctx, c, key, loaded, ttl); err != nil {
				c.log.Error().Err(err).Str("key", key).Msg("cache write failed")
			}
		}
		if err := c.locker.Release(ctx, lockResource, token); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("rebuild lock release failed")
		}
		if loadErr != nil {
			return nil, loadErr
		}
		if loaded == nil {
			return nil, ErrNotFound
		}
		return loaded, nil
	}
	return nil, ErrRebuildContended
}

// GetWithLogicalExpire serves pre-warmed entries only. A fresh entry is
// returned as-is; a stale one is returned immediately while at most one
// caller per expiry window schedules an asynchronous rebuild, so readers
// never block on the backing store. A cold key is simply not found: it is
// never a synchronous-load trigger.
func GetWithLogicalExpire[T any](ctx context.Context, c *Client, key, lockResource string, logicalTTL time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", key, err)
	}

	if time.Now().Before(env.ExpireAt) {
		return &v, nil
	}

	// Stale. Hand the old value back and try to schedule one rebuild;
	// losing the lock means someone else already did.
	token, err := c.locker.Acquire(ctx, lockResource, rebuildLockTTL)
	if err == nil {
		scheduleRebuild(c, key, lockResource, token, logicalTTL, load)
	} else if !errors.Is(err, port.ErrLockHeld) {
		c.log.Error().Err(err).Str("key", key).Msg("rebuild lock acquire failed")
	}
	return &v, nil
}

// SetWithLogicalExpire pre-warms key with an embedded expiry and no
// physical TTL.
func SetWithLogicalExpire[T any](ctx context.Context, c *Client, key string, value *T, logicalTTL time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	buf, err := json.Marshal(envelope{ExpireAt: time.Now().Add(logicalTTL), Data: data})
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, buf, 0).Err(); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	return nil
}

func scheduleRebuild[T any](c *Client, key, lockResource, token string, logicalTTL time.Duration, load func(context.Context) (*T, error)) {
	job := func() {
		ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		defer func() {
			if err := c.locker.Release(ctx, lockResource, token); err != nil {
				c.log.Error().Err(err).Str("key", key).Msg("rebuild lock release failed")
			}
		}()

		v, err := load(ctx)
		if err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("cache rebuild failed")
			return
		}
		if v == nil {
			// entity is gone; drop the stale entry
			if err := c.Delete(ctx, key); err != nil {
				c.log.Error().Err(err).Str("key", key).Msg("cache rebuild delete failed")
			}
			return
		}
		if err := SetWithLogicalExpire(ctx, c, key, v, logicalTTL); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("cache rebuild write failed")
		}
	}

	select {
	case <-c.done:
		// closed; drop the job
	default:
		select {
		case c.rebuilds <- job:
			return
		default:
			// pool saturated
		}
	}

	// surrender the lock so the next stale reader gets another chance
	ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
	defer cancel()
	if err := c.locker.Release(ctx, lockResource, token); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("rebuild lock release failed")
	}
}

// lookup reads key and reports (value, hit). A null marker is a hit with a
// nil value translated to ErrNotFound.
func lookup[T any](ctx context.Context, c *Client, key string) (*T, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read %s: %w", key, err)
	}
	if raw == "" {
		return nil, true, ErrNotFound
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return &v, true, nil
}

func store[T any](ctx context.Context, c *Client, key string, value *T, ttl time.Duration) error {
	if value == nil {
		if err := c.rdb.Set(ctx, key, "", nullMarkerTTL).Err(); err != nil {
			return fmt.Errorf("cache write null %s: %w", key, err)
		}
		return nil
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, buf, jitterTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	return nil
}

// jitterTTL spreads a TTL by ±5% so entries written together do not all
// expire together.
func jitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	spread := ttl / 10
	return ttl - spread/2 + time.Duration(rand.Int63n(int64(spread+1)))
}
