package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/citydeal/seckill/internal/adapter/storage"
)

type testEntity struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func newTestClient(t *testing.T) (*Client, *redis.Client) {
	rdb := getRedisClient(t)
	c := NewClient(rdb, storage.NewRedisLock(rdb), 4, zerolog.Nop())
	t.Cleanup(func() {
		c.Close()
		rdb.Close()
	})
	return c, rdb
}

func TestPassThrough_CachesLiveValue(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	rdb.Del(ctx, "test:pt:1")

	var loads atomic.Int32
	load := func(ctx context.Context) (*testEntity, error) {
		loads.Add(1)
		return &testEntity{ID: 1, Name: "alpha"}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := GetWithPassThrough(ctx, c, "test:pt:1", time.Minute, load)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.Name != "alpha" {
			t.Errorf("unexpected value: %+v", v)
		}
	}

	if loads.Load() != 1 {
		t.Errorf("expected 1 backing load, got %d", loads.Load())
	}
	rdb.Del(ctx, "test:pt:1")
}

func TestPassThrough_NullMarkerStopsRepeatMisses(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	rdb.Del(ctx, "test:pt:missing")

	var loads atomic.Int32
	load := func(ctx context.Context) (*testEntity, error) {
		loads.Add(1)
		return nil, nil
	}

	for i := 0; i < 3; i++ {
		_, err := GetWithPassThrough(ctx, c, "test:pt:missing", time.Minute, load)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got: %v", err)
		}
	}

	// the null marker absorbs every miss after the first
	if loads.Load() != 1 {
		t.Errorf("expected 1 backing load, got %d", loads.Load())
	}
	rdb.Del(ctx, "test:pt:missing")
}

func TestMutex_SingleLoaderUnderContention(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	rdb.Del(ctx, "test:mx:1", "lock:test:mx:1")

	var loads atomic.Int32
	load := func(ctx context.Context) (*testEntity, error) {
		loads.Add(1)
		time.Sleep(50 * time.Millisecond) // slow backing store
		return &testEntity{ID: 1, Name: "bravo"}, nil
	}

	const readers = 50
	var wg sync.WaitGroup
	values := make([]*testEntity, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], errs[i] = GetWithMutex(ctx, c, "test:mx:1", "test:mx:1", time.Minute, load)
		}(i)
	}
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("expected exactly 1 backing load, got %d", loads.Load())
	}
	for i := 0; i < readers; i++ {
		if errs[i] != nil {
			t.Fatalf("reader %d failed: %v", i, errs[i])
		}
		if values[i] == nil || values[i].Name != "bravo" {
			t.Errorf("reader %d observed %+v", i, values[i])
		}
	}
	rdb.Del(ctx, "test:mx:1")
}

func TestMutex_NullMarkerForMissingEntity(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	rdb.Del(ctx, "test:mx:missing")

	load := func(ctx context.Context) (*testEntity, error) { return nil, nil }

	_, err := GetWithMutex(ctx, c, "test:mx:missing", "test:mx:missing", time.Minute, load)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	// marker written: a second lookup hits it without the lock dance
	raw, err := rdb.Get(ctx, "test:mx:missing").Result()
	if err != nil || raw != "" {
		t.Errorf("expected empty null marker, got %q err %v", raw, err)
	}
	rdb.Del(ctx, "test:mx:missing")
}

func TestLogicalExpire_FreshValue(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	rdb.Del(ctx, "test:le:1")

	if err := SetWithLogicalExpire(ctx, c, "test:le:1", &testEntity{ID: 1, Name: "charlie"}, time.Minute); err != nil {
		t.Fatalf("prewarm failed: %v", err)
	}

	load := func(ctx context.Context) (*testEntity, error) {
		t.Error("fresh entry must not trigger a load")
		return nil, nil
	}
	v, err := GetWithLogicalExpire(ctx, c, "test:le:1", "test:le:1", time.Minute, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Name != "charlie" {
		t.Errorf("unexpected value: %+v", v)
	}
	rdb.Del(ctx, "test:le:1")
}

func TestLogicalExpire_StaleServedThenRebuilt(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	rdb.Del(ctx, "test:le:2", "lock:test:le:2")

	// already stale at write time
	if err := SetWithLogicalExpire(ctx, c, "test:le:2", &testEntity{ID: 2, Name: "old"}, -time.Second); err != nil {
		t.Fatalf("prewarm failed: %v", err)
	}

	var loads atomic.Int32
	load := func(ctx context.Context) (*testEntity, error) {
		loads.Add(1)
		return &testEntity{ID: 2, Name: "new"}, nil
	}

	// stale readers get the old value straight away
	v, err := GetWithLogicalExpire(ctx, c, "test:le:2", "test:le:2", time.Minute, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Name != "old" {
		t.Errorf("expected stale value, got %+v", v)
	}

	// the scheduled rebuild replaces the entry
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v, err = GetWithLogicalExpire(ctx, c, "test:le:2", "test:le:2", time.Minute, load)
		if err == nil && v.Name == "new" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if v.Name != "new" {
		t.Errorf("rebuild did not land, still observing %+v", v)
	}
	if loads.Load() != 1 {
		t.Errorf("expected exactly 1 rebuild load, got %d", loads.Load())
	}
	rdb.Del(ctx, "test:le:2")
}

func TestLogicalExpire_ColdKeyIsNotFound(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	rdb.Del(ctx, "test:le:cold")

	load := func(ctx context.Context) (*testEntity, error) {
		t.Error("cold key must not trigger a load")
		return nil, nil
	}
	_, err := GetWithLogicalExpire(ctx, c, "test:le:cold", "test:le:cold", time.Minute, load)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestLogicalExpire_StaleReadAfterClose(t *testing.T) {
	rdb := getRedisClient(t)
	defer rdb.Close()
	ctx := context.Background()
	rdb.Del(ctx, "test:le:closed", "lock:test:le:closed")

	locker := storage.NewRedisLock(rdb)
	c := NewClient(rdb, locker, 2, zerolog.Nop())

	// already stale at write time
	if err := SetWithLogicalExpire(ctx, c, "test:le:closed", &testEntity{ID: 3, Name: "echo"}, -time.Second); err != nil {
		t.Fatalf("prewarm failed: %v", err)
	}
	c.Close()

	load := func(ctx context.Context) (*testEntity, error) {
		return &testEntity{ID: 3, Name: "fresh"}, nil
	}
	v, err := GetWithLogicalExpire(ctx, c, "test:le:closed", "test:le:closed", time.Minute, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Name != "echo" {
		t.Errorf("expected the stale value, got %+v", v)
	}

	// the dropped rebuild surrendered its lock
	token, err := locker.Acquire(ctx, "test:le:closed", time.Second)
	if err != nil {
		t.Errorf("rebuild lock still held after close: %v", err)
	} else {
		locker.Release(ctx, "test:le:closed", token)
	}
	rdb.Del(ctx, "test:le:closed")
}

func TestJitterTTL_StaysWithinBounds(t *testing.T) {
	base := 30 * time.Minute
	lo, hi := base-base/20, base+base/20
	for i := 0; i < 100; i++ {
		if got := jitterTTL(base); got < lo || got > hi {
			t.Fatalf("jittered ttl %v outside [%v, %v]", got, lo, hi)
		}
	}
	if got := jitterTTL(0); got != 0 {
		t.Errorf("zero ttl must stay zero, got %v", got)
	}
}

func TestDelete_ForcesRepopulation(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	rdb.Del(ctx, "test:del:1")

	var loads atomic.Int32
	load := func(ctx context.Context) (*testEntity, error) {
		loads.Add(1)
		return &testEntity{ID: 1, Name: "delta"}, nil
	}

	if _, err := GetWithPassThrough(ctx, c, "test:del:1", time.Minute, load); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Delete(ctx, "test:del:1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := GetWithPassThrough(ctx, c, "test:del:1", time.Minute, load); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if loads.Load() != 2 {
		t.Errorf("expected reload after delete, got %d loads", loads.Load())
	}
	rdb.Del(ctx, "test:del:1")
}
