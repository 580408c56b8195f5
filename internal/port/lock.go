package port

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned by Acquire when another caller holds the lock.
var ErrLockHeld = errors.New("lock held by another caller")

// Locker is an advisory mutual-exclusion primitive over a named resource.
// Acquire never blocks; the caller decides whether to retry. The returned
// token identifies this acquisition and is required to release: Release
// with a token that no longer matches the stored one is a no-op, so a
// caller whose TTL expired cannot delete a lock re-acquired by someone
// else. There is no renewal; TTL is a crash-safety net only.
type Locker interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error)
	Release(ctx context.Context, resource, token string) error
}
