package service

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	dErrors "civic/pkg/domain-errors"
)

// keyedLocks serializes operations on one key. Keys are spread across
// sharded single-slot semaphores by FNV-1a hash so unrelated keys rarely
// contend.
const numLockShards = 128

// defaultLockTimeout bounds how long an operation may wait for and hold a
// shard. It covers the website fetch timeout.
const defaultLockTimeout = 30 * time.Second

type keyedLocks struct {
	shards  [numLockShards]*semaphore.Weighted
	timeout time.Duration
}

func newKeyedLocks() *keyedLocks {
	l := &keyedLocks{timeout: defaultLockTimeout}
	for i := range l.shards {
		l.shards[i] = semaphore.NewWeighted(1)
	}
	return l
}

// run waits for key's shard and then calls fn. Waiting honours ctx, so a
// caller queued behind a slow holder gives up with CodeTimeout once its
// deadline passes. Without a deadline the lock timeout applies.
func (l *keyedLocks) run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	shard := l.shards[hashKey(key)%numLockShards]
	if err := shard.Acquire(ctx, 1); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation aborted: timed out waiting for lock")
	}
	defer shard.Release(1)

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation aborted: context cancelled")
	}
	return fn(ctx)
}

func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
