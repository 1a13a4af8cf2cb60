// Package memtx serializes in-memory units of work that must not interleave.
//
// Stores backed by maps have no transactions; services that need a
// check-then-write across two stores run it through Sharded.RunInTx. Work is
// partitioned by a shard key carried in the context, so callers touching
// different owners do not contend.
package memtx

import (
	"context"
	"sync"
	"time"

	dErrors "govconsent/pkg/domain-errors"
)

const (
	numShards      = 128
	defaultTimeout = 5 * time.Second
)

type shardKey struct{}

// WithShardKey selects the lock shard for RunInTx. Use the id of the record
// owner so every writer for that owner lands on the same shard.
func WithShardKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, shardKey{}, key)
}

type Sharded struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func NewSharded() *Sharded {
	return &Sharded{timeout: defaultTimeout}
}

func (t *Sharded) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}

// selectShard falls back to shard 0 when no key is set.
func (t *Sharded) selectShard(ctx context.Context) int {
	if key, ok := ctx.Value(shardKey{}).(string); ok && key != "" {
		return int(fnv1a(key) % numShards)
	}
	return 0
}

func fnv1a(s string) uint32 {
	const (
		offset = 2166136261
		prime  = 16777619
	)
	h := uint32(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
