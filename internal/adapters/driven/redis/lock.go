package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
	"github.com/redis/go-redis/v9"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

const lockPrefix = "sercha:lock:"

// ErrLockNotHeld is returned by Extend when another owner holds the lock
// or it has expired.
var ErrLockNotHeld = errors.New("lock not held")

// Lock is a TTL lock keyed by name. The value is an owner token so that a
// process only ever releases or extends its own lock.
type Lock struct {
	client *redis.Client
	owner  string
}

// NewLock creates a lock bound to a fresh owner token.
func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client, owner: newOwnerToken()}
}

// newOwnerToken returns hostname:pid:random.
func newOwnerToken() string {
	host, _ := os.Hostname()
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), hex.EncodeToString(buf))
}

func lockKey(name string) string {
	return lockPrefix + name
}

// Acquire sets the lock key if absent. A lock already held by this owner is
// not re-entered.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	err := l.client.SetArgs(ctx, lockKey(name), l.owner, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return true, nil
}

// Both scripts act on KEYS[1] only while ARGV[1] owns it.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("del", KEYS[1])
`)
	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("pexpire", KEYS[1], ARGV[2])
`)
)

// Release deletes the lock if this owner holds it. Releasing a lock that
// expired or belongs to someone else is a no-op.
func (l *Lock) Release(ctx context.Context, name string) error {
	err := releaseScript.Run(ctx, l.client, []string{lockKey(name)}, l.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend pushes the expiry of a held lock out to ttl from now.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{lockKey(name)}, l.owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: %w", name, ErrLockNotHeld)
	}
	return nil
}

// Ping checks the Redis connection.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Owner returns the token written into held lock keys.
func (l *Lock) Owner() string {
	return l.owner
}
