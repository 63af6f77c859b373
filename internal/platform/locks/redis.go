package locks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/weave/storefront/internal/services"
)

const (
	defaultKeyPrefix = "storefront:lock:"
	defaultLeaseTTL  = 2 * time.Minute
	releaseTimeout   = 5 * time.Second
)

// releaseScript deletes the key only while it still carries our token, so a lease that expired
// and was taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease lock shared by every process talking to the same Redis. Leases expire after
// ttl so a crashed holder cannot block a line forever.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	token  func() (string, error)
	logger *zap.Logger
}

var _ services.LineLocker = (*Redis)(nil)

// RedisOption customises the lock.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces lock keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if p := strings.TrimSpace(prefix); p != "" {
			r.prefix = p
		}
	}
}

// WithLeaseTTL sets how long an unreleased lease survives.
func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger reports lease releases that fail.
func WithLogger(logger *zap.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedis builds a lock on client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis lock: client is required")
	}
	r := &Redis{client: client, prefix: defaultKeyPrefix, ttl: defaultLeaseTTL, token: randomToken, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// TryLock sets the key with NX and a PX expiry. A held key returns ok=false immediately.
func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token, err := r.token()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock: token: %w", err)
	}
	full := r.prefix + key
	ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// the caller's context may already be done; release on a fresh one
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{full}, token).Err(); err != nil {
			// the key stays held until the lease expires
			r.logger.Warn("redis lock: release failed",
				zap.String("key", full),
				zap.Duration("leaseTTL", r.ttl),
				zap.Error(err),
			)
		}
	}, true, nil
}

func randomToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
