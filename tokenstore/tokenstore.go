// Package tokenstore resolves a bearer token to a user id against Redis, the
// out-of-process token store named in spec.md §4.5/§6. Grounded on the
// pack's go-redis usage and on the Redis-backed session lookup in
// _examples/original_source/src/api/AuthenticationManager.h, ported from a
// subscriber polling loop into a synchronous Lookup call the session layer
// invokes per login.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"equityexchange/domain"
)

// keyPrefix matches the original token-store layout ("trading:" + token).
const keyPrefix = "trading:"

// ErrClosed is returned once the store has been closed.
var ErrClosed = errors.New("tokenstore: closed")

// Store resolves a bearer token to a user id.
type Store interface {
	Lookup(ctx context.Context, token string) (domain.UserID, bool, error)
	Close() error
}

// Redis is a Store backed by go-redis/v9.
type Redis struct {
	client *redis.Client
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// Open connects to a Redis instance per opts.
func Open(opts Options) (*Redis, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("tokenstore: ping: %w", err)
	}
	return &Redis{client: client}, nil
}

// Lookup resolves token to a user id. The second return value is false when
// the token is absent or expired, not an error.
func (r *Redis) Lookup(ctx context.Context, token string) (domain.UserID, bool, error) {
	val, err := r.client.Get(ctx, keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("tokenstore: lookup: %w", err)
	}
	if val == "" {
		return "", false, nil
	}
	return domain.UserID(val), true, nil
}

func (r *Redis) Close() error { return r.client.Close() }
