// Package kvstore holds the string-keyed, string-valued stores that back the
// encrypted entitlement store and the per-session secret cache.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrClosed = errors.New("kvstore: store is closed")

// Store is a simple durable or volatile key-value store. Get reports
// ok=false for a missing key. There are no transactions and no TTLs at
// this layer.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverRedis  = "redis"
)

// Options selects and configures a Store for Open.
type Options struct {
	Driver    string
	Path      string
	RedisURL  string
	KeyPrefix string
	// TTL applies to redis only; zero keeps keys forever.
	TTL time.Duration
}

// Open builds the store named by opts.Driver.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverFile:
		return NewFileStore(opts.Path)
	case DriverSQLite:
		return NewSQLiteStore(opts.Path)
	case DriverBadger:
		return NewBadgerStore(opts.Path)
	case DriverRedis:
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedisStore(redis.NewClient(redisOpts), opts.KeyPrefix, opts.TTL), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
