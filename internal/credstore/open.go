package credstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Path      string // file path (file) or database path (sqlite)
	Namespace string
	RedisAddr string
	RedisDB   int
	Key       []byte // raw store key, see LoadOrCreateKey
}

// Opened is the result of Open: the cached store every component shares,
// plus a closer for backend resources.
type Opened struct {
	*Cached
	io.Closer

	// FilePath is set for the file backend so callers can Watch it.
	FilePath string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the configured backend wrapped in a Cached snapshot.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Opened, error) {
	sealer, err := NewSealer(opts.Key, opts.Namespace)
	if err != nil {
		return nil, err
	}

	switch opts.Backend {
	case BackendFile, "":
		return &Opened{
			Cached:   NewCached(NewFileStore(opts.Path, sealer)),
			Closer:   nopCloser{},
			FilePath: opts.Path,
		}, nil

	case BackendMemory:
		return &Opened{Cached: NewCached(NewMemory()), Closer: nopCloser{}}, nil

	case BackendSQLite:
		st, err := OpenSQLite(ctx, opts.Path, sealer, logger)
		if err != nil {
			return nil, err
		}

		return &Opened{Cached: NewCached(st), Closer: st}, nil

	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("%w: redis ping %s: %w", ErrStorage, opts.RedisAddr, err)
		}

		return &Opened{Cached: NewCached(NewRedisStore(rdb, sealer)), Closer: rdb}, nil

	default:
		return nil, fmt.Errorf("credstore: unknown backend %q", opts.Backend)
	}
}
