package cache

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendFile  = "file"
	BackendNull  = "null"
	BackendRedis = "redis"
	BackendMongo = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Dir     string
	Redis   RedisOptions
	Mongo   MongoOptions
}

// Open builds the backend named by opts.Backend. An empty name means file.
func Open(ctx context.Context, opts Options) (Cache, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileCache(opts.Dir)
	case BackendNull:
		return NewNullCache(), nil
	case BackendRedis:
		return NewRedisCache(ctx, opts.Redis)
	case BackendMongo:
		return NewMongoCache(ctx, opts.Mongo)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", opts.Backend)
	}
}
