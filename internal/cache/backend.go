package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Backend 标识存储实现。
type Backend string

const (
	BackendDisk   Backend = "disk"
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Options 描述构建 Storage 所需的参数，由配置层填充。
type Options struct {
	Backend     Backend
	StoragePath string
	RedisAddr   string
	RedisPrefix string
}

// NewStorage 根据 Backend 选择具体实现。
func NewStorage(opts Options) (Storage, error) {
	switch Backend(strings.ToLower(string(opts.Backend))) {
	case "", BackendDisk:
		return NewDiskStorage(opts.StoragePath)
	case BackendSQLite:
		dir, err := filepath.Abs(opts.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("resolve storage path: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		return NewSQLiteStorage(filepath.Join(dir, "shellcache.db"))
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		prefix := opts.RedisPrefix
		if prefix == "" {
			prefix = "shellcache:"
		}
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		return NewRedisStorage(client, prefix), nil
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", opts.Backend)
	}
}
