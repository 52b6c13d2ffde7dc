package cache

import (
	"context"
	"errors"
	"net/http"
)

// Storage 管理全部具名缓存（每个版本标签一份），对应浏览器侧的 CacheStorage。
// 实现需保证单个 key 的 put/delete 原子，但不提供跨 key 事务。
type Storage interface {
	// Open 返回指定名称的缓存，不存在时创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 判断缓存是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整份缓存及其全部条目；名称不存在时返回 false, nil。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 按创建顺序返回所有缓存名称。
	Keys(ctx context.Context) ([]string, error)

	// Close 释放底层连接或文件句柄。
	Close() error
}

// Cache 是单个具名缓存：Request → Response 的持久化映射。
type Cache interface {
	Name() string

	// Match 返回已存储的响应；不存在时返回 ErrNotFound。
	Match(ctx context.Context, req Request) (*Response, error)

	// Put 覆盖写入，同一 key 并发写入时后写者生效。
	Put(ctx context.Context, req Request, resp *Response) error

	// Delete 删除单个条目；不存在时返回 false, nil。
	Delete(ctx context.Context, req Request) (bool, error)

	// Keys 返回当前缓存中的全部请求标识。
	Keys(ctx context.Context) ([]Request, error)
}

// Fetcher 抽象网络访问，*http.Client 天然满足该接口。
type Fetcher interface {
	Do(*http.Request) (*http.Response, error)
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrMethodNotCacheable 表示请求方法不是 GET，不能作为缓存 key。
	ErrMethodNotCacheable = errors.New("only GET requests are cacheable")
	// ErrStorageClosed 表示存储已关闭。
	ErrStorageClosed = errors.New("cache storage closed")
)
