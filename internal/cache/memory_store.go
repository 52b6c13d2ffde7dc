package cache

import (
	"context"
	"sort"
	"sync"
)

// NewMemoryStorage 返回进程内存储，进程退出即丢失，主要用于测试与 --ephemeral 模式。
func NewMemoryStorage() Storage {
	return &memoryStorage{caches: make(map[string]*memoryCache)}
}

type memoryStorage struct {
	mu     sync.Mutex
	caches map[string]*memoryCache
	order  []string
	closed bool
}

func (s *memoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{name: name, entries: make(map[string]*Response)}
		s.caches[name] = c
		s.order = append(s.order, name)
	}
	return c, nil
}

func (s *memoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *memoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *memoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memoryCache struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*Response
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) Match(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[req.Key()]
	if !ok {
		return nil, ErrNotFound
	}
	return copyResponse(resp), nil
}

func (c *memoryCache) Put(ctx context.Context, req Request, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[req.Key()] = copyResponse(resp)
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[req.Key()]; !ok {
		return false, nil
	}
	delete(c.entries, req.Key())
	return true, nil
}

func (c *memoryCache) Keys(ctx context.Context) ([]Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.RUnlock()
	sort.Strings(keys)

	result := make([]Request, 0, len(keys))
	for _, key := range keys {
		req, err := parseRequestKey(key)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, nil
}

func copyResponse(resp *Response) *Response {
	return &Response{
		Status:   resp.Status,
		Header:   resp.Header.Clone(),
		Body:     append([]byte(nil), resp.Body...),
		StoredAt: resp.StoredAt,
	}
}
