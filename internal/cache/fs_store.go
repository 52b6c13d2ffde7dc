package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	createdMarker = ".created"
	entrySuffix   = ".entry"
)

// NewDiskStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
// 布局：<basePath>/<escaped cache name>/<xxhash(key)>.entry
func NewDiskStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &diskStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// diskStorage 通过 entryLock 避免同一条目并发写入，目录级操作由 dirMu 串行化。
type diskStorage struct {
	basePath string

	dirMu sync.Mutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *diskStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return nil, err
	}

	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	marker := filepath.Join(dir, createdMarker)
	f, err := os.OpenFile(marker, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case err == nil:
		_, werr := f.WriteString(strconv.FormatInt(time.Now().UnixNano(), 10))
		cerr := f.Close()
		if werr != nil {
			return nil, werr
		}
		if cerr != nil {
			return nil, cerr
		}
	case errors.Is(err, fs.ErrExist):
	default:
		return nil, err
	}

	return &diskCache{storage: s, name: name, dir: dir}, nil
}

func (s *diskStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *diskStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return false, err
	}

	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *diskStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	type named struct {
		name    string
		created int64
	}
	found := make([]named, 0, len(items))
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		name, err := url.PathUnescape(item.Name())
		if err != nil {
			continue
		}
		found = append(found, named{name: name, created: s.createdAt(item)})
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].created == found[j].created {
			return found[i].name < found[j].name
		}
		return found[i].created < found[j].created
	})

	names := make([]string, len(found))
	for i, n := range found {
		names[i] = n.name
	}
	return names, nil
}

func (s *diskStorage) Close() error {
	return nil
}

// createdAt 读取 .created 标记，缺失时退回目录修改时间。
func (s *diskStorage) createdAt(item fs.DirEntry) int64 {
	raw, err := os.ReadFile(filepath.Join(s.basePath, item.Name(), createdMarker))
	if err == nil {
		if nanos, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64); perr == nil {
			return nanos
		}
	}
	if info, err := item.Info(); err == nil {
		return info.ModTime().UnixNano()
	}
	return 0
}

func (s *diskStorage) cacheDir(name string) (string, error) {
	if name == "" {
		return "", errors.New("cache name required")
	}
	dir := filepath.Join(s.basePath, url.PathEscape(name))
	if filepath.Dir(dir) != s.basePath {
		return "", fmt.Errorf("invalid cache name %q", name)
	}
	return dir, nil
}

func (s *diskStorage) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

type diskCache struct {
	storage *diskStorage
	name    string
	dir     string
}

func (c *diskCache) Name() string { return c.name }

func (c *diskCache) Match(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.entryPath(req))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	// 哈希碰撞时按未命中处理
	if rec.Key != req.Key() {
		return nil, ErrNotFound
	}
	return rec.response(), nil
}

func (c *diskCache) Put(ctx context.Context, req Request, resp *Response) error {
	data, err := encodeRecord(req, resp)
	if err != nil {
		return err
	}

	unlock := c.storage.lockEntry(c.name + "::" + req.Key())
	defer unlock()

	filePath := c.entryPath(req)
	tempFile, err := os.CreateTemp(c.dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(data))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (c *diskCache) Delete(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	unlock := c.storage.lockEntry(c.name + "::" + req.Key())
	defer unlock()

	if _, err := c.Match(ctx, req); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(c.entryPath(req)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return true, nil
}

func (c *diskCache) Keys(ctx context.Context) ([]Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	result := make([]Request, 0, len(items))
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), entrySuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, item.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		req, err := parseRequestKey(rec.Key)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	return result, nil
}

func (c *diskCache) entryPath(req Request) string {
	return filepath.Join(c.dir, fmt.Sprintf("%016x%s", xxhash.Sum64String(req.Key()), entrySuffix))
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
