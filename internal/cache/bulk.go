package cache

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// StatusError 表示批量预取时上游返回了非 2xx 响应。
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// AddAll 并发抓取 reqs，全部成功后再逐条写入 c。
// 任一抓取失败或返回非 2xx 时不写入任何条目；写入阶段出错时回滚本批已写入的条目。
func AddAll(ctx context.Context, c Cache, f Fetcher, reqs []*http.Request) error {
	keys := make([]Request, len(reqs))
	for i, r := range reqs {
		key, err := NewRequest(r)
		if err != nil {
			return err
		}
		keys[i] = key
	}

	responses := make([]*Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range reqs {
		g.Go(func() error {
			resp, err := f.Do(r.WithContext(gctx))
			if err != nil {
				return fmt.Errorf("fetch %s: %w", r.URL, err)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				resp.Body.Close()
				return &StatusError{URL: r.URL.String(), Status: resp.StatusCode}
			}
			stored, err := NewResponse(resp)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", r.URL, err)
			}
			responses[i] = stored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	written := make([]Request, 0, len(keys))
	for i, key := range keys {
		if err := c.Put(ctx, key, responses[i]); err != nil {
			for _, done := range written {
				_, _ = c.Delete(ctx, done)
			}
			return fmt.Errorf("store %s: %w", key.URL, err)
		}
		written = append(written, key)
	}
	return nil
}
