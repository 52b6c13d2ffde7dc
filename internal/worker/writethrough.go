package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spendoodle/shellcache/internal/cache"
)

// Bodies larger than this are still streamed to the caller but not stored.
const maxWriteThroughBytes = 32 << 20

var (
	errBodyClosedEarly = errors.New("body closed before EOF")
	errBodyTooLarge    = errors.New("body exceeds write-through limit")
)

// writeThrough swaps resp.Body for a tee. Once the caller has read the body
// to EOF the copy is stored on a detached goroutine.
func (w *Worker) writeThrough(ctx context.Context, key cache.Request, resp *http.Response) {
	if resp.StatusCode != http.StatusOK {
		return
	}
	status, header := resp.StatusCode, resp.Header.Clone()
	writeCtx := context.WithoutCancel(ctx)

	commit := func(body []byte) {
		stored := &cache.Response{
			Status:   status,
			Header:   header,
			Body:     body,
			StoredAt: time.Now().UTC(),
		}
		w.writes.Add(1)
		go func() {
			defer w.writes.Done()
			store, err := w.storage.Open(writeCtx, w.name)
			if err == nil {
				err = store.Put(writeCtx, key, stored)
			}
			if err != nil {
				w.writeFailed(key, err)
			}
		}()
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		commit(nil)
		return
	}
	resp.Body = &teeBody{
		src:    resp.Body,
		commit: commit,
		drop: func(err error) {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action": "fetch",
				"cache":  w.name,
				"url":    key.URL,
			}).Debug("cache_write_skipped")
		},
	}
}

// teeBody passes the upstream body through and keeps a copy of what was read.
// EOF commits the copy; a read error, an early Close or an oversized body
// drops it.
type teeBody struct {
	src    io.ReadCloser
	commit func([]byte)
	drop   func(error)

	mu      sync.Mutex
	buf     bytes.Buffer
	settled bool
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return n, err
	}
	if n > 0 {
		if t.buf.Len()+n > maxWriteThroughBytes {
			t.settle(errBodyTooLarge)
			return n, err
		}
		t.buf.Write(p[:n])
	}
	switch {
	case errors.Is(err, io.EOF):
		t.settle(nil)
	case err != nil:
		t.settle(err)
	}
	return n, err
}

func (t *teeBody) Close() error {
	t.mu.Lock()
	if !t.settled {
		t.settle(errBodyClosedEarly)
	}
	t.mu.Unlock()
	return t.src.Close()
}

// settle must be called with t.mu held.
func (t *teeBody) settle(err error) {
	t.settled = true
	body := t.buf.Bytes()
	t.buf = bytes.Buffer{}
	if err != nil {
		t.drop(err)
		return
	}
	t.commit(body)
}
