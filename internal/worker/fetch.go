package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/spendoodle/shellcache/internal/cache"
	"github.com/spendoodle/shellcache/internal/logging"
	"github.com/spendoodle/shellcache/internal/metrics"
)

var (
	// ErrNotHandled means the worker declines the request; the caller should
	// send it to the network unmodified.
	ErrNotHandled = errors.New("request not intercepted")
	// ErrNoResponse means neither the network nor the cache produced a response.
	ErrNoResponse = errors.New("no response available")
)

// Source tells where an intercepted response came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Fetch applies the interception policy to req, which must carry an absolute URL.
//
//   - non-GET requests and other-origin requests: ErrNotHandled, the cache is
//     neither read nor written
//   - font-provider hosts: cache first, network on miss
//   - same origin: network first, cached copy when the network fails
//
// Status-200 network responses are copied to the cache as the caller reads
// them; the write never delays or fails the returned response.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*http.Response, Source, error) {
	if req.Method != http.MethodGet {
		return nil, "", ErrNotHandled
	}
	if w.State() != StateActivated {
		return nil, "", ErrNotHandled
	}

	class := w.classifier.Classify(req.URL)
	var (
		resp   *http.Response
		source Source
		err    error
	)
	switch class {
	case ClassFontProvider:
		resp, source, err = w.cacheFirst(ctx, req)
	case ClassSameOrigin:
		resp, source, err = w.networkFirst(ctx, req)
	default:
		return nil, "", ErrNotHandled
	}

	fields := logging.RequestFields(w.name, class.String(), string(source), req.Method, req.URL.String())
	if err != nil {
		metrics.FetchFailures.WithLabelValues(class.String()).Inc()
		fields["error"] = err.Error()
		w.logger.WithFields(fields).Warn("fetch_failed")
		return nil, "", err
	}
	metrics.FetchTotal.WithLabelValues(class.String(), string(source)).Inc()
	fields["status"] = resp.StatusCode
	w.logger.WithFields(fields).Debug("fetch_complete")
	return resp, source, nil
}

func (w *Worker) cacheFirst(ctx context.Context, req *http.Request) (*http.Response, Source, error) {
	key, err := cache.NewRequest(req)
	if err != nil {
		return nil, "", err
	}
	if cached, ok := w.lookup(ctx, key); ok {
		return cached.HTTPResponse(req), SourceCache, nil
	}

	resp, err := w.network.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrNoResponse, req.URL, err)
	}
	w.writeThrough(ctx, key, resp)
	return resp, SourceNetwork, nil
}

func (w *Worker) networkFirst(ctx context.Context, req *http.Request) (*http.Response, Source, error) {
	key, err := cache.NewRequest(req)
	if err != nil {
		return nil, "", err
	}

	resp, err := w.network.Do(req)
	if err != nil {
		if cached, ok := w.lookup(ctx, key); ok {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action": "fetch",
				"cache":  w.name,
				"url":    key.URL,
			}).Info("network_failed_serving_cache")
			return cached.HTTPResponse(req), SourceCache, nil
		}
		return nil, "", fmt.Errorf("%w: %s: %w", ErrNoResponse, req.URL, err)
	}
	w.writeThrough(ctx, key, resp)
	return resp, SourceNetwork, nil
}

// lookup treats storage errors as misses so they never reach the page.
func (w *Worker) lookup(ctx context.Context, key cache.Request) (*cache.Response, bool) {
	store, err := w.storage.Open(ctx, w.name)
	if err == nil {
		var cached *cache.Response
		cached, err = store.Match(ctx, key)
		if err == nil {
			return cached, true
		}
	}
	if !errors.Is(err, cache.ErrNotFound) {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action": "fetch",
			"cache":  w.name,
			"url":    key.URL,
		}).Warn("cache_get_failed")
	}
	return nil, false
}

func (w *Worker) writeFailed(key cache.Request, err error) {
	metrics.CacheWriteFailures.Inc()
	w.logger.WithError(err).WithFields(logrus.Fields{
		"action": "fetch",
		"cache":  w.name,
		"url":    key.URL,
	}).Warn("cache_write_failed")
}
