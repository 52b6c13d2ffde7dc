package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/spendoodle/shellcache/internal/cache"
)

const testOrigin = "https://spendoodle.example"

const fontCSS = "https://fonts.googleapis.com/css2?family=Inter"

var errOffline = errors.New("network unreachable")

type fakeRoute struct {
	status int
	body   string
}

// fakeNetwork answers from a fixed route table and counts calls per URL.
type fakeNetwork struct {
	mu      sync.Mutex
	routes  map[string]fakeRoute
	calls   map[string]int
	offline bool
}

func newFakeNetwork(routes map[string]fakeRoute) *fakeNetwork {
	return &fakeNetwork{routes: routes, calls: map[string]int{}}
}

func (n *fakeNetwork) Do(r *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	u := r.URL.String()
	n.calls[u]++
	if n.offline {
		return nil, errOffline
	}
	route, ok := n.routes[u]
	if !ok {
		route = fakeRoute{status: http.StatusNotFound, body: "not found"}
	}
	return &http.Response{
		StatusCode: route.status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(route.body)),
		Request:    r,
	}, nil
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	n.offline = offline
	n.mu.Unlock()
}

func (n *fakeNetwork) set(u string, route fakeRoute) {
	n.mu.Lock()
	n.routes[u] = route
	n.mu.Unlock()
}

func (n *fakeNetwork) count(u string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[u]
}

type recordingSignals struct {
	mu      sync.Mutex
	skipped []string
	claimed []string
}

func (s *recordingSignals) SkipWaiting(w *Worker) {
	s.mu.Lock()
	s.skipped = append(s.skipped, w.CacheName())
	s.mu.Unlock()
}

func (s *recordingSignals) ClaimClients(w *Worker) {
	s.mu.Lock()
	s.claimed = append(s.claimed, w.CacheName())
	s.mu.Unlock()
}

// failingPutStorage opens caches whose Put always fails.
type failingPutStorage struct {
	cache.Storage
}

func (s failingPutStorage) Open(ctx context.Context, name string) (cache.Cache, error) {
	c, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return failingPutCache{Cache: c}, nil
}

type failingPutCache struct {
	cache.Cache
}

func (failingPutCache) Put(context.Context, cache.Request, *cache.Response) error {
	return errors.New("disk full")
}

func defaultRoutes() map[string]fakeRoute {
	return map[string]fakeRoute{
		testOrigin + "/":           {status: http.StatusOK, body: "root"},
		testOrigin + "/index.html": {status: http.StatusOK, body: "shell"},
		fontCSS:                    {status: http.StatusOK, body: "@font-face{}"},
	}
}

func newTestWorker(t *testing.T, name string, storage cache.Storage, network cache.Fetcher, signals Signals) *Worker {
	t.Helper()
	origin, _ := url.Parse(testOrigin)
	w, err := New(Options{
		CacheName: name,
		Origin:    origin,
		Manifest:  []string{"/", "/index.html", fontCSS},
		Storage:   storage,
		Network:   network,
		Signals:   signals,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func activatedWorker(t *testing.T, storage cache.Storage, network cache.Fetcher) *Worker {
	t.Helper()
	w := newTestWorker(t, "spendoodle-v1", storage, network, nil)
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := w.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return w
}

func newGet(t *testing.T, u string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return r
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func storedBody(t *testing.T, storage cache.Storage, name, u string) (string, bool) {
	t.Helper()
	c, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	resp, err := c.Match(context.Background(), cache.Request{Method: http.MethodGet, URL: u})
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	return string(resp.Body), true
}

type fetcherFunc func(*http.Request) (*http.Response, error)

func (f fetcherFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

var errDeleteDenied = errors.New("permission denied")

// failingDeleteStorage refuses to delete the cache called failName.
type failingDeleteStorage struct {
	cache.Storage
	failName string
}

func (s failingDeleteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if name == s.failName {
		return false, errDeleteDenied
	}
	return s.Storage.Delete(ctx, name)
}

func seedCache(t *testing.T, storage cache.Storage, name, u, body string) {
	t.Helper()
	ctx := context.Background()
	c, err := storage.Open(ctx, name)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	err = c.Put(ctx, cache.Request{Method: http.MethodGet, URL: u},
		&cache.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte(body)})
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}
