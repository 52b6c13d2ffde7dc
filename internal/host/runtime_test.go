package host

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
	"github.com/spendoodle/shellcache/internal/worker"
)

const origin = "https://spendoodle.example"

type stubNetwork struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (n *stubNetwork) Do(r *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	body, ok := n.bodies[r.URL.String()]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}, nil
}

func newNetwork() *stubNetwork {
	return &stubNetwork{bodies: map[string]string{
		origin + "/":           "root",
		origin + "/index.html": "shell",
	}}
}

func newWorker(t *testing.T, rt *Runtime, name string, storage cache.Storage, network cache.Fetcher, manifest []string) *worker.Worker {
	t.Helper()
	u, _ := url.Parse(origin)
	w, err := worker.New(worker.Options{
		CacheName: name,
		Origin:    u,
		Manifest:  manifest,
		Storage:   storage,
		Network:   network,
		Signals:   rt,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func TestRegisterActivatesFirstWorker(t *testing.T) {
	rt := NewRuntime(nil)
	storage := cache.NewMemoryStorage()
	w := newWorker(t, rt, "spendoodle-v1", storage, newNetwork(), []string{"/", "/index.html"})

	if err := rt.Register(context.Background(), w); err != nil {
		t.Fatalf("register: %v", err)
	}
	if rt.Controller() != w || w.State() != worker.StateActivated {
		t.Fatalf("first worker should take control, state=%s", w.State())
	}
	snap := rt.Snapshot()
	if snap.Active == nil || snap.Active.CacheName != "spendoodle-v1" || snap.ClaimedAt == nil {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRegisterReplacesControllerAndPrunes(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(nil)
	storage := cache.NewMemoryStorage()
	network := newNetwork()
	v0 := newWorker(t, rt, "spendoodle-v0", storage, network, []string{"/"})
	v1 := newWorker(t, rt, "spendoodle-v1", storage, network, []string{"/", "/index.html"})

	if err := rt.Register(ctx, v0); err != nil {
		t.Fatalf("register v0: %v", err)
	}
	if err := rt.Register(ctx, v1); err != nil {
		t.Fatalf("register v1: %v", err)
	}

	if rt.Controller() != v1 {
		t.Fatalf("skip-waiting worker should take control immediately")
	}
	if v0.State() != worker.StateRedundant {
		t.Fatalf("replaced worker should be redundant, got %s", v0.State())
	}
	names, _ := storage.Keys(ctx)
	if len(names) != 1 || names[0] != "spendoodle-v1" {
		t.Fatalf("old cache should be pruned, got %v", names)
	}
}

func TestRegisterFailedInstallKeepsController(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(nil)
	storage := cache.NewMemoryStorage()
	network := newNetwork()
	v1 := newWorker(t, rt, "spendoodle-v1", storage, network, []string{"/"})
	broken := newWorker(t, rt, "spendoodle-v2", storage, network, []string{"/missing.js"})

	if err := rt.Register(ctx, v1); err != nil {
		t.Fatalf("register v1: %v", err)
	}
	if err := rt.Register(ctx, broken); err == nil {
		t.Fatalf("expected install failure")
	}
	if rt.Controller() != v1 || v1.State() != worker.StateActivated {
		t.Fatalf("failed install must not displace the controller")
	}
	if broken.State() != worker.StateRedundant {
		t.Fatalf("failed worker should be redundant, got %s", broken.State())
	}
}

func TestWaitingWorkerIsPromotedOnDemand(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(nil)
	storage := cache.NewMemoryStorage()
	network := newNetwork()
	v1 := newWorker(t, rt, "spendoodle-v1", storage, network, []string{"/"})
	if err := rt.Register(ctx, v1); err != nil {
		t.Fatalf("register v1: %v", err)
	}

	u, _ := url.Parse(origin)
	v2, err := worker.New(worker.Options{
		CacheName: "spendoodle-v2",
		Origin:    u,
		Manifest:  []string{"/"},
		Storage:   storage,
		Network:   network,
		Signals:   rt.Signals(false),
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := rt.Register(ctx, v2); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	if rt.Controller() != v1 || v2.State() != worker.StateInstalled {
		t.Fatalf("v2 should wait behind v1, got %s", v2.State())
	}
	if snap := rt.Snapshot(); snap.Waiting == nil || snap.Waiting.CacheName != "spendoodle-v2" {
		t.Fatalf("snapshot should report the waiting worker: %+v", snap)
	}

	if err := rt.PromoteWaiting(ctx); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if rt.Controller() != v2 || v1.State() != worker.StateRedundant {
		t.Fatalf("promotion should swap controllers")
	}
	if err := rt.PromoteWaiting(ctx); !errors.Is(err, ErrNoWaitingWorker) {
		t.Fatalf("expected ErrNoWaitingWorker, got %v", err)
	}
}

func TestFetchWithoutControllerIsNotHandled(t *testing.T) {
	rt := NewRuntime(nil)
	req, _ := http.NewRequest(http.MethodGet, origin+"/", nil)
	if _, _, err := rt.Fetch(context.Background(), req); !errors.Is(err, worker.ErrNotHandled) {
		t.Fatalf("expected ErrNotHandled, got %v", err)
	}
}

func TestShutdownRetiresWorkers(t *testing.T) {
	rt := NewRuntime(nil)
	w := newWorker(t, rt, "spendoodle-v1", cache.NewMemoryStorage(), newNetwork(), []string{"/"})
	if err := rt.Register(context.Background(), w); err != nil {
		t.Fatalf("register: %v", err)
	}
	rt.Shutdown()
	if rt.Controller() != nil || w.State() != worker.StateRedundant {
		t.Fatalf("shutdown should retire the controller")
	}
}

type lockedStorage struct {
	cache.Storage
	locked string
}

func (s lockedStorage) Delete(ctx context.Context, name string) (bool, error) {
	if name == s.locked {
		return false, errors.New("cache locked")
	}
	return s.Storage.Delete(ctx, name)
}

func TestFailedActivationLeavesNoController(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(nil)
	storage := lockedStorage{Storage: cache.NewMemoryStorage(), locked: "spendoodle-v0"}
	network := newNetwork()
	v0 := newWorker(t, rt, "spendoodle-v0", storage, network, []string{"/"})
	v1 := newWorker(t, rt, "spendoodle-v1", storage, network, []string{"/", "/index.html"})

	if err := rt.Register(ctx, v0); err != nil {
		t.Fatalf("register v0: %v", err)
	}
	if err := rt.Register(ctx, v1); err == nil {
		t.Fatalf("expected activation to fail")
	}
	if rt.Controller() != nil {
		t.Fatalf("no worker should control after a failed activation, got %s", rt.Controller().CacheName())
	}
	if v0.State() != worker.StateRedundant || v1.State() != worker.StateRedundant {
		t.Fatalf("both workers should be redundant, got %s and %s", v0.State(), v1.State())
	}
	req, _ := http.NewRequest(http.MethodGet, origin+"/", nil)
	if _, _, err := rt.Fetch(ctx, req); !errors.Is(err, worker.ErrNotHandled) {
		t.Fatalf("requests should pass through, got %v", err)
	}
}
