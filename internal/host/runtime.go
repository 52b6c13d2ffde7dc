package host

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spendoodle/shellcache/internal/logging"
	"github.com/spendoodle/shellcache/internal/worker"
)

// ErrNoWaitingWorker is returned by PromoteWaiting when no installed worker
// is parked behind the controller.
var ErrNoWaitingWorker = errors.New("no waiting worker")

// Runtime tracks the controlling worker and at most one waiting worker.
// Lifecycle operations are serialized; Fetch may run concurrently with them.
type Runtime struct {
	logger *logrus.Logger

	lifecycle sync.Mutex

	mu        sync.RWMutex
	active    *worker.Worker
	waiting   *worker.Worker
	skip      map[*worker.Worker]bool
	claimedAt time.Time
}

// NewRuntime returns an empty runtime. Requests pass through until a worker
// is registered and activated.
func NewRuntime(logger *logrus.Logger) *Runtime {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runtime{logger: logger, skip: map[*worker.Worker]bool{}}
}

// SkipWaiting implements worker.Signals.
func (r *Runtime) SkipWaiting(w *worker.Worker) {
	r.mu.Lock()
	r.skip[w] = true
	r.mu.Unlock()
}

// ClaimClients implements worker.Signals.
func (r *Runtime) ClaimClients(w *worker.Worker) {
	r.mu.Lock()
	r.claimedAt = time.Now()
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{
		"action": "claim",
		"cache":  w.CacheName(),
	}).Info("clients_claimed")
}

// Register installs w. A failed install leaves the current controller in
// place. An installed worker takes control right away when it asked to skip
// waiting or when nothing controls the application yet; otherwise it waits
// for PromoteWaiting, replacing any worker already waiting.
func (r *Runtime) Register(ctx context.Context, w *worker.Worker) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if err := w.Install(ctx); err != nil {
		r.forget(w)
		return err
	}

	r.mu.Lock()
	skip := r.skip[w]
	hasActive := r.active != nil
	var displaced *worker.Worker
	if !skip && hasActive {
		displaced = r.waiting
		r.waiting = w
	}
	r.mu.Unlock()

	if skip || !hasActive {
		return r.activate(ctx, w)
	}

	if displaced != nil {
		displaced.MarkRedundant()
		r.forget(displaced)
	}
	r.logger.WithFields(logrus.Fields{
		"action": "register",
		"cache":  w.CacheName(),
	}).Info("worker_waiting")
	return nil
}

// PromoteWaiting activates the waiting worker, if any.
func (r *Runtime) PromoteWaiting(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.RLock()
	w := r.waiting
	r.mu.RUnlock()
	if w == nil {
		return ErrNoWaitingWorker
	}
	return r.activate(ctx, w)
}

// activate retires the current controller, hands control to w and runs its
// Activate. Requests arriving while w is activating pass through.
func (r *Runtime) activate(ctx context.Context, w *worker.Worker) error {
	r.mu.Lock()
	previous := r.active
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	r.mu.Unlock()

	if previous != nil && previous != w {
		previous.MarkRedundant()
		previous.Wait()
		r.forget(previous)
	}

	if err := w.Activate(ctx); err != nil {
		r.mu.Lock()
		if r.active == w {
			r.active = nil
		}
		r.mu.Unlock()
		r.forget(w)
		return err
	}

	fields := logrus.Fields{
		"action": "register",
		"cache":  w.CacheName(),
	}
	if previous != nil {
		fields["replaced"] = previous.CacheName()
	}
	r.logger.WithFields(fields).Info("worker_activated")
	return nil
}

func (r *Runtime) forget(w *worker.Worker) {
	r.mu.Lock()
	delete(r.skip, w)
	r.mu.Unlock()
}

// Controller returns the worker currently in control, or nil.
func (r *Runtime) Controller() *worker.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Fetch routes req to the controlling worker. Without one it reports
// worker.ErrNotHandled so the caller passes the request through.
func (r *Runtime) Fetch(ctx context.Context, req *http.Request) (*http.Response, worker.Source, error) {
	w := r.Controller()
	if w == nil {
		return nil, "", worker.ErrNotHandled
	}
	return w.Fetch(ctx, req)
}

// Shutdown retires every known worker and waits for pending cache writes.
func (r *Runtime) Shutdown() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	workers := []*worker.Worker{r.active, r.waiting}
	r.active, r.waiting = nil, nil
	r.mu.Unlock()

	for _, w := range workers {
		if w == nil {
			continue
		}
		w.MarkRedundant()
		w.Wait()
		r.forget(w)
	}
}

// WorkerInfo is a point-in-time view of one worker.
type WorkerInfo struct {
	CacheName string `json:"cacheName"`
	State     string `json:"state"`
}

// Snapshot describes the runtime for diagnostics.
type Snapshot struct {
	Active    *WorkerInfo `json:"active"`
	Waiting   *WorkerInfo `json:"waiting"`
	ClaimedAt *time.Time  `json:"claimedAt,omitempty"`
}

// Snapshot returns the current controller and waiting worker.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var snap Snapshot
	if r.active != nil {
		snap.Active = &WorkerInfo{CacheName: r.active.CacheName(), State: r.active.State().String()}
	}
	if r.waiting != nil {
		snap.Waiting = &WorkerInfo{CacheName: r.waiting.CacheName(), State: r.waiting.State().String()}
	}
	if !r.claimedAt.IsZero() {
		claimed := r.claimedAt
		snap.ClaimedAt = &claimed
	}
	return snap
}

// Signals returns the worker.Signals to give a new worker. With skipWaiting
// false the worker's skip-waiting request is ignored and it waits for
// PromoteWaiting once something else controls the application.
func (r *Runtime) Signals(skipWaiting bool) worker.Signals {
	if skipWaiting {
		return r
	}
	return holdingSignals{r}
}

type holdingSignals struct{ *Runtime }

func (holdingSignals) SkipWaiting(*worker.Worker) {}
