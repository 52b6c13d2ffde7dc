package worker

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/spendoodle/shellcache/internal/cache"
	"github.com/spendoodle/shellcache/internal/logging"
	"github.com/spendoodle/shellcache/internal/metrics"
)

// Signals receives the lifecycle declarations a worker makes to its host.
// Both are fire-and-forget.
type Signals interface {
	// SkipWaiting asks the host to activate w as soon as it is installed.
	SkipWaiting(w *Worker)
	// ClaimClients asks the host to route all open pages to w immediately.
	ClaimClients(w *Worker)
}

type nopSignals struct{}

func (nopSignals) SkipWaiting(*Worker)  {}
func (nopSignals) ClaimClients(*Worker) {}

// Options configures a Worker. CacheName, Origin, Storage and Network are required.
type Options struct {
	// CacheName is the version tag; every other cache is pruned on Activate.
	CacheName string
	// Origin is the application's own origin. Root-relative manifest entries
	// resolve against it and its hostname defines the same-origin class.
	Origin *url.URL
	// Manifest lists the URLs fetched and stored during Install, in order.
	Manifest []string
	// FontHostMarkers override DefaultFontHostMarkers when non-empty.
	FontHostMarkers []string

	Storage cache.Storage
	Network cache.Fetcher
	Signals Signals
	Logger  *logrus.Logger
}

// Worker owns one cache generation and the fetch policy that reads and writes it.
type Worker struct {
	name       string
	origin     *url.URL
	manifest   []string
	classifier Classifier
	storage    cache.Storage
	network    cache.Fetcher
	signals    Signals
	logger     *logrus.Logger

	mu    sync.Mutex
	state State

	writes sync.WaitGroup
}

// New validates opts and returns a worker in StateParsed.
func New(opts Options) (*Worker, error) {
	if opts.CacheName == "" {
		return nil, errors.New("cache name is required")
	}
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, errors.New("origin is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network fetcher is required")
	}

	markers := opts.FontHostMarkers
	if len(markers) == 0 {
		markers = DefaultFontHostMarkers
	}
	signals := opts.Signals
	if signals == nil {
		signals = nopSignals{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	w := &Worker{
		name:       opts.CacheName,
		origin:     opts.Origin,
		manifest:   append([]string(nil), opts.Manifest...),
		classifier: NewClassifier(opts.Origin, markers),
		storage:    opts.Storage,
		network:    opts.Network,
		signals:    signals,
		logger:     logger,
		state:      StateParsed,
	}
	metrics.WorkerState.WithLabelValues(w.name).Set(float64(StateParsed))
	return w, nil
}

// CacheName returns the version tag this worker owns.
func (w *Worker) CacheName() string {
	return w.name
}

// Manifest returns a copy of the pre-cache list.
func (w *Worker) Manifest() []string {
	return append([]string(nil), w.manifest...)
}

// Classify exposes the request classification used by Fetch.
func (w *Worker) Classify(u *url.URL) Class {
	return w.classifier.Classify(u)
}

// State reports where the worker is in its lifecycle.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// MarkRedundant retires the worker; it stops intercepting requests.
func (w *Worker) MarkRedundant() {
	_ = w.transition(StateRedundant)
}

// Wait blocks until all detached cache writes have finished. A write is
// scheduled once the caller has read a response body to EOF; bodies still
// being streamed are not waited for.
func (w *Worker) Wait() {
	w.writes.Wait()
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == to && to == StateRedundant {
		return nil
	}
	if !canTransition(w.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.state, to)
	}
	w.logger.WithFields(logging.LifecycleFields(w.name, w.state.String(), to.String())).Debug("worker_state_changed")
	w.state = to
	metrics.WorkerState.WithLabelValues(w.name).Set(float64(to))
	return nil
}
