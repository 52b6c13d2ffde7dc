package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/spendoodle/shellcache/internal/cache"
)

// Install opens (creating if needed) the worker's cache and stores every
// manifest URL in it. A single failed fetch fails the whole install, leaves
// nothing of the batch behind and retires the worker. On success the worker
// asks its host to skip the waiting phase.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateInstalling); err != nil {
		return err
	}

	if err := w.precache(ctx); err != nil {
		_ = w.transition(StateRedundant)
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action": "install",
			"cache":  w.name,
		}).Error("install_failed")
		return fmt.Errorf("install %s: %w", w.name, err)
	}

	w.signals.SkipWaiting(w)
	if err := w.transition(StateInstalled); err != nil {
		return err
	}
	w.logger.WithFields(logrus.Fields{
		"action":   "install",
		"cache":    w.name,
		"precache": len(w.manifest),
	}).Info("install_complete")
	return nil
}

func (w *Worker) precache(ctx context.Context) error {
	store, err := w.storage.Open(ctx, w.name)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	reqs, err := w.manifestRequests(ctx)
	if err != nil {
		return err
	}
	return cache.AddAll(ctx, store, w.network, reqs)
}

func (w *Worker) manifestRequests(ctx context.Context) ([]*http.Request, error) {
	reqs := make([]*http.Request, 0, len(w.manifest))
	for _, entry := range w.manifest {
		ref, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", entry, err)
		}
		target := w.origin.ResolveReference(ref)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", entry, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Activate deletes every cache whose name differs from the worker's own,
// whoever created it. Deletions run concurrently and all of them are
// attempted; the first failure is returned and retires the worker. On success
// the worker claims all open pages.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateActivating); err != nil {
		return err
	}

	if err := w.prune(ctx); err != nil {
		_ = w.transition(StateRedundant)
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action": "activate",
			"cache":  w.name,
		}).Error("activate_failed")
		return fmt.Errorf("activate %s: %w", w.name, err)
	}

	w.signals.ClaimClients(w)
	if err := w.transition(StateActivated); err != nil {
		return err
	}
	w.logger.WithFields(logrus.Fields{
		"action": "activate",
		"cache":  w.name,
	}).Info("activate_complete")
	return nil
}

func (w *Worker) prune(ctx context.Context) error {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}

	var g errgroup.Group
	for _, name := range names {
		if name == w.name {
			continue
		}
		g.Go(func() error {
			if _, err := w.storage.Delete(ctx, name); err != nil {
				return fmt.Errorf("delete cache %s: %w", name, err)
			}
			w.logger.WithFields(logrus.Fields{
				"action": "activate",
				"cache":  w.name,
				"pruned": name,
			}).Info("cache_pruned")
			return nil
		})
	}
	return g.Wait()
}
