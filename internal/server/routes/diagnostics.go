package routes

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/spendoodle/shellcache/internal/cache"
	"github.com/spendoodle/shellcache/internal/host"
	"github.com/spendoodle/shellcache/internal/metrics"
	"github.com/spendoodle/shellcache/internal/version"
)

// Diagnostics 汇总诊断接口需要的依赖。
type Diagnostics struct {
	Runtime *host.Runtime
	Storage cache.Storage
	Origin  string
	Backend string
	Started time.Time
}

// RegisterDiagnostics 暴露 /-/ 下的诊断与运维接口。
func RegisterDiagnostics(app *fiber.App, d Diagnostics) {
	if app == nil || d.Runtime == nil || d.Storage == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(statusPayload{
			Version:       version.Full(),
			Origin:        d.Origin,
			Backend:       d.Backend,
			UptimeSeconds: int64(time.Since(d.Started).Seconds()),
			Workers:       d.Runtime.Snapshot(),
		})
	})

	app.Get("/-/caches", func(c fiber.Ctx) error {
		current := ""
		if w := d.Runtime.Controller(); w != nil {
			current = w.CacheName()
		}
		caches, err := listCaches(requestContext(c), d.Storage, current)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		return c.JSON(fiber.Map{"caches": caches})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Post("/-/skip-waiting", func(c fiber.Ctx) error {
		err := d.Runtime.PromoteWaiting(requestContext(c))
		switch {
		case errors.Is(err, host.ErrNoWaitingWorker):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_waiting_worker"})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "activate_failed"})
		}
		return c.JSON(d.Runtime.Snapshot())
	})
}

type statusPayload struct {
	Version       string        `json:"version"`
	Origin        string        `json:"origin"`
	Backend       string        `json:"backend"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Workers       host.Snapshot `json:"workers"`
}

type cachePayload struct {
	Name    string   `json:"name"`
	Current bool     `json:"current"`
	Entries []string `json:"entries"`
}

func listCaches(ctx context.Context, storage cache.Storage, current string) ([]cachePayload, error) {
	names, err := storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]cachePayload, 0, len(names))
	for _, name := range names {
		c, err := storage.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]string, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, k.URL)
		}
		result = append(result, cachePayload{Name: name, Current: name == current, Entries: entries})
	}
	return result, nil
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
