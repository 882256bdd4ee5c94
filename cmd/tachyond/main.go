// Command tachyond is the composition root: it wires config, the task
// store, the supervisor and the HTTP intake listener together and runs
// until an OS signal asks it to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-dl/tachyon-core/internal/api"
	"github.com/tachyon-dl/tachyon-core/internal/config"
	"github.com/tachyon-dl/tachyon-core/internal/entry"
	"github.com/tachyon-dl/tachyon-core/internal/filesystem"
	"github.com/tachyon-dl/tachyon-core/internal/logger"
	"github.com/tachyon-dl/tachyon-core/internal/network"
	"github.com/tachyon-dl/tachyon-core/internal/netprobe"
	"github.com/tachyon-dl/tachyon-core/internal/supervisor"
	"github.com/tachyon-dl/tachyon-core/internal/taskstore"
)

// intakePort is the fixed local listener port.
const intakePort = 6121

func main() {
	saveDir := flag.String("save-dir", defaultSaveDir(), "directory new downloads are written to")
	dbPath := flag.String("db", "", "path to a sqlite file for durable task records (in-memory if empty)")
	concurrency := flag.Int("concurrency", 3, "maximum simultaneously-running tasks")
	hostLimit := flag.Int("host-limit", 2, "maximum simultaneously-running tasks per host")
	flag.Parse()

	log := logger.New(os.Stdout)

	if err := os.MkdirAll(*saveDir, 0o755); err != nil {
		log.Error("tachyond: creating save dir", "dir", *saveDir, "error", err)
		os.Exit(1)
	}

	store, err := openStore(*dbPath)
	if err != nil {
		log.Error("tachyond: opening task store", "error", err)
		os.Exit(1)
	}

	cfg := config.Default()

	bandwidth := network.NewBandwidthManager()
	bandwidth.SetLimit(cfg.GlobalBandwidthLimit)

	congestion := network.NewCongestionController(1)
	suggestedConcurrency := 0
	if res, ok := netprobe.Probe(context.Background(), log, 3*time.Second); ok {
		log.Info("tachyond: netprobe complete", "mbps", res.DownloadMbps, "suggested_concurrency", res.SuggestedConcurrency)
		suggestedConcurrency = res.SuggestedConcurrency
	}

	sup := supervisor.New(log, *concurrency, *hostLimit)
	defer sup.Close()

	deps := entry.Deps{
		Store:      store,
		Allocator:  filesystem.NewAllocator(),
		Bandwidth:  bandwidth,
		Congestion: congestion,
		SaveDir:    *saveDir,
	}

	core := &coreAdapter{
		cfg:                  cfg,
		deps:                 deps,
		sup:                  sup,
		logger:               log,
		suggestedConcurrency: suggestedConcurrency,
	}

	server := api.New(core, log)
	go func() {
		if err := server.ListenAndServe(intakePort); err != nil {
			log.Error("tachyond: intake listener stopped", "error", err)
		}
	}()

	waitForSignal()
	log.Info("tachyond: signal received, draining running tasks")
	sup.CancelAll()
	sup.Join()
}

func openStore(path string) (*taskstore.Store, error) {
	if path == "" {
		return taskstore.New(), nil
	}
	return taskstore.Open(path)
}

func defaultSaveDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "Downloads", "tachyon")
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

// coreAdapter implements api.Enqueuer over the supervisor and task entry
// point.
type coreAdapter struct {
	cfg    config.DownloadConfig
	deps   entry.Deps
	sup    *supervisor.Supervisor
	logger *slog.Logger

	// suggestedConcurrency is the one-shot netprobe hint applied to each
	// new host's congestion state the first time it's seen.
	suggestedConcurrency int
}

func (c *coreAdapter) Enqueue(rawURL string, headers map[string]string) (string, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return "", fmt.Errorf("tachyond: invalid url: %w", err)
	}

	cfg := c.cfg
	if len(headers) > 0 {
		cfg.Headers = headers
	}

	id := uuid.NewString()
	host := hostOf(rawURL)

	if c.suggestedConcurrency > 0 && c.deps.Congestion != nil {
		c.deps.Congestion.SeedIfAbsent(host, c.suggestedConcurrency)
	}
	if c.deps.Bandwidth != nil {
		c.deps.Bandwidth.SetTaskPriority(id, int(cfg.Priority))
	}

	c.sup.Add(id, int(cfg.Priority), host, time.Time{}, func(ctx context.Context) error {
		defer func() {
			if c.deps.Bandwidth != nil {
				c.deps.Bandwidth.ClearTask(id)
			}
		}()
		result := entry.RunTask(ctx, rawURL, cfg, c.deps, nil, nil)
		if result.Err != nil {
			c.logger.Error("tachyond: task failed", "id", id, "url", rawURL, "error", result.Err)
			return result.Err
		}
		return nil
	})
	return id, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
