// Package adapter wires the mount's components together: configuration,
// bucket client, directory projection, open file table, eviction worker,
// metrics, health checking, and the FUSE mount itself. Everything else in
// this repository is a library; Adapter is the one place that constructs
// and owns all of it for the lifetime of a single mount.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/b2fs4chia/b2fs/internal/bucket"
	"github.com/b2fs4chia/b2fs/internal/config"
	"github.com/b2fs4chia/b2fs/internal/dirtree"
	"github.com/b2fs4chia/b2fs/internal/fuse"
	"github.com/b2fs4chia/b2fs/internal/metrics"
	"github.com/b2fs4chia/b2fs/internal/observability"
	"github.com/b2fs4chia/b2fs/internal/openfiles"
	"github.com/b2fs4chia/b2fs/internal/rangecache"
	"github.com/b2fs4chia/b2fs/pkg/health"
	"github.com/b2fs4chia/b2fs/pkg/memmon"
)

// healthCheckInterval is how often the bucket liveness probe runs.
const healthCheckInterval = 30 * time.Second

// memoryReportInterval is how often the cache memory gauge is refreshed.
const memoryReportInterval = 15 * time.Second

// Adapter owns the full component graph for one mount and its lifecycle:
// Start brings every component up in dependency order, Stop tears them
// down in reverse.
type Adapter struct {
	mountPoint string
	config     *config.Configuration

	logger     *observability.Logger
	structured *observability.StructuredLogger

	client  *bucket.B2Backend
	cached  *bucket.CachedBucket
	tree    *dirtree.Structure
	table   *openfiles.Table
	worker  *openfiles.Worker
	monitor *memmon.Monitor
	metrics *metrics.Collector
	tracker *health.Tracker
	checker *health.Checker

	facade       *fuse.Facade
	mountManager *fuse.MountManager

	cancelReporting context.CancelFunc
	started         bool
}

// New validates mountPoint and cfg and returns an Adapter ready for
// Start. No component is constructed yet.
func New(ctx context.Context, mountPoint string, cfg *config.Configuration) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if mountPoint == "" {
		return nil, fmt.Errorf("mount point cannot be empty")
	}

	return &Adapter{mountPoint: mountPoint, config: cfg}, nil
}

// Start constructs every component in dependency order and mounts the
// filesystem: logging, metrics, bucket client, directory projection, open
// file table and its eviction worker, memory and health reporting, then
// the FUSE facade and mount itself.
func (a *Adapter) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	level, err := observability.ParseLogLevel(a.config.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	output, err := observability.OpenOutput(a.config.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	structuredFormat := observability.FormatText
	if a.config.Debug {
		level = observability.DEBUG
		structuredFormat = observability.FormatJSON
	}
	a.logger = observability.New(level, output)
	a.structured = observability.NewStructured(level, output, structuredFormat)
	a.logger.Infof("starting b2fs adapter for bucket %s", a.config.BucketID)

	a.metrics, err = metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      a.config.MetricsPort,
		Path:      "/metrics",
		Namespace: "b2fs",
	})
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}
	if err := a.metrics.Start(ctx); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	a.client, err = bucket.NewB2Backend(ctx, bucket.B2Config{
		AccountID:      a.config.AccountID,
		ApplicationKey: a.config.ApplicationKey,
		BucketID:       a.config.BucketID,
		Endpoint:       a.config.Endpoint,
		Region:         a.config.Region,
	})
	if err != nil {
		return fmt.Errorf("init bucket client: %w", err)
	}
	a.client.SetMetrics(a.metrics)
	a.cached = bucket.NewCachedBucket(a.client, a.config.CacheTimeout)

	a.tree = dirtree.New()
	initial, err := a.cached.Ls(ctx, true)
	if err != nil {
		return fmt.Errorf("initial bucket listing: %w", err)
	}
	a.tree.Update(initial, nil)

	a.monitor = memmon.New()
	a.monitor.Track("perm")
	a.monitor.Track("temp")

	factory := func(info rangecache.FileInfo) *rangecache.RangeCache {
		return rangecache.New(info, a.cached, a.monitor, a.metrics)
	}
	a.table = openfiles.New(factory, a.logger)
	a.worker = openfiles.NewWorker(a.table, openfiles.Tick)
	a.worker.Start()

	reportCtx, cancel := context.WithCancel(context.Background())
	a.cancelReporting = cancel
	a.monitor.StartReporting(reportCtx, memoryReportInterval, a.metrics)

	a.tracker = health.NewTracker(3, 10)
	a.checker = health.NewChecker(a.tracker, healthCheckInterval, func() error {
		_, err := a.cached.Ls(reportCtx, true)
		return err
	})
	a.checker.Start()

	mountOptions := fuse.DefaultMountOptions()
	mountOptions.AllowOther = a.config.AllowOther
	mountOptions.Debug = a.config.Debug

	a.facade = fuse.NewFacade(a.tree, a.cached, a.table, a.logger, a.metrics)
	a.mountManager = fuse.NewMountManager(a.facade, &fuse.MountConfig{
		MountPoint: a.mountPoint,
		Options:    mountOptions,
	}, a.logger)

	if err := a.mountManager.Mount(ctx); err != nil {
		return fmt.Errorf("mount filesystem: %w", err)
	}

	a.started = true
	a.structured.Info("mounted", map[string]interface{}{
		"bucket_id":   a.config.BucketID,
		"mount_point": a.mountPoint,
	})
	return nil
}

// Stop unmounts the filesystem and tears down every background loop in
// reverse dependency order. Errors are collected and the last one
// returned, matching the teacher's best-effort shutdown.
func (a *Adapter) Stop(ctx context.Context) error {
	if !a.started {
		return fmt.Errorf("adapter not started")
	}
	a.logger.Infof("stopping b2fs adapter")

	var lastErr error
	if a.mountManager != nil && a.mountManager.IsMounted() {
		if err := a.mountManager.Unmount(); err != nil {
			a.logger.Errorf("unmount failed: %v", err)
			lastErr = err
		}
	}
	if a.checker != nil {
		a.checker.Stop()
	}
	if a.cancelReporting != nil {
		a.cancelReporting()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil {
			a.logger.Errorf("metrics server shutdown failed: %v", err)
			lastErr = err
		}
	}

	a.started = false
	a.structured.Info("unmounted", map[string]interface{}{
		"bucket_id":   a.config.BucketID,
		"mount_point": a.mountPoint,
	})
	return lastErr
}

// Stats returns the FUSE dispatch counters for the running mount.
func (a *Adapter) Stats() fuse.Stats {
	return a.facade.Stats()
}

// Health returns the current liveness state of the bucket client.
func (a *Adapter) Health() health.State {
	return a.tracker.Overall()
}

// Wait blocks until the mount is unmounted, cooperatively or forcibly.
func (a *Adapter) Wait() {
	a.mountManager.Wait()
}

// Structured returns the structured logger components can use to log
// fetch/amplification/eviction events with contextual fields.
func (a *Adapter) Structured() *observability.StructuredLogger {
	return a.structured
}
