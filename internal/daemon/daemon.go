package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"mediaconv/internal/api"
	"mediaconv/internal/config"
	"mediaconv/internal/deps"
	"mediaconv/internal/logging"
	"mediaconv/internal/metrics"
	"mediaconv/internal/notifications"
	"mediaconv/internal/preflight"
	"mediaconv/internal/queue"
	"mediaconv/internal/thumbnail"
	"mediaconv/internal/workflow"
)

// Options carries optional collaborators.
type Options struct {
	Thumbnails *thumbnail.Cache
	Metrics    *metrics.Metrics
	Logs       *logging.StreamHub
	Notifier   notifications.Service
	// Listener is flushed on Stop so pending notifications are delivered.
	Listener *notifications.Listener
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	opts     Options

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	cancel    context.CancelFunc
	server    *api.Server
	scheduler *cron.Cron
	deps      []deps.Status
	startedAt time.Time

	maintenance singleflight.Group
	running     atomic.Bool
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, wf *workflow.Manager, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		opts:     opts,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, then launches the workflow manager, the API
// server and the maintenance schedule.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediaconv daemon instance is already running")
	}

	d.runPreflight(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	router := api.NewRouter(api.Options{
		Token:           d.cfg.Paths.APIToken,
		Manager:         d.workflow,
		Queue:           d.store,
		Thumbnails:      d.thumbnails(),
		ThumbnailWidth:  d.cfg.Thumbnails.DefaultWidth,
		ThumbnailHeight: d.cfg.Thumbnails.DefaultHeight,
		Metrics:         d.opts.Metrics,
		Logs:            d.opts.Logs,
		Status:          d.Status,
		Logger:          d.logger,
	})
	server := api.NewServer(d.cfg.Paths.APIBind, router, d.logger)
	if err := server.Start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}

	scheduler, err := d.startMaintenance(runCtx)
	if err != nil {
		cancel()
		server.Stop()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.server = server
	d.scheduler = scheduler
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("mediaconv daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", server.Addr()),
		logging.Int("workers", d.cfg.Workflow.Workers),
	)
	return nil
}

// thumbnails avoids handing the router a typed nil.
func (d *Daemon) thumbnails() api.ThumbnailSource {
	if d.opts.Thumbnails == nil {
		return nil
	}
	return d.opts.Thumbnails
}

func (d *Daemon) runPreflight(ctx context.Context) {
	d.deps = preflight.CheckSystemDeps(ctx, d.cfg)
	for _, dep := range d.deps {
		if !dep.Available {
			logging.WarnWithContext(d.logger, "dependency unavailable", "dependency_missing",
				logging.String("dependency", dep.Name),
				logging.String("detail", dep.Detail),
				logging.String(logging.FieldImpact, "conversions fail until the binary is installed"),
			)
		}
	}
	if health, err := d.store.CheckHealth(ctx); err != nil {
		logging.WarnWithContext(d.logger, "queue database check failed", "queue_db_unhealthy",
			logging.Error(err),
			logging.String("path", health.DBPath),
		)
	} else if !health.IntegrityCheck || len(health.MissingColumns) > 0 {
		logging.WarnWithContext(d.logger, "queue database is damaged", "queue_db_unhealthy",
			logging.String("path", health.DBPath),
			logging.Bool("integrity_ok", health.IntegrityCheck),
			logging.String("missing_columns", strings.Join(health.MissingColumns, ",")),
			logging.String(logging.FieldErrorHint, "stop the daemon and delete the queue database"),
		)
	}
	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return
	}
	scheduler, server, cancel := d.scheduler, d.server, d.cancel
	d.scheduler, d.server, d.cancel = nil, nil, nil
	d.running.Store(false)
	d.mu.Unlock()

	// Status handlers take d.mu, so the server is drained without holding it.
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if server != nil {
		server.Stop()
	}
	if cancel != nil {
		cancel()
	}
	d.workflow.Stop()
	if d.opts.Listener != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := d.opts.Listener.Flush(flushCtx); err != nil {
			d.logger.Warn("notifications still pending at shutdown", logging.Error(err))
		}
		flushCancel()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("mediaconv daemon stopped")
}

// Close stops the daemon and releases owned resources.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.opts.Thumbnails != nil {
		d.opts.Thumbnails.Close()
	}
	if closer, ok := d.opts.Notifier.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, d.store.Close())
	return errors.Join(errs...)
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (d *Daemon) IsRunning() bool {
	return d.running.Load()
}

// APIAddr returns the bound API address, or the configured bind when stopped.
func (d *Daemon) APIAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server == nil {
		return d.cfg.Paths.APIBind
	}
	return d.server.Addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	d.mu.Lock()
	startedAt := d.startedAt
	dependencies := d.deps
	d.mu.Unlock()

	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Workflow:     api.FromStatusSummary(d.workflow.Status(ctx)),
		Dependencies: api.FromDependencies(dependencies),
	}
	if !startedAt.IsZero() {
		status.StartedAt = startedAt.UTC().Format(time.RFC3339)
	}
	return status
}
