package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"mediaconv/internal/config"
	"mediaconv/internal/daemon"
	"mediaconv/internal/encoding"
	"mediaconv/internal/logging"
	"mediaconv/internal/metrics"
	"mediaconv/internal/notifications"
	"mediaconv/internal/queue"
	"mediaconv/internal/services/ffmpeg"
	"mediaconv/internal/thumbnail"
	"mediaconv/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level from the config when set.
	LogLevel    string
	Development bool
}

// Run starts the mediaconv daemon and blocks until SIGINT, SIGTERM, or
// cmdCtx is cancelled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logHub := logging.NewStreamHub(4096)
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogFilePath()},
		Development: opts.Development,
		Stream:      logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)

	d, err := build(cfg, logger, logHub)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the api bind address and queue database access"),
		)
		return err
	}
	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("mediaconv daemon shutting down")
	return nil
}

// build wires the conversion pipeline, notifications and thumbnails into a
// daemon. The returned daemon owns the store.
func build(cfg *config.Config, logger *slog.Logger, logHub *logging.StreamHub) (*daemon.Daemon, error) {
	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return nil, err
	}
	store.SetLogger(logger)

	m := metrics.New()
	executor := ffmpeg.NewCLI(
		ffmpeg.WithFFmpegBinary(cfg.Encoding.FFmpegBinary),
		ffmpeg.WithFFprobeBinary(cfg.Encoding.FFprobeBinary),
		ffmpeg.WithLogger(logger),
	)
	converter, err := encoding.NewService(cfg, executor, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init conversion: %w", err)
	}

	notifier := notifications.NewService(cfg, m, logger)
	listener := notifications.NewListener(notifier, logger)
	manager := workflow.NewManager(cfg, store, converter, logger,
		workflow.WithListener(listener),
		workflow.WithMetrics(m),
	)

	thumbs := thumbnail.New(ffmpeg.NewThumbnailer(cfg.Encoding.FFmpegBinary), thumbnail.Options{
		MaxEntries:        cfg.Thumbnails.MaxEntries,
		SlidingExpiration: cfg.Thumbnails.Expiration(),
		Logger:            logger,
		Metrics:           m,
	})

	d, err := daemon.New(cfg, store, manager, logger, daemon.Options{
		Thumbnails: thumbs,
		Metrics:    m,
		Logs:       logHub,
		Notifier:   notifier,
		Listener:   listener,
	})
	if err != nil {
		thumbs.Close()
		_ = store.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

// PIDPath returns where a running daemon records its process id.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "mediaconvd.pid")
}

// ReadPID returns the pid recorded by a running daemon, or 0.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(PIDPath(cfg))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", binaryAvailable(cfg.Encoding.FFmpegBinary)),
		logging.String("ffmpeg_binary", cfg.Encoding.FFmpegBinary),
		logging.Bool("ffprobe_available", binaryAvailable(cfg.Encoding.FFprobeBinary)),
		logging.String("ffprobe_binary", cfg.Encoding.FFprobeBinary),
		logging.String("default_profile", cfg.Encoding.DefaultProfile),
		logging.Int("workers", cfg.Workflow.Workers),
		logging.Bool("ntfy_enabled", cfg.Notifications.NtfyTopic != ""),
		logging.Bool("amqp_enabled", cfg.Notifications.AMQPURL != ""),
		logging.Bool("api_token_present", cfg.Paths.APIToken != ""),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
