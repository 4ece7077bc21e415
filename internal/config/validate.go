package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateThumbnails(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateMaintenance(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if c.Encoding.FFmpegBinary == "" {
		return errors.New("encoding.ffmpeg_binary must be set")
	}
	if c.Encoding.FFprobeBinary == "" {
		return errors.New("encoding.ffprobe_binary must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateThumbnails() error {
	return ensurePositiveMap(map[string]int{
		"thumbnails.max_entries":        c.Thumbnails.MaxEntries,
		"thumbnails.sliding_expiration": c.Thumbnails.SlidingExpiration,
		"thumbnails.default_width":      c.Thumbnails.DefaultWidth,
		"thumbnails.default_height":     c.Thumbnails.DefaultHeight,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.AMQPURL != "" {
		parsed, err := url.Parse(c.Notifications.AMQPURL)
		if err != nil || (parsed.Scheme != "amqp" && parsed.Scheme != "amqps") {
			return errors.New("notifications.amqp_url must be an amqp:// or amqps:// URL")
		}
	}
	return nil
}

func (c *Config) validateMaintenance() error {
	if c.Maintenance.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
		return fmt.Errorf("maintenance.schedule: %w", err)
	}
	if c.Maintenance.RetentionDays <= 0 {
		return errors.New("maintenance.retention_days must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
