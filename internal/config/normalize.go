package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	envAPIToken  = "MEDIACONV_API_TOKEN"
	envNtfyTopic = "MEDIACONV_NTFY_TOPIC"
	envAMQPURL   = "MEDIACONV_AMQP_URL"
)

// applyEnv lets environment variables override secrets from the config file.
func (c *Config) applyEnv() {
	if value, ok := os.LookupEnv(envAPIToken); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = value
	}
	if value, ok := os.LookupEnv(envNtfyTopic); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = value
	}
	if value, ok := os.LookupEnv(envAMQPURL); ok && strings.TrimSpace(value) != "" {
		c.Notifications.AMQPURL = value
	}
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEncoding()
	c.normalizeNotifications()
	c.Maintenance.Schedule = strings.TrimSpace(c.Maintenance.Schedule)
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeEncoding() {
	c.Encoding.FFmpegBinary = strings.TrimSpace(c.Encoding.FFmpegBinary)
	if c.Encoding.FFmpegBinary == "" {
		c.Encoding.FFmpegBinary = defaultFFmpegBinary
	}
	c.Encoding.FFprobeBinary = strings.TrimSpace(c.Encoding.FFprobeBinary)
	if c.Encoding.FFprobeBinary == "" {
		c.Encoding.FFprobeBinary = defaultFFprobeBinary
	}
	c.Encoding.DefaultProfile = strings.ToLower(strings.TrimSpace(c.Encoding.DefaultProfile))
	if c.Encoding.DefaultProfile == "" {
		c.Encoding.DefaultProfile = defaultProfile
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.AMQPURL = strings.TrimSpace(c.Notifications.AMQPURL)
	c.Notifications.AMQPExchange = strings.TrimSpace(c.Notifications.AMQPExchange)
	if c.Notifications.AMQPExchange == "" {
		c.Notifications.AMQPExchange = defaultAMQPExchange
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "pretty", "text":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
