package config

const (
	defaultConfigPath                = "~/.config/mediaconv/config.toml"
	defaultDataDir                   = "~/.local/share/mediaconv"
	defaultLogDir                    = "~/.local/share/mediaconv/logs"
	defaultOutputDir                 = "~/Videos/mediaconv"
	defaultAPIBind                   = "127.0.0.1:7587"
	defaultFFmpegBinary              = "ffmpeg"
	defaultFFprobeBinary             = "ffprobe"
	defaultProfile                   = "h264"
	defaultWorkflowWorkers           = 2
	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowHeartbeatTimeout  = 120
	defaultThumbnailMaxEntries       = 256
	defaultThumbnailExpiration       = 600
	defaultThumbnailWidth            = 320
	defaultThumbnailHeight           = 180
	defaultAMQPExchange              = "mediaconv.events"
	defaultMaintenanceSchedule       = "0 3 * * *"
	defaultRetentionDays             = 30
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			OutputDir: defaultOutputDir,
			APIBind:   defaultAPIBind,
		},
		Encoding: Encoding{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			DefaultProfile: defaultProfile,
		},
		Workflow: Workflow{
			Workers:            defaultWorkflowWorkers,
			QueuePollInterval:  5,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
		},
		Thumbnails: Thumbnails{
			MaxEntries:        defaultThumbnailMaxEntries,
			SlidingExpiration: defaultThumbnailExpiration,
			DefaultWidth:      defaultThumbnailWidth,
			DefaultHeight:     defaultThumbnailHeight,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			AMQPExchange:   defaultAMQPExchange,
			Completed:      true,
			Failed:         true,
		},
		Maintenance: Maintenance{
			Schedule:      defaultMaintenanceSchedule,
			RetentionDays: defaultRetentionDays,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
