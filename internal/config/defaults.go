package config

const (
	defaultConfigPath        = "~/.config/datastudio/config.toml"
	projectConfigName        = "datastudio.toml"
	defaultDatasetsDir       = "~/.cache/datastudio/datasets"
	defaultStagingDir        = "~/.local/share/datastudio/staging"
	defaultLogDir            = "~/.local/share/datastudio/logs"
	defaultChunkSize         = 1000
	defaultWorkers           = 4
	defaultRowCodec          = "zstd"
	defaultToleranceS        = 1e-4
	defaultStaleStagingHours = 48
	defaultPublishTarget     = "local"
	defaultPublishRegion     = "us-east-1"
	defaultNtfyTimeoutS      = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// DefaultSupportedVersions lists the dataset codebase versions the engine can read.
var DefaultSupportedVersions = []string{"v2.1"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DatasetsDir: defaultDatasetsDir,
			StagingDir:  defaultStagingDir,
			LogDir:      defaultLogDir,
		},
		Engine: Engine{
			ChunkSizeFallback: defaultChunkSize,
			Workers:           defaultWorkers,
			RowCodec:          defaultRowCodec,
			SupportedVersions: append([]string(nil), DefaultSupportedVersions...),
			DefaultToleranceS: defaultToleranceS,
			StaleStagingHours: defaultStaleStagingHours,
		},
		Publish: Publish{
			Target: defaultPublishTarget,
			Region: defaultPublishRegion,
			UseSSL: true,
		},
		Notifications: Notifications{
			RequestTimeoutS: defaultNtfyTimeoutS,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
