package config

const (
	defaultStateDir              = "~/.local/share/assetpipe"
	defaultLogDir                = "~/.local/share/assetpipe/logs"
	defaultGatewayBaseURL        = "http://localhost:8000"
	defaultGatewayTimeoutSeconds = 30
	defaultMaxRetries            = 3
	defaultBaseDelayMillis       = 1000
	defaultPollIntervalSeconds   = 5
	defaultPollMaxAttempts       = 120
	defaultAIModel               = "meshy-5"
	defaultTopology              = "quad"
	defaultTargetPolycount       = 30000
	defaultMaxImages             = 4
	defaultTargetFormat          = "glb"
	defaultSaveWeight            = 0.2
	defaultBackgroundWeight      = 0.2
	defaultModelWeight           = 0.6
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

var defaultLODs = []string{"high", "medium", "low"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Gateway: Gateway{
			BaseURL:        defaultGatewayBaseURL,
			TimeoutSeconds: defaultGatewayTimeoutSeconds,
		},
		Retry: Retry{
			MaxRetries:      defaultMaxRetries,
			BaseDelayMillis: defaultBaseDelayMillis,
		},
		Polling: Polling{
			IntervalSeconds: defaultPollIntervalSeconds,
			MaxAttempts:     defaultPollMaxAttempts,
		},
		Generation: Generation{
			AIModel:         defaultAIModel,
			Topology:        defaultTopology,
			TargetPolycount: defaultTargetPolycount,
			MaxImages:       defaultMaxImages,
		},
		Optimization: Optimization{
			LODs:         append([]string(nil), defaultLODs...),
			TargetFormat: defaultTargetFormat,
		},
		Batch: Batch{
			SaveWeight:       defaultSaveWeight,
			BackgroundWeight: defaultBackgroundWeight,
			ModelWeight:      defaultModelWeight,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Batch:          true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
