package config

const (
	defaultConfigPath             = "~/.config/doctools/config.toml"
	defaultOutputDir              = "~/Documents/doctools"
	defaultStateDir               = "~/.local/share/doctools"
	defaultLogDir                 = "~/.local/share/doctools/logs"
	defaultOCREngine              = "baidu"
	defaultCredentialsFile        = "~/.config/baidu/config.json"
	defaultTokenURL               = "https://aip.baidubce.com/oauth/2.0/token"
	defaultOCREndpoint            = "https://aip.baidubce.com/rest/2.0/ocr/v1/general_basic"
	defaultOCRConcurrency         = 2
	defaultOCRRequestTimeout      = 30
	defaultOCRRequestsPerSecond   = 2
	defaultQueueCapacity          = 8
	defaultDPI                    = 100
	defaultImageFormat            = "png"
	defaultPdftoppmBinary         = "pdftoppm"
	defaultSofficeBinary          = "soffice"
	defaultTransformTimeout       = 600
	defaultCacheTTLHours          = 168
	defaultHistoryEnabled         = true
	defaultShutdownTimeoutSeconds = 10
	defaultExecutorWorkers        = 4
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"

	// RecommendedOCRConcurrency is the highest request parallelism a default
	// recognition account accepts.
	RecommendedOCRConcurrency = 2
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
		},
		OCR: OCR{
			Engine:                defaultOCREngine,
			CredentialsFile:       defaultCredentialsFile,
			TokenURL:              defaultTokenURL,
			Endpoint:              defaultOCREndpoint,
			Concurrency:           defaultOCRConcurrency,
			RequestTimeoutSeconds: defaultOCRRequestTimeout,
			RequestsPerSecond:     defaultOCRRequestsPerSecond,
			Languages:             []string{"eng", "chi_sim"},
		},
		Transform: Transform{
			QueueCapacity:  defaultQueueCapacity,
			DPI:            defaultDPI,
			ImageFormat:    defaultImageFormat,
			PdftoppmBinary: defaultPdftoppmBinary,
			SofficeBinary:  defaultSofficeBinary,
			TimeoutSeconds: defaultTransformTimeout,
		},
		Cache: Cache{
			TTLHours: defaultCacheTTLHours,
		},
		History: History{
			Enabled: defaultHistoryEnabled,
		},
		Loop: Loop{
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
			ExecutorWorkers:        defaultExecutorWorkers,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
