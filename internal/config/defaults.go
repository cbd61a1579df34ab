package config

const (
	defaultDataDir              = "~/.local/share/conveyor"
	defaultNodeBind             = "127.0.0.1:7440"
	defaultNodeURL              = "http://127.0.0.1:7440"
	defaultRequestTimeoutMS     = 30000
	defaultMaxDocumentBytes     = 16 << 20
	defaultTailPollIntervalMS   = 200
	defaultTailPollAttempts     = 10
	defaultArchiveMaxEntries    = 100000
	defaultArchiveMaxBytes      = 1 << 30
	defaultStatusFlushMS        = 1000
	defaultHoldIntervalMS       = 2000
	defaultShutdownTimeoutMS    = 2000
	defaultRecurringIntervalMS  = 2000
	defaultMaxConsecutiveErrors = 10
	defaultErrorBackoffMS       = 1000
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Node: Node{
			Bind:             defaultNodeBind,
			URL:              defaultNodeURL,
			AllowedHosts:     []string{"127.0.0.1", "::1", "localhost"},
			RequestTimeoutMS: defaultRequestTimeoutMS,
		},
		Store: Store{
			DataDir:            defaultDataDir,
			MaxDocumentBytes:   defaultMaxDocumentBytes,
			TailPollIntervalMS: defaultTailPollIntervalMS,
			TailPollAttempts:   defaultTailPollAttempts,
		},
		Archive: Archive{
			MaxEntries: defaultArchiveMaxEntries,
			MaxBytes:   defaultArchiveMaxBytes,
		},
		Status: Status{
			FlushIntervalMS: defaultStatusFlushMS,
		},
		Worker: Worker{
			HoldIntervalMS:       defaultHoldIntervalMS,
			ShutdownTimeoutMS:    defaultShutdownTimeoutMS,
			RecurringIntervalMS:  defaultRecurringIntervalMS,
			MaxConsecutiveErrors: defaultMaxConsecutiveErrors,
			ErrorBackoffMS:       defaultErrorBackoffMS,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Stages: map[string]StageProperties{},
	}
}
