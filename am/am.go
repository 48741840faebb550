package am

// Config represents the dailyix configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse"`
	Import   ImportConfig   `mapstructure:"import" toml:"import"`
	Staging  StagingConfig  `mapstructure:"staging" toml:"staging"`
	Watch    WatchConfig    `mapstructure:"watch" toml:"watch"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// PulseConfig configures the async job system
type PulseConfig struct {
	Workers             int    `mapstructure:"workers" toml:"workers"`                             // concurrent job workers (default: 1)
	PollIntervalMS      int    `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`           // idle dequeue interval (default: 1000)
	MaxRetries          int    `mapstructure:"max_retries" toml:"max_retries"`                     // retries after the first attempt (default: 3)
	RetryBackoffSeconds int    `mapstructure:"retry_backoff_seconds" toml:"retry_backoff_seconds"` // delay step per retry (default: 10)
	RecoveryPerSecond   int    `mapstructure:"recovery_per_second" toml:"recovery_per_second"`     // orphan requeue pacing (default: 20)
	MetricsAddr         string `mapstructure:"metrics_addr" toml:"metrics_addr"`                   // empty = no metrics server
}

// ImportConfig configures the tabular import pipeline
type ImportConfig struct {
	MaxErrors               int    `mapstructure:"max_errors" toml:"max_errors"`
	ClearExisting           bool   `mapstructure:"clear_existing" toml:"clear_existing"`
	DailiesBatchSize        int    `mapstructure:"dailies_batch_size" toml:"dailies_batch_size"`
	PillarsBatchSize        int    `mapstructure:"pillars_batch_size" toml:"pillars_batch_size"`
	DailiesProgressInterval int    `mapstructure:"dailies_progress_interval" toml:"dailies_progress_interval"`
	PillarsProgressInterval int    `mapstructure:"pillars_progress_interval" toml:"pillars_progress_interval"`
	RelationshipPrefix      string `mapstructure:"relationship_prefix" toml:"relationship_prefix"`
	ParentColumn            string `mapstructure:"parent_column" toml:"parent_column"`
	FullDatasetDelaySeconds int    `mapstructure:"full_dataset_delay_seconds" toml:"full_dataset_delay_seconds"`
	BatchStaggerSeconds     int    `mapstructure:"batch_stagger_seconds" toml:"batch_stagger_seconds"`
}

// StagingConfig configures where remote files land before parsing
type StagingConfig struct {
	TempDir  string `mapstructure:"temp_dir" toml:"temp_dir"`   // empty = os.TempDir()
	S3Region string `mapstructure:"s3_region" toml:"s3_region"` // used when rewriting s3://bucket/key
}

// WatchConfig configures the drop-folder watcher
type WatchConfig struct {
	Dir              string `mapstructure:"dir" toml:"dir"` // empty = watcher disabled
	DebounceMS       int    `mapstructure:"debounce_ms" toml:"debounce_ms"`
	EnqueuePerSecond int    `mapstructure:"enqueue_per_second" toml:"enqueue_per_second"`
}

// File permission constants
const (
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
)
