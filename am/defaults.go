package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultDatabasePath is used when database.path is unset.
const DefaultDatabasePath = "dailyix.db"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.poll_interval_ms", 1000)
	v.SetDefault("pulse.max_retries", 3)
	v.SetDefault("pulse.retry_backoff_seconds", 10) // 10s, 20s, 30s
	v.SetDefault("pulse.recovery_per_second", 20)
	v.SetDefault("pulse.metrics_addr", "")

	v.SetDefault("import.max_errors", 100)
	v.SetDefault("import.clear_existing", true)
	v.SetDefault("import.dailies_batch_size", 100)
	v.SetDefault("import.pillars_batch_size", 50)
	v.SetDefault("import.dailies_progress_interval", 100)
	v.SetDefault("import.pillars_progress_interval", 50)
	v.SetDefault("import.relationship_prefix", "health_pillar_")
	v.SetDefault("import.parent_column", "daily_name")
	v.SetDefault("import.full_dataset_delay_seconds", 30)
	v.SetDefault("import.batch_stagger_seconds", 5)

	v.SetDefault("staging.temp_dir", "")
	v.SetDefault("staging.s3_region", "")

	v.SetDefault("watch.dir", "")
	v.SetDefault("watch.debounce_ms", 500)
	v.SetDefault("watch.enqueue_per_second", 5)
}

// BindSensitiveEnvVars binds keys whose env names do not follow the prefix convention
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "DAILYIX_DATABASE_PATH")
	v.BindEnv("staging.s3_region", "DAILYIX_S3_REGION", "AWS_REGION")
}

// Default returns a Config populated with every default value.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always decode
		panic(err)
	}
	return cfg
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Pulse: {Workers: %d, MaxRetries: %d}, Import: {MaxErrors: %d}}",
		c.Database.Path, c.Pulse.Workers, c.Pulse.MaxRetries, c.Import.MaxErrors)
}
