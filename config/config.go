// Package config loads the Pressbox configuration from pressbox.toml,
// environment variables, and defaults.
package config

// Config represents the core Pressbox configuration
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher"`
	Generation    GenerationConfig    `mapstructure:"generation"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DispatcherConfig configures the scheduling and work-processing loops
type DispatcherConfig struct {
	// RecurringIntervalMinutes is how often the recurring-schedule pass
	// runs (default: 60, i.e. hourly)
	RecurringIntervalMinutes int `mapstructure:"recurring_interval_minutes"`

	// WorkIntervalMinutes is how often the work-processing pass runs
	// (default: 5)
	WorkIntervalMinutes int `mapstructure:"work_interval_minutes"`

	// BatchSize is the maximum number of due jobs processed per work
	// pass (default: 20)
	BatchSize int `mapstructure:"batch_size"`

	// StaleGeneratingHours is how long a job may sit in "generating"
	// before the sweep returns it to "pending" (default: 2)
	StaleGeneratingHours int `mapstructure:"stale_generating_hours"`
}

// GenerationConfig configures calls to the content-generation worker
type GenerationConfig struct {
	// MaxCallsPerMinute bounds generation calls per work pass window
	// (default: 30). 0 disables rate limiting.
	MaxCallsPerMinute int `mapstructure:"max_calls_per_minute"`
}

// CollaboratorsConfig points at the service hosting the generation worker,
// season-boundary lookups, and the comment subsystem
type CollaboratorsConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	JSON bool `mapstructure:"json"`
}
