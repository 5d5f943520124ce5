package config

import "github.com/spf13/viper"

// SetDefaults applies default values to a Viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "pressbox.db")

	v.SetDefault("dispatcher.recurring_interval_minutes", 60)
	v.SetDefault("dispatcher.work_interval_minutes", 5)
	v.SetDefault("dispatcher.batch_size", 20)
	v.SetDefault("dispatcher.stale_generating_hours", 2)

	v.SetDefault("generation.max_calls_per_minute", 30)

	v.SetDefault("collaborators.base_url", "http://localhost:8090")
	v.SetDefault("collaborators.timeout_seconds", 60)

	v.SetDefault("logging.json", false)
}
