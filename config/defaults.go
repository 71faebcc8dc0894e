package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "crewline.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.log_theme", "everforest")

	// Scheduler defaults. The sweep is idempotent, so a short interval
	// only costs a template scan.
	v.SetDefault("rota.ticker_interval_seconds", 300)
	v.SetDefault("rota.sweep_on_startup", true)
	v.SetDefault("rota.manual_sweeps_per_minute", 6)

	// Outbox defaults
	v.SetDefault("outbox.workers", 2)
	v.SetDefault("outbox.deliveries_per_second", 5.0)
	v.SetDefault("outbox.delivery_burst", 10)
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("outbox.webhook_timeout_seconds", 10)

	// Plan tier defaults. Enterprise is uncapped.
	v.SetDefault("plans.starter.max_active_templates", 10)
	v.SetDefault("plans.starter.max_jobs_per_month", 200)
	v.SetDefault("plans.starter.max_webhooks_per_month", 100)
	v.SetDefault("plans.pro.max_active_templates", 100)
	v.SetDefault("plans.pro.max_jobs_per_month", 2000)
	v.SetDefault("plans.pro.max_webhooks_per_month", 1000)
	v.SetDefault("plans.enterprise.max_active_templates", 0)
	v.SetDefault("plans.enterprise.max_jobs_per_month", 0)
	v.SetDefault("plans.enterprise.max_webhooks_per_month", 0)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Database path
	v.BindEnv("database.path", "CREWLINE_DATABASE_PATH")

	// Webhook signing secret stays out of config files
	v.BindEnv("outbox.signing_secret", "CREWLINE_OUTBOX_SIGNING_SECRET")
}

// GetServerPort returns the configured server port, falling back to the
// default when unset.
func GetServerPort() int {
	cfg, err := Load()
	if err != nil || cfg.Server.Port == nil || *cfg.Server.Port == 0 {
		return DefaultServerPort
	}
	return *cfg.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "crewline.db"
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// GetServerLogTheme returns the log theme (default: everforest)
func (c *Config) GetServerLogTheme() string {
	if c.Server.LogTheme == "" {
		return "everforest"
	}
	return c.Server.LogTheme
}

// PlanForTier returns the limits configured for a subscription tier.
// Unknown tiers get starter limits.
func (c *Config) PlanForTier(tier string) PlanConfig {
	return c.Plans.ForTier(tier)
}

// ForTier returns the limits for a subscription tier. Unknown tiers
// get starter limits.
func (p PlansConfig) ForTier(tier string) PlanConfig {
	switch tier {
	case "pro":
		return p.Pro
	case "enterprise":
		return p.Enterprise
	default:
		return p.Starter
	}
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {LogTheme: %s}, Rota: {TickerIntervalSeconds: %d}}",
		c.Database.Path, c.Server.LogTheme, c.Rota.TickerIntervalSeconds)
}
