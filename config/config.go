package config

// Config represents the core Crewline configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Rota     RotaConfig     `mapstructure:"rota"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Plans    PlansConfig    `mapstructure:"plans"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the Crewline web server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8744, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LogTheme       string   `mapstructure:"log_theme"` // Color theme: gruvbox, everforest
}

// Server port constants
const (
	DefaultServerPort = 8744 // Above the privileged range, unlikely to collide
)

// RotaConfig configures the recurring-job scheduler
type RotaConfig struct {
	// How often the daemon sweeps active templates (default: 300).
	// 0 = no periodic sweeps, manual or API triggered only.
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"`

	// Run a sweep immediately when the daemon starts (default: true)
	SweepOnStartup bool `mapstructure:"sweep_on_startup"`

	// Manual sweep triggers allowed per minute across the whole API
	// (default: 6). 0 = unlimited.
	ManualSweepsPerMinute int `mapstructure:"manual_sweeps_per_minute"`
}

// OutboxConfig configures notification delivery workers
type OutboxConfig struct {
	Workers               int     `mapstructure:"workers"`                 // Concurrent delivery workers (default: 2)
	DeliveriesPerSecond   float64 `mapstructure:"deliveries_per_second"`   // Outbound rate limit (default: 5)
	DeliveryBurst         int     `mapstructure:"delivery_burst"`          // Rate limiter burst (default: 10)
	MaxAttempts           int     `mapstructure:"max_attempts"`            // Attempts before a row is marked failed (default: 5)
	WebhookTimeoutSeconds int     `mapstructure:"webhook_timeout_seconds"` // Per-request timeout (default: 10)
	// HMAC key for webhook signatures (empty = unsigned). Excluded from
	// marshaled output so `config show` and the REST API never print it.
	SigningSecret string `mapstructure:"signing_secret" json:"-" toml:"-" yaml:"-"`
}

// PlansConfig holds per-tier subscription limits. Zero limits mean unlimited.
type PlansConfig struct {
	Starter    PlanConfig `mapstructure:"starter"`
	Pro        PlanConfig `mapstructure:"pro"`
	Enterprise PlanConfig `mapstructure:"enterprise"`
}

// PlanConfig bounds what a tenant on a given tier may create
type PlanConfig struct {
	MaxActiveTemplates  int `mapstructure:"max_active_templates"`   // Active recurring templates (0 = unlimited)
	MaxJobsPerMonth     int `mapstructure:"max_jobs_per_month"`     // Generated jobs per calendar month (0 = unlimited)
	MaxWebhooksPerMonth int `mapstructure:"max_webhooks_per_month"` // Webhook deliveries per calendar month (0 = unlimited)
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
