package config

import "github.com/crewline/crewline/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	// Ticker interval: 0 = no periodic sweeps, negative = invalid
	if c.Rota.TickerIntervalSeconds < 0 {
		return errors.Newf("rota.ticker_interval_seconds must be >= 0, got %d", c.Rota.TickerIntervalSeconds)
	}
	if c.Rota.ManualSweepsPerMinute < 0 {
		return errors.Newf("rota.manual_sweeps_per_minute must be >= 0, got %d", c.Rota.ManualSweepsPerMinute)
	}

	// Outbox workers: 0 = no delivery workers, negative = invalid
	if c.Outbox.Workers < 0 {
		return errors.Newf("outbox.workers must be >= 0, got %d", c.Outbox.Workers)
	}
	if c.Outbox.DeliveriesPerSecond < 0 {
		return errors.Newf("outbox.deliveries_per_second must be >= 0, got %f", c.Outbox.DeliveriesPerSecond)
	}
	if c.Outbox.DeliveryBurst < 0 {
		return errors.Newf("outbox.delivery_burst must be >= 0, got %d", c.Outbox.DeliveryBurst)
	}
	if c.Outbox.MaxAttempts < 1 {
		return errors.Newf("outbox.max_attempts must be >= 1, got %d", c.Outbox.MaxAttempts)
	}
	if c.Outbox.WebhookTimeoutSeconds <= 0 {
		return errors.Newf("outbox.webhook_timeout_seconds must be > 0, got %d", c.Outbox.WebhookTimeoutSeconds)
	}

	// Plan limits: 0 = unlimited, negative = invalid
	for _, tier := range []struct {
		name string
		plan PlanConfig
	}{
		{"starter", c.Plans.Starter},
		{"pro", c.Plans.Pro},
		{"enterprise", c.Plans.Enterprise},
	} {
		if tier.plan.MaxActiveTemplates < 0 {
			return errors.Newf("plans.%s.max_active_templates must be >= 0, got %d", tier.name, tier.plan.MaxActiveTemplates)
		}
		if tier.plan.MaxJobsPerMonth < 0 {
			return errors.Newf("plans.%s.max_jobs_per_month must be >= 0, got %d", tier.name, tier.plan.MaxJobsPerMonth)
		}
		if tier.plan.MaxWebhooksPerMonth < 0 {
			return errors.Newf("plans.%s.max_webhooks_per_month must be >= 0, got %d", tier.name, tier.plan.MaxWebhooksPerMonth)
		}
	}

	return nil
}
