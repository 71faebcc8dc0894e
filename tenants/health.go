package tenants

import "time"

// Health bands
const (
	BandHealthy = "healthy"
	BandWatch   = "watch"
	BandAtRisk  = "at_risk"
)

// HealthReport is a point-in-time account health assessment
type HealthReport struct {
	TenantID      string    `json:"tenant_id"`
	Score         int       `json:"score"` // 0-100
	Band          string    `json:"band"`
	LoginScore    int       `json:"login_score"`    // 0-40
	TemplateScore int       `json:"template_score"` // 0-30
	JobScore      int       `json:"job_score"`      // 0-30
	ComputedAt    time.Time `json:"computed_at"`
}

// ScoreHealth computes a 0-100 engagement score from raw activity stats.
// Login recency carries the most weight since a tenant that stops logging
// in is the strongest churn signal; active templates and recently
// generated jobs measure whether the scheduler is doing real work for
// them.
func ScoreHealth(stats *HealthStats, now time.Time) HealthReport {
	report := HealthReport{
		TenantID:   stats.TenantID,
		ComputedAt: now,
	}

	report.LoginScore = loginRecencyScore(stats.LastLoginAt, now)
	report.TemplateScore = templateScore(stats.ActiveTemplates)
	report.JobScore = jobScore(stats.JobsLast30Days)

	report.Score = report.LoginScore + report.TemplateScore + report.JobScore

	switch {
	case report.Score >= 70:
		report.Band = BandHealthy
	case report.Score >= 40:
		report.Band = BandWatch
	default:
		report.Band = BandAtRisk
	}

	return report
}

func loginRecencyScore(lastLogin *time.Time, now time.Time) int {
	if lastLogin == nil {
		return 0
	}
	days := int(now.Sub(*lastLogin).Hours() / 24)
	switch {
	case days <= 7:
		return 40
	case days <= 30:
		return 25
	case days <= 90:
		return 10
	default:
		return 0
	}
}

func templateScore(activeTemplates int) int {
	switch {
	case activeTemplates >= 3:
		return 30
	case activeTemplates >= 1:
		return 15
	default:
		return 0
	}
}

func jobScore(jobsLast30Days int) int {
	switch {
	case jobsLast30Days >= 10:
		return 30
	case jobsLast30Days >= 1:
		return 15
	default:
		return 0
	}
}
