// Package settings implements the crawler settings repository:
// validation plus CRUD over a SettingsStore.
package settings

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// cronParser accepts standard 5-field expressions (minute hour dom
// month dow), matching what the admin UI collects.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func validateInput(in crawler.SettingsInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return crawler.NewValidationError("name", "must not be empty")
	}
	if err := validateHostURL("host", in.Host); err != nil {
		return err
	}
	if err := validateHostURL("img_host", in.ImgHost); err != nil {
		return err
	}
	if err := validateCron(in.CronSchedule); err != nil {
		return err
	}
	return validateBounds(in.MaxRetries, in.RateLimitDelayMs, in.MaxConcurrentRequests, in.MaxContinuousSkips)
}

func validateHostURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return crawler.NewValidationError(field, "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return crawler.NewValidationError(field, "must be an absolute http(s) URL")
	}
	return nil
}

func validateCron(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return crawler.NewValidationError("cron_schedule", "must not be empty")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return crawler.NewValidationError("cron_schedule", fmt.Sprintf("not a valid cron expression: %v", err))
	}
	return nil
}

func validateBounds(maxRetries, rateLimitDelayMs, maxConcurrent, maxSkips int) error {
	if maxRetries < 0 {
		return crawler.NewValidationError("max_retries", "must be >= 0")
	}
	if rateLimitDelayMs < 0 {
		return crawler.NewValidationError("rate_limit_delay_ms", "must be >= 0")
	}
	if maxConcurrent < 1 {
		return crawler.NewValidationError("max_concurrent_requests", "must be >= 1")
	}
	if maxSkips < 0 {
		return crawler.NewValidationError("max_continuous_skips", "must be >= 0")
	}
	return nil
}
