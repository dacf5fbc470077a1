// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Settings is the persisted configuration for one named catalog crawler.
type Settings struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Host                  string    `json:"host"`
	ImgHost               string    `json:"img_host"`
	CronSchedule          string    `json:"cron_schedule"`
	Enabled               bool      `json:"enabled"`
	ForceUpdate           bool      `json:"force_update"`
	MaxRetries            int       `json:"max_retries"`
	RateLimitDelayMs      int       `json:"rate_limit_delay_ms"`
	MaxConcurrentRequests int       `json:"max_concurrent_requests"`
	MaxContinuousSkips    int       `json:"max_continuous_skips"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// RateLimitDelay returns the minimum spacing between outbound fetches.
func (s Settings) RateLimitDelay() time.Duration {
	return time.Duration(s.RateLimitDelayMs) * time.Millisecond
}

// SettingsInput carries the client-supplied fields for a create.
type SettingsInput struct {
	Name                  string `json:"name"`
	Host                  string `json:"host"`
	ImgHost               string `json:"img_host"`
	CronSchedule          string `json:"cron_schedule"`
	Enabled               bool   `json:"enabled"`
	ForceUpdate           bool   `json:"force_update"`
	MaxRetries            int    `json:"max_retries"`
	RateLimitDelayMs      int    `json:"rate_limit_delay_ms"`
	MaxConcurrentRequests int    `json:"max_concurrent_requests"`
	MaxContinuousSkips    int    `json:"max_continuous_skips"`
}

// SettingsPatch is a partial update. Nil fields are left untouched.
// Name is deliberately absent: it is immutable after creation.
type SettingsPatch struct {
	Host                  *string `json:"host"`
	ImgHost               *string `json:"img_host"`
	CronSchedule          *string `json:"cron_schedule"`
	Enabled               *bool   `json:"enabled"`
	ForceUpdate           *bool   `json:"force_update"`
	MaxRetries            *int    `json:"max_retries"`
	RateLimitDelayMs      *int    `json:"rate_limit_delay_ms"`
	MaxConcurrentRequests *int    `json:"max_concurrent_requests"`
	MaxContinuousSkips    *int    `json:"max_continuous_skips"`
}

// ListFilter holds pagination and filter parameters for settings listings.
// Page is 1-based.
type ListFilter struct {
	Page    int
	Limit   int
	Enabled *bool
	Search  string
}

// TriggerInput is the ephemeral command for a manual crawl invocation.
type TriggerInput struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// RunRequest is the queue message produced by a trigger. Crawler is a
// snapshot of the settings at dispatch time; edits made while the run
// is in flight do not reach it.
type RunRequest struct {
	RunID     string    `json:"run_id"`
	Crawler   Settings  `json:"crawler"`
	Slug      string    `json:"slug,omitempty"`
	Requested time.Time `json:"requested_at"`
}

// SingleItem reports whether the run is scoped to one slug instead of
// a full catalog walk.
func (r RunRequest) SingleItem() bool {
	return r.Slug != ""
}

// RunStatus represents the lifecycle state of one crawl run.
type RunStatus string

// Run status values kept by the run tracker.
const (
	RunStatusIdle         RunStatus = "idle"
	RunStatusRunning      RunStatus = "running"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusAbortedSkips RunStatus = "aborted_skips"
	RunStatusFailed       RunStatus = "failed"
	RunStatusCanceled     RunStatus = "canceled"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusAbortedSkips, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// RunCounters tracks per-run item outcomes. Skipped counts
// already-up-to-date items; Failed counts items whose retries were
// exhausted. The two are never conflated.
type RunCounters struct {
	ItemsFetched int `json:"items_fetched"`
	ItemsSkipped int `json:"items_skipped"`
	ItemsFailed  int `json:"items_failed"`
	Retries      int `json:"retries"`
}

// RunState is the per-crawler-name state record kept by the tracker.
type RunState struct {
	Crawler  string      `json:"crawler"`
	RunID    string      `json:"run_id,omitempty"`
	Status   RunStatus   `json:"status"`
	Started  *time.Time  `json:"started_at,omitempty"`
	Finished *time.Time  `json:"finished_at,omitempty"`
	Counters RunCounters `json:"counters"`
}

// Item is one catalog entry fetched from a source host.
type Item struct {
	Slug      string
	Title     string
	PosterURL string
	Payload   []byte
}

// MovieRecord is the upsert target persisted per (source, slug).
type MovieRecord struct {
	Source      string    `json:"source"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	PosterURL   string    `json:"poster_url"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
}
