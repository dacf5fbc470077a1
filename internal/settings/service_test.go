package settings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/streamforge/catalog-crawler/internal/crawler"
	storeMemory "github.com/streamforge/catalog-crawler/internal/storage/memory"
)

type fakeIDGen struct {
	next int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%03d", g.next), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func validInput() crawler.SettingsInput {
	return crawler.SettingsInput{
		Name:                  "ophim",
		Host:                  "https://ophim.example",
		ImgHost:               "https://img.example",
		CronSchedule:          "0 3 * * *",
		Enabled:               true,
		MaxRetries:            3,
		RateLimitDelayMs:      500,
		MaxConcurrentRequests: 4,
		MaxContinuousSkips:    50,
	}
}

func newTestService() (*Service, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	svc := NewService(storeMemory.NewSettingsStore(), &fakeIDGen{}, clock, zap.NewNop())
	return svc, clock
}

func TestCreateRoundTrip(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService()
	in := validInput()

	created, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, clock.now, created.CreatedAt)
	require.Equal(t, clock.now, created.UpdatedAt)

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, created, got)
	require.Equal(t, in.Name, got.Name)
	require.Equal(t, in.Host, got.Host)
	require.Equal(t, in.ImgHost, got.ImgHost)
	require.Equal(t, in.CronSchedule, got.CronSchedule)
	require.Equal(t, in.MaxRetries, got.MaxRetries)
	require.Equal(t, in.RateLimitDelayMs, got.RateLimitDelayMs)
	require.Equal(t, in.MaxConcurrentRequests, got.MaxConcurrentRequests)
	require.Equal(t, in.MaxContinuousSkips, got.MaxContinuousSkips)
}

func TestCreateDuplicateNameFails(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	first, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	in := validInput()
	in.Host = "https://other.example"
	_, err = svc.Create(context.Background(), in)
	require.True(t, crawler.IsConflict(err), "expected ConflictError, got %v", err)

	// Original record untouched.
	got, err := svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, first, got)
}

func TestCreateValidationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		field  string
		mutate func(*crawler.SettingsInput)
	}{
		{"empty name", "name", func(in *crawler.SettingsInput) { in.Name = " " }},
		{"bad host", "host", func(in *crawler.SettingsInput) { in.Host = "not-a-url" }},
		{"bad img host", "img_host", func(in *crawler.SettingsInput) { in.ImgHost = "ftp://img.example" }},
		{"bad cron", "cron_schedule", func(in *crawler.SettingsInput) { in.CronSchedule = "not-a-cron" }},
		{"negative retries", "max_retries", func(in *crawler.SettingsInput) { in.MaxRetries = -1 }},
		{"negative delay", "rate_limit_delay_ms", func(in *crawler.SettingsInput) { in.RateLimitDelayMs = -5 }},
		{"zero concurrency", "max_concurrent_requests", func(in *crawler.SettingsInput) { in.MaxConcurrentRequests = 0 }},
		{"negative skips", "max_continuous_skips", func(in *crawler.SettingsInput) { in.MaxContinuousSkips = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc, _ := newTestService()
			in := validInput()
			tc.mutate(&in)

			_, err := svc.Create(context.Background(), in)
			var ve *crawler.ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestUpdatePatchesMutableFields(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService()
	created, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Hour)
	host := "https://mirror.example"
	enabled := false
	retries := 7
	updated, err := svc.Update(context.Background(), created.ID, crawler.SettingsPatch{
		Host:       &host,
		Enabled:    &enabled,
		MaxRetries: &retries,
	})
	require.NoError(t, err)
	require.Equal(t, host, updated.Host)
	require.False(t, updated.Enabled)
	require.Equal(t, 7, updated.MaxRetries)
	// Untouched fields survive.
	require.Equal(t, created.ImgHost, updated.ImgHost)
	require.Equal(t, created.CronSchedule, updated.CronSchedule)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)
	require.True(t, updated.UpdatedAt.After(created.UpdatedAt))
}

func TestUpdateNeverChangesName(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	created, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	host := "https://mirror.example"
	updated, err := svc.Update(context.Background(), created.ID, crawler.SettingsPatch{Host: &host})
	require.NoError(t, err)
	require.Equal(t, created.Name, updated.Name)

	got, err := svc.GetByName(context.Background(), created.Name)
	require.NoError(t, err)
	require.Equal(t, updated, got)
}

func TestUpdateRevalidatesTouchedFields(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	created, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	badCron := "61 * * * *"
	_, err = svc.Update(context.Background(), created.ID, crawler.SettingsPatch{CronSchedule: &badCron})
	require.True(t, crawler.IsValidation(err), "expected ValidationError, got %v", err)

	zero := 0
	_, err = svc.Update(context.Background(), created.ID, crawler.SettingsPatch{MaxConcurrentRequests: &zero})
	require.True(t, crawler.IsValidation(err), "expected ValidationError, got %v", err)

	// Failed updates leave the record untouched.
	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, created, got)
}

func TestUpdateUnknownIDFails(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	host := "https://mirror.example"
	_, err := svc.Update(context.Background(), "missing", crawler.SettingsPatch{Host: &host})
	require.True(t, crawler.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	created, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID))
	err = svc.Delete(context.Background(), created.ID)
	require.True(t, crawler.IsNotFound(err))
}

func TestListClampsPagination(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService()
	for i := 0; i < 3; i++ {
		in := validInput()
		in.Name = fmt.Sprintf("source-%d", i)
		clock.now = clock.now.Add(time.Minute)
		_, err := svc.Create(context.Background(), in)
		require.NoError(t, err)
	}

	items, total, err := svc.List(context.Background(), crawler.ListFilter{Page: 0, Limit: 0})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 3)
	// Default order is updatedAt descending.
	require.Equal(t, "source-2", items[0].Name)
}
