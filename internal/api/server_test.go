package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/catalog-crawler/internal/crawler"
	"github.com/streamforge/catalog-crawler/internal/runstate"
	"github.com/streamforge/catalog-crawler/internal/settings"
	storeMemory "github.com/streamforge/catalog-crawler/internal/storage/memory"
	"github.com/streamforge/catalog-crawler/internal/trigger"
)

type fakeIDGen struct{ next int }

func (g *fakeIDGen) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%03d", g.next), nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeQueue struct {
	reqs []crawler.RunRequest
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, req crawler.RunRequest) error {
	if q.err != nil {
		return q.err
	}
	q.reqs = append(q.reqs, req)
	return nil
}

func (q *fakeQueue) Dequeue(context.Context) (crawler.RunRequest, error) {
	return crawler.RunRequest{}, errors.New("not implemented")
}

type fixture struct {
	server  *httptest.Server
	queue   *fakeQueue
	tracker *runstate.Tracker
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	store := storeMemory.NewSettingsStore()
	tracker := runstate.NewTracker(clock)
	queue := &fakeQueue{}

	settingsSvc := settings.NewService(store, &fakeIDGen{}, clock, nil)
	triggerSvc := trigger.NewService(store, tracker, queue, &fakeIDGen{next: 100}, clock, trigger.Config{}, nil)

	srv := NewServer(settingsSvc, triggerSvc, tracker, cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, queue: queue, tracker: tracker}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func validBody() map[string]any {
	return map[string]any{
		"name":                    "ophim",
		"host":                    "https://ophim.example",
		"img_host":                "https://img.example",
		"cron_schedule":           "0 3 * * *",
		"enabled":                 true,
		"max_retries":             3,
		"rate_limit_delay_ms":     100,
		"max_concurrent_requests": 2,
		"max_continuous_skips":    10,
	}
}

func createCrawler(t *testing.T, f *fixture) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/v1/crawlers", validBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out["id"])
	return out["id"]
}

func TestCreateAndGetCrawler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	id := createCrawler(t, f)

	resp, body := f.do(t, http.MethodGet, "/v1/crawlers/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec crawler.Settings
	require.NoError(t, json.Unmarshal(body, &rec))
	require.Equal(t, "ophim", rec.Name)
	require.Equal(t, "https://ophim.example", rec.Host)
	require.Equal(t, 2, rec.MaxConcurrentRequests)
}

func TestCreateValidationFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	body := validBody()
	body["max_concurrent_requests"] = 0

	resp, raw := f.do(t, http.MethodPost, "/v1/crawlers", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, "max_concurrent_requests", out["field"])
}

func TestCreateDuplicateNameConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	createCrawler(t, f)

	resp, _ := f.do(t, http.MethodPost, "/v1/crawlers", validBody())
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetUnknownCrawler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	resp, _ := f.do(t, http.MethodGet, "/v1/crawlers/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateCrawlerKeepsName(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	id := createCrawler(t, f)

	resp, _ := f.do(t, http.MethodPatch, "/v1/crawlers/"+id, map[string]any{
		"host":    "https://mirror.example",
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := f.do(t, http.MethodGet, "/v1/crawlers/"+id, nil)
	var rec crawler.Settings
	require.NoError(t, json.Unmarshal(body, &rec))
	require.Equal(t, "ophim", rec.Name)
	require.Equal(t, "https://mirror.example", rec.Host)
	require.False(t, rec.Enabled)
}

func TestDeleteCrawler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	id := createCrawler(t, f)

	resp, _ := f.do(t, http.MethodDelete, "/v1/crawlers/"+id, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/v1/crawlers/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListCrawlersPaginates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	for i := 0; i < 3; i++ {
		body := validBody()
		body["name"] = fmt.Sprintf("source-%d", i)
		resp, _ := f.do(t, http.MethodPost, "/v1/crawlers", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, raw := f.do(t, http.MethodGet, "/v1/crawlers?page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data  []crawler.Settings `json:"data"`
		Total int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, 3, out.Total)
	require.Len(t, out.Data, 2)
}

func TestTriggerCrawler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	createCrawler(t, f)

	resp, raw := f.do(t, http.MethodPost, "/v1/crawlers/trigger", map[string]string{"name": "ophim"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]bool
	require.NoError(t, json.Unmarshal(raw, &out))
	require.True(t, out["triggered"])
	require.Len(t, f.queue.reqs, 1)
}

func TestTriggerUnknownCrawler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	resp, _ := f.do(t, http.MethodPost, "/v1/crawlers/trigger", map[string]string{"name": "ghost"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTriggerDispatchFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	createCrawler(t, f)
	f.queue.err = errors.New("broker down")

	resp, _ := f.do(t, http.MethodPost, "/v1/crawlers/trigger", map[string]string{"name": "ophim"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCrawlerStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	id := createCrawler(t, f)

	resp, raw := f.do(t, http.MethodGet, "/v1/crawlers/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state crawler.RunState
	require.NoError(t, json.Unmarshal(raw, &state))
	require.Equal(t, crawler.RunStatusIdle, state.Status)

	require.True(t, f.tracker.TryStart("ophim", "run-1"))
	_, raw = f.do(t, http.MethodGet, "/v1/crawlers/"+id+"/status", nil)
	require.NoError(t, json.Unmarshal(raw, &state))
	require.Equal(t, crawler.RunStatusRunning, state.Status)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AuthEnabled: true, APIKey: "secret"})

	resp, _ := f.do(t, http.MethodGet, "/v1/crawlers", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/v1/crawlers", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	require.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	resp, _ := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
