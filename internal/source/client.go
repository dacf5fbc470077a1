// Package source implements the HTTP client for a source host's
// catalog API.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// Config controls client behavior across all sources.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Client implements crawler.Source against one source host using a
// Colly collector. A fresh clone of the base collector serves each
// request so hooks never leak between calls.
type Client struct {
	host          string
	imgHost       string
	cfg           Config
	baseCollector *colly.Collector
}

// NewClient builds a client bound to one crawler's settings snapshot.
func NewClient(settings crawler.Settings, cfg Config) *Client {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true

	return &Client{
		host:          strings.TrimRight(settings.Host, "/"),
		imgHost:       strings.TrimRight(settings.ImgHost, "/"),
		cfg:           cfg,
		baseCollector: c,
	}
}

// Factory returns a crawler.SourceFactory sharing one client config.
func Factory(cfg Config) crawler.SourceFactory {
	return func(settings crawler.Settings) crawler.Source {
		return NewClient(settings, cfg)
	}
}

type catalogPage struct {
	Items []struct {
		Slug string `json:"slug"`
	} `json:"items"`
	HasMore bool `json:"has_more"`
}

type itemDetail struct {
	Item struct {
		Slug      string `json:"slug"`
		Title     string `json:"title"`
		PosterURL string `json:"poster_url"`
	} `json:"item"`
}

// ListSlugs returns the slugs on the given 1-based catalog page and
// whether more pages follow.
func (c *Client) ListSlugs(ctx context.Context, page int) ([]string, bool, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/api/v1/catalog?page=%d", c.host, page))
	if err != nil {
		return nil, false, err
	}

	var parsed catalogPage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("decode catalog page %d: %w", page, err)
	}

	slugs := make([]string, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Slug != "" {
			slugs = append(slugs, item.Slug)
		}
	}
	return slugs, parsed.HasMore, nil
}

// FetchItem returns the item detail for a slug. The raw response body
// is carried as the payload for hashing and archiving.
func (c *Client) FetchItem(ctx context.Context, slug string) (crawler.Item, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/api/v1/items/%s", c.host, url.PathEscape(slug)))
	if err != nil {
		return crawler.Item{}, err
	}

	var parsed itemDetail
	if err := json.Unmarshal(body, &parsed); err != nil {
		return crawler.Item{}, fmt.Errorf("decode item %q: %w", slug, err)
	}

	itemSlug := parsed.Item.Slug
	if itemSlug == "" {
		itemSlug = slug
	}
	return crawler.Item{
		Slug:      itemSlug,
		Title:     parsed.Item.Title,
		PosterURL: c.rewriteImageURL(parsed.Item.PosterURL),
		Payload:   body,
	}, nil
}

// rewriteImageURL moves poster paths onto the configured image host.
// Absolute URLs keep their path but swap the origin; already-rewritten
// and empty URLs pass through.
func (c *Client) rewriteImageURL(raw string) string {
	if raw == "" || c.imgHost == "" {
		return raw
	}
	if strings.HasPrefix(raw, c.imgHost) {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	path := u.EscapedPath()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return c.imgHost + path
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	timeout := c.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		// colly reports non-2xx statuses here with only the status text
		// as the error; keep the code so retry classification works.
		if r != nil && r.StatusCode != 0 {
			fetchErr = &crawler.HTTPStatusError{StatusCode: r.StatusCode, URL: target}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", target, err)
		}
		return body, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.Source = (*Client)(nil)
