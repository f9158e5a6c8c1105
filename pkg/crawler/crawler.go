// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The Aide Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package crawler fetches web pages and extracts their readable content.
//
// Each crawl builds a fresh collector, so visited-URL state never leaks
// between calls. The domain allowlist, link depth, parallelism, user
// agent, and timeout all come from configuration.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/observability"
)

// Page is the extracted content of one fetched document.
type Page struct {
	URL   string   `json:"url"`
	Title string   `json:"title,omitempty"`
	Text  string   `json:"text"`
	Links []string `json:"links,omitempty"`
}

type settings struct {
	recorder observability.Recorder
	logger   *slog.Logger
}

func defaultSettings() settings {
	return settings{
		recorder: observability.NoopMetrics{},
		logger:   slog.Default(),
	}
}

// Option configures a Crawler.
type Option func(*settings)

// WithRecorder sets the metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(s *settings) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// Crawler fetches pages within the configured domain and depth bounds.
//
// Safe for concurrent use; each call runs an independent collector.
type Crawler struct {
	cfg      config.CrawlerConfig
	settings settings
}

// New creates a Crawler. A nil cfg uses defaults.
func New(cfg *config.CrawlerConfig, opts ...Option) *Crawler {
	crawlerCfg := config.CrawlerConfig{}
	if cfg != nil {
		crawlerCfg = *cfg
	}
	crawlerCfg.SetDefaults()

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	return &Crawler{cfg: crawlerCfg, settings: s}
}

// Fetch retrieves a single page without following links.
func (c *Crawler) Fetch(ctx context.Context, url string) (*Page, error) {
	pages, err := c.run(ctx, url, 1)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no HTML content at %s", url)
	}
	return pages[0], nil
}

// Crawl fetches the start page and follows same-allowlist links up to
// the configured depth. The start page comes first; pages fetched
// after a context cancellation are simply missing from the result.
func (c *Crawler) Crawl(ctx context.Context, url string) ([]*Page, error) {
	return c.run(ctx, url, c.cfg.MaxDepth)
}

type crawlState struct {
	mu    sync.Mutex
	pages []*Page
	err   error
}

func (st *crawlState) add(page *Page) {
	st.mu.Lock()
	st.pages = append(st.pages, page)
	st.mu.Unlock()
}

func (st *crawlState) fail(err error) {
	st.mu.Lock()
	if st.err == nil {
		st.err = err
	}
	st.mu.Unlock()
}

func (c *Crawler) run(ctx context.Context, url string, maxDepth int) ([]*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout.Duration())
	defer cancel()

	state := &crawlState{}
	collector := c.newCollector(ctx, state, maxDepth)

	if err := collector.Visit(url); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", url, err)
	}
	collector.Wait()

	state.mu.Lock()
	pages, err := state.pages, state.err
	state.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return pages, nil
}

func (c *Crawler) newCollector(ctx context.Context, state *crawlState, maxDepth int) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.UserAgent(c.cfg.UserAgent),
		colly.MaxDepth(maxDepth),
		colly.Async(true),
	}
	if len(c.cfg.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(c.cfg.AllowedDomains...))
	}

	collector := colly.NewCollector(opts...)
	collector.SetRequestTimeout(c.cfg.Timeout.Duration())
	_ = collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Parallelism,
	})

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		c.settings.logger.Debug("Fetching page", "url", r.URL.String(), "depth", r.Depth)
	})

	collector.OnResponse(func(r *colly.Response) {
		c.settings.recorder.RecordCrawlPage(r.StatusCode)
		c.settings.logger.Debug("Fetched page",
			"url", r.Request.URL.String(),
			"status", r.StatusCode,
			"size", len(r.Body))
	})

	collector.OnError(func(r *colly.Response, err error) {
		c.settings.recorder.RecordCrawlPage(r.StatusCode)
		if r.Request.Depth <= 1 {
			state.fail(fmt.Errorf("failed to fetch %s: %w", r.Request.URL.String(), err))
			return
		}
		c.settings.logger.Warn("Failed to fetch linked page",
			"url", r.Request.URL.String(),
			"error", err)
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		links := extractLinks(e)

		// Record the page before queueing its links so the start page
		// always comes first in the result.
		state.add(&Page{
			URL:   e.Request.URL.String(),
			Title: strings.Join(strings.Fields(e.DOM.Find("title").First().Text()), " "),
			Text:  extractText(e.DOM),
			Links: links,
		})

		if e.Request.Depth < maxDepth {
			for _, link := range links {
				_ = e.Request.Visit(link)
			}
		}
	})

	return collector
}

// extractLinks returns the page's outbound http(s) links, resolved
// against the page URL, without fragments, in document order.
func extractLinks(e *colly.HTMLElement) []string {
	var links []string
	seen := make(map[string]bool)

	e.DOM.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs := e.Request.AbsoluteURL(href)
		if i := strings.IndexByte(abs, '#'); i >= 0 {
			abs = abs[:i]
		}
		if abs == "" || seen[abs] {
			return
		}
		if !strings.HasPrefix(abs, "http://") && !strings.HasPrefix(abs, "https://") {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})

	return links
}

// extractText returns the page's visible text with whitespace
// normalized line by line.
func extractText(doc *goquery.Selection) string {
	body := doc.Find("body")
	body.Find("script, style, noscript, template").Remove()

	var lines []string
	for _, line := range strings.Split(body.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
