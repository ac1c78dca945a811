// Package scraper fetches web pages from a single host so they can be
// indexed like an uploaded document.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/loader"
	"github.com/xhad/docchat/pkg/logging"
)

const maxPageBytes = 10 << 20

type ScraperConfig struct {
	// MaxDepth is how many links away from the start page to follow.
	// Zero fetches only the start page.
	MaxDepth          int
	MaxPages          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string // lower-case, with the dot
	Timeout           time.Duration
	OnProgress        func(url string)
	Logger            *zap.SugaredLogger
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	reader  loader.HTMLReader
	log     *zap.SugaredLogger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxPages == 0 {
		config.MaxPages = 20
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm"}
	}
	if config.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must not be negative, got %d", config.MaxDepth)
	}
	if config.MaxPages < 0 || config.RateLimit < 0 {
		return nil, fmt.Errorf("max pages and rate limit must be positive")
	}

	return &Scraper{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     logging.OrNop(config.Logger),
	}, nil
}

// crawl holds the state of one Scrape call.
type crawl struct {
	host    string
	visited map[string]bool
	pages   []models.Page
}

// Scrape fetches startURL and, up to MaxDepth links away, the pages it links
// to on the same host. Only a failure on the start page is an error; other
// pages that cannot be fetched are skipped.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]models.Page, error) {
	if !strings.Contains(startURL, "://") {
		startURL = "https://" + startURL
	}
	start, err := url.Parse(startURL)
	if err != nil || start.Host == "" {
		return nil, fmt.Errorf("invalid url %q", startURL)
	}
	start.Fragment = ""

	c := &crawl{host: start.Host, visited: make(map[string]bool)}
	if err := s.visit(ctx, c, start.String(), 0); err != nil {
		return nil, err
	}
	return c.pages, nil
}

func (s *Scraper) shouldProcessURL(c *crawl, u *url.URL) bool {
	if u.Host != c.host || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	// Paths without an extension are assumed to be pages.
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		validExt := false
		for _, allowedExt := range s.config.AllowedExtensions {
			if ext == allowedExt {
				validExt = true
				break
			}
		}
		if !validExt {
			return false
		}
	}

	raw := u.String()
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(raw, pattern) {
			return false
		}
	}
	return true
}

func (s *Scraper) visit(ctx context.Context, c *crawl, pageURL string, depth int) error {
	if depth > s.config.MaxDepth || c.visited[pageURL] || len(c.pages) >= s.config.MaxPages {
		return nil
	}
	c.visited[pageURL] = true

	if s.config.OnProgress != nil {
		s.config.OnProgress(pageURL)
	}

	body, err := s.fetch(ctx, pageURL)
	if err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	links := s.links(c, doc, pageURL)

	content, err := s.reader.Read(body)
	if err != nil {
		return err
	}
	c.pages = append(c.pages, models.Page{URL: pageURL, Title: title, Content: content, Depth: depth})
	s.log.Debugw("Scraped page", "url", pageURL, "depth", depth, "chars", len(content))

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.visit(ctx, c, link, depth+1); err != nil {
			s.log.Warnw("Skipping page", "url", link, "error", err)
		}
	}
	return nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, pageURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

func (s *Scraper) links(c *crawl, doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		if s.shouldProcessURL(c, abs) {
			links = append(links, abs.String())
		}
	})
	return links
}

// Join renders pages as one text document, each page under its title.
func Join(pages []models.Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p.Content) == "" {
			continue
		}
		title := p.Title
		if title == "" {
			title = p.URL
		}
		parts = append(parts, title+"\n\n"+p.Content)
	}
	return strings.Join(parts, "\n\n")
}

// Filename names the document built from a scrape of startURL. The .txt
// extension routes it to the plain text reader.
func Filename(startURL string) string {
	name := startURL
	if u, err := url.Parse(startURL); err == nil && u.Host != "" {
		name = u.Host + strings.TrimSuffix(u.Path, "/")
	}
	name = strings.NewReplacer("/", "_", ":", "_").Replace(name)
	return name + ".txt"
}
