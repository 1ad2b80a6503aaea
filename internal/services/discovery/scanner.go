package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// DefaultLinkSelector matches links to individual video pages
const DefaultLinkSelector = `a[href^="/video/"]`

const untitled = "Untitled"

// Link is one discovered page with what the listing shows for it
type Link struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Scanner finds page links on listing pages
type Scanner struct {
	selector string
	client   *http.Client
	logger   arbor.ILogger
}

// NewScanner creates a scanner; an empty selector uses DefaultLinkSelector
func NewScanner(selector string, client *http.Client, logger arbor.ILogger) *Scanner {
	if selector == "" {
		selector = DefaultLinkSelector
	}
	return &Scanner{
		selector: selector,
		client:   client,
		logger:   logger,
	}
}

// ScanURL fetches pageURL and scans the returned HTML
func (s *Scanner) ScanURL(ctx context.Context, pageURL string) ([]Link, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", pageURL, resp.StatusCode)
	}

	// Relative links resolve against the final URL after redirects
	base := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL.String()
	}
	return s.Scan(base, resp.Body)
}

// ScanHTML scans an HTML document held in memory
func (s *Scanner) ScanHTML(baseURL, html string) ([]Link, error) {
	return s.Scan(baseURL, strings.NewReader(html))
}

// Scan returns the unique links in document order, resolved against the
// origin of baseURL.
func (s *Scanner) Scan(baseURL string, r io.Reader) ([]Link, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	origin := &url.URL{Scheme: base.Scheme, Host: base.Host}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	seen := make(map[string]bool)
	var links []Link

	doc.Find(s.selector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		full := origin.ResolveReference(ref).String()
		if seen[full] {
			return
		}
		seen[full] = true

		links = append(links, Link{
			URL:       full,
			Title:     titleOf(a),
			Thumbnail: thumbnailOf(a, base),
		})
	})

	s.logger.Debug().
		Str("base_url", baseURL).
		Int("links_found", len(links)).
		Msg("Listing scanned")

	return links, nil
}

func titleOf(a *goquery.Selection) string {
	if alt, ok := a.Find("img").First().Attr("alt"); ok && strings.TrimSpace(alt) != "" {
		return strings.TrimSpace(alt)
	}
	if text := strings.Join(strings.Fields(a.Text()), " "); text != "" {
		return text
	}
	return untitled
}

func thumbnailOf(a *goquery.Selection, base *url.URL) string {
	src, ok := a.Find("img").First().Attr("src")
	if !ok || src == "" {
		src, _ = a.Find("video").First().Attr("poster")
	}
	if src == "" {
		return ""
	}
	ref, err := url.Parse(src)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
