// ABOUTME: Web content fetcher with readability extraction and markdown conversion
// ABOUTME: Backs the job_finder tool's URL mode with a TTL cache in front

package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"

	"github.com/2389/puch-mcp/internal/dedupe"
)

// UserAgent identifies this server to the sites it fetches.
const UserAgent = "Puch/1.0 (Autonomous)"

// DefaultTimeout bounds a single fetch including redirects.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response body we read.
const maxBodySize = 5 * 1024 * 1024

// Result is the outcome of fetching a URL.
type Result struct {
	// Content is the page content, simplified to markdown when possible.
	Content string
	// Raw indicates Content is the unprocessed body with a content-type notice.
	Raw bool
}

// Client fetches web pages and simplifies them to markdown.
type Client struct {
	httpClient *http.Client
	cache      *dedupe.Cache
	logger     *slog.Logger
}

// Config holds Client options.
type Config struct {
	// Timeout for a single fetch. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Cache memoizes simplified content per URL. Optional.
	Cache *dedupe.Cache
	// Transport overrides the HTTP transport, used in tests.
	Transport http.RoundTripper
}

// NewClient creates a fetch client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: cfg.Transport,
		},
		cache:  cfg.Cache,
		logger: slog.Default().With("component", "fetch"),
	}
}

// Fetch retrieves a URL and simplifies HTML content to markdown. When the
// content is not HTML, or forceRaw is set, the raw body is returned behind a
// content-type notice so the caller knows it was not simplified.
func (c *Client) Fetch(ctx context.Context, rawURL string, forceRaw bool) (*Result, error) {
	cacheKey := fmt.Sprintf("fetch:%s:raw=%t", rawURL, forceRaw)
	if c.cache != nil {
		if v, ok := c.cache.Get(cacheKey); ok {
			if cached, ok := v.(*Result); ok {
				c.logger.Debug("fetch cache hit", "url", rawURL)
				return cached, nil
			}
		}
	}

	body, contentType, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	isHTML := strings.Contains(contentType, "text/html") ||
		strings.HasPrefix(strings.TrimSpace(body), "<")

	var result *Result
	if isHTML && !forceRaw {
		markdown, err := Simplify(body, rawURL)
		if err != nil {
			return nil, fmt.Errorf("simplifying %s: %w", rawURL, err)
		}
		result = &Result{Content: markdown}
	} else {
		notice := fmt.Sprintf("Content type %s cannot be simplified to markdown, but here is the raw content:\n", contentType)
		result = &Result{Content: notice + body, Raw: true}
	}

	if c.cache != nil {
		c.cache.Put(cacheKey, result)
	}
	return result, nil
}

// get performs the HTTP request and returns the body and content type.
func (c *Client) get(ctx context.Context, rawURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("failed to fetch %s - status code %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", rawURL, err)
	}

	return string(body), resp.Header.Get("Content-Type"), nil
}

// Simplify extracts the readable portion of an HTML page and converts it to
// markdown. Pages readability cannot parse fall back to converting the whole
// document.
func Simplify(htmlContent, pageURL string) (string, error) {
	content := htmlContent

	u, err := url.Parse(pageURL)
	if err == nil {
		article, err := readability.FromReader(strings.NewReader(htmlContent), u)
		if err == nil && strings.TrimSpace(article.Content) != "" {
			content = article.Content
		}
	}

	markdown, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		return "", fmt.Errorf("converting to markdown: %w", err)
	}

	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", fmt.Errorf("page %s has no extractable content", pageURL)
	}
	return markdown, nil
}
