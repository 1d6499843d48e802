// ABOUTME: Job listing search against the DuckDuckGo HTML endpoint
// ABOUTME: Scrapes result links, backing the job_finder tool's search mode

package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// searchEndpoint is the no-JS HTML search frontend.
const searchEndpoint = "https://html.duckduckgo.com/html/"

// maxSearchResults caps how many links a search returns.
const maxSearchResults = 10

// Search runs a web search and returns result URLs. Results are scraped from
// the HTML frontend, which wraps each hit in an anchor with class result__a.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	cacheKey := "search:" + query
	if c.cache != nil {
		if v, ok := c.cache.Get(cacheKey); ok {
			if links, ok := v.([]string); ok {
				return links, nil
			}
		}
	}

	searchURL := searchEndpoint + "?q=" + url.QueryEscape(query)
	body, _, err := c.get(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("searching for %q: %w", query, err)
	}

	links, err := parseSearchResults(body)
	if err != nil {
		return nil, fmt.Errorf("parsing search results: %w", err)
	}

	if c.cache != nil {
		c.cache.Put(cacheKey, links)
	}
	return links, nil
}

// parseSearchResults extracts result hrefs from the search page HTML.
func parseSearchResults(body string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(links) >= maxSearchResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			if href := attr(n, "href"); href != "" {
				links = append(links, resolveRedirect(href))
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links, nil
}

// resolveRedirect unwraps the uddg redirect parameter the HTML frontend uses.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
