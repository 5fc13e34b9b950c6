package scraper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ProxyClient retrieves pages directly through a forward HTTP proxy.
// Unlike the Firecrawl backend it returns raw HTML and extracts links by
// parsing the document itself.
type ProxyClient struct {
	client *http.Client
	logger *slog.Logger
}

// NewProxyClient builds a retriever that routes requests through proxyURL.
func NewProxyClient(proxyURL string, timeout time.Duration, logger *slog.Logger) (*ProxyClient, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, newError(KindUnrecoverable, 0, "parsing proxy url", err)
	}
	return &ProxyClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyURL(parsed),
			},
		},
		logger: logger,
	}, nil
}

// GetLinks fetches a search-results page and extracts every anchor href,
// resolved against the page URL, deduplicated in document order.
func (c *ProxyClient) GetLinks(ctx context.Context, pageURL string) (*LinksResult, error) {
	status, body, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, newError(KindUnrecoverable, 0, "parsing page url", err)
	}
	links, err := extractLinks(strings.NewReader(body), base)
	if err != nil {
		return nil, newError(KindRetryNow, status, "parsing page html", err)
	}
	return &LinksResult{Links: links, StatusCode: status, CreditsUsed: 1}, nil
}

// Retrieve fetches a single page and returns the raw body.
func (c *ProxyClient) Retrieve(ctx context.Context, pageURL string) (*ScrapeResult, error) {
	status, body, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return &ScrapeResult{Content: body, StatusCode: status, CreditsUsed: 1}, nil
}

func (c *ProxyClient) get(ctx context.Context, pageURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return 0, "", newError(KindUnrecoverable, 0, "building request", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, "", classifyStatus(resp.StatusCode, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", newError(KindRetryNow, resp.StatusCode, "reading response body", err)
	}
	return resp.StatusCode, string(body), nil
}

// extractLinks walks the HTML tree collecting anchor hrefs. Fragment-only
// and non-http(s) links are dropped.
func extractLinks(r io.Reader, base *url.URL) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []string
	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" || strings.HasPrefix(href, "#") {
					break
				}
				resolved, err := base.Parse(href)
				if err != nil {
					break
				}
				if resolved.Scheme != "http" && resolved.Scheme != "https" {
					break
				}
				resolved.Fragment = ""
				link := resolved.String()
				if _, ok := seen[link]; !ok {
					seen[link] = struct{}{}
					links = append(links, link)
				}
				break
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links, nil
}
