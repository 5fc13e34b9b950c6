package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	proxyBasic   = "basic"
	proxyStealth = "stealth"
)

// FirecrawlClient retrieves pages through the Firecrawl scrape API.
type FirecrawlClient struct {
	baseURL   string
	apiKey    string
	country   string
	languages []string
	client    *http.Client
	logger    *slog.Logger

	mu    sync.Mutex
	proxy string
}

// NewFirecrawlClient builds a Firecrawl-backed retriever. The proxy mode
// starts at the given value and can be escalated once to stealth.
func NewFirecrawlClient(baseURL, apiKey, proxy, country string, languages []string, timeout time.Duration, logger *slog.Logger) *FirecrawlClient {
	return &FirecrawlClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		country:   country,
		languages: languages,
		proxy:     proxy,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// EscalateProxy switches the client from basic to stealth proxying. It
// returns false when the client is already running stealth.
func (c *FirecrawlClient) EscalateProxy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proxy == proxyStealth {
		return false
	}
	c.proxy = proxyStealth
	c.logger.Info("escalating proxy mode", "proxy", proxyStealth)
	return true
}

func (c *FirecrawlClient) currentProxy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy
}

type firecrawlLocation struct {
	Country   string   `json:"country,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

type firecrawlRequest struct {
	URL             string             `json:"url"`
	Formats         []string           `json:"formats"`
	Proxy           string             `json:"proxy,omitempty"`
	Location        *firecrawlLocation `json:"location,omitempty"`
	OnlyMainContent bool               `json:"onlyMainContent"`
}

type firecrawlMetadata struct {
	StatusCode  int    `json:"statusCode"`
	Error       string `json:"error"`
	CreditsUsed int    `json:"creditsUsed"`
	ScrapeID    string `json:"scrapeId"`
}

type firecrawlResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string            `json:"markdown"`
		Links    []string          `json:"links"`
		Metadata firecrawlMetadata `json:"metadata"`
	} `json:"data"`
}

// GetLinks scrapes a search-results page in links format.
func (c *FirecrawlClient) GetLinks(ctx context.Context, url string) (*LinksResult, error) {
	resp, err := c.scrape(ctx, url, []string{"links"})
	if err != nil {
		return nil, err
	}
	return &LinksResult{
		Links:       resp.Data.Links,
		StatusCode:  resp.Data.Metadata.StatusCode,
		CreditsUsed: resp.Data.Metadata.CreditsUsed,
	}, nil
}

// Retrieve scrapes a single page in markdown format.
func (c *FirecrawlClient) Retrieve(ctx context.Context, url string) (*ScrapeResult, error) {
	resp, err := c.scrape(ctx, url, []string{"markdown"})
	if err != nil {
		return nil, err
	}
	return &ScrapeResult{
		Content:     resp.Data.Markdown,
		StatusCode:  resp.Data.Metadata.StatusCode,
		CreditsUsed: resp.Data.Metadata.CreditsUsed,
		ScrapeID:    resp.Data.Metadata.ScrapeID,
	}, nil
}

func (c *FirecrawlClient) scrape(ctx context.Context, url string, formats []string) (*firecrawlResponse, error) {
	reqBody := firecrawlRequest{
		URL:             url,
		Formats:         formats,
		Proxy:           c.currentProxy(),
		OnlyMainContent: true,
	}
	if c.country != "" || len(c.languages) > 0 {
		reqBody.Location = &firecrawlLocation{Country: c.country, Languages: c.languages}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newError(KindUnrecoverable, 0, "encoding scrape request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, newError(KindUnrecoverable, 0, "building scrape request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, newError(KindRetryNow, httpResp.StatusCode, "reading scrape response", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, classifyStatus(httpResp.StatusCode, apiErrorMessage(body))
	}

	var resp firecrawlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newError(KindRetryNow, httpResp.StatusCode, "decoding scrape response", err)
	}
	if !resp.Success {
		return nil, newError(KindRetryNow, httpResp.StatusCode, "scrape unsuccessful: "+resp.Error, nil)
	}

	// The API can succeed while the upstream site refused the fetch; the
	// upstream status lives in the page metadata.
	if upstream := resp.Data.Metadata.StatusCode; upstream >= 400 {
		return nil, classifyStatus(upstream, resp.Data.Metadata.Error)
	}
	return &resp, nil
}

func apiErrorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

// classifyStatus maps an HTTP status to the three-way error taxonomy.
// 401/403/500 show up as transient blocks on the target site, 402/429 are
// quota and rate limits, everything else at or above 400 is a dead target.
func classifyStatus(status int, msg string) *Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return newError(KindRetryNow, status, msg, nil)
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return newError(KindRetryLater, status, msg, nil)
	default:
		return newError(KindUnrecoverable, status, msg, nil)
	}
}

func classifyTransportError(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindRetryNow, 0, "request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindRetryNow, 0, "request timed out", err)
	}
	return newError(KindRetryNow, 0, fmt.Sprintf("request failed: %v", err), err)
}
