// Package crawler orchestrates the acquisition pipeline: link discovery,
// content retrieval, field extraction and catalog identification.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pincrawl/pincrawl/internal/cache"
	"github.com/pincrawl/pincrawl/internal/config"
	"github.com/pincrawl/pincrawl/internal/extractor"
	"github.com/pincrawl/pincrawl/internal/matcher"
	"github.com/pincrawl/pincrawl/internal/scraper"
	"github.com/pincrawl/pincrawl/internal/store"
	"github.com/pincrawl/pincrawl/pkg/models"
)

var (
	// ErrAlreadyScraped guards single-ad retrieval against duplicate work.
	ErrAlreadyScraped = errors.New("ad already scraped")
	// ErrAlreadyIdentified guards single-ad identification the same way.
	ErrAlreadyIdentified = errors.New("ad already identified")
	// ErrBudgetExhausted aborts a batch when the backend signals quota or
	// rate limits; remaining ads wait for the next scheduled run.
	ErrBudgetExhausted = errors.New("retrieval budget exhausted")
)

// Stats summarizes one pipeline run.
type Stats struct {
	Discovered  int
	Scraped     int
	Identified  int
	Confirmed   int
	Ignored     int
	Failed      int
	CreditsUsed int
}

// Crawler drives ads through the discovery, retrieval and identification
// stages. Methods are sequential; a single instance runs one batch at a time.
type Crawler struct {
	store     store.Store
	retriever scraper.Retriever
	extractor extractor.Extractor
	matcher   matcher.Matcher
	cache     cache.Cache
	cfg       config.PipelineConfig
	logger    *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(st store.Store, retriever scraper.Retriever, ext extractor.Extractor, m matcher.Matcher, ca cache.Cache, cfg config.PipelineConfig, logger *slog.Logger) *Crawler {
	return &Crawler{
		store:     st,
		retriever: retriever,
		extractor: ext,
		matcher:   m,
		cache:     ca,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Crawl retrieves the search-results page and registers every new ad link.
// Known URLs are skipped, so discovery is idempotent.
func (c *Crawler) Crawl(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	var links *scraper.LinksResult
	for attempt := 1; ; attempt++ {
		var err error
		links, err = c.retriever.GetLinks(ctx, c.cfg.SearchURL)
		if err == nil {
			break
		}
		switch {
		case scraper.IsRetryLater(err):
			// Rate limits and credit exhaustion wait for the next
			// invocation instead of burning retries now.
			return stats, fmt.Errorf("%w: %v", ErrBudgetExhausted, err)
		case scraper.IsRetryNow(err):
			if attempt >= c.cfg.CrawlMaxRetries {
				return stats, fmt.Errorf("%w: discovery failed %d times: %v", ErrBudgetExhausted, attempt, err)
			}
			c.logger.Warn("discovery failed, retrying", "attempt", attempt, "error", err)
			if serr := c.sleep(ctx, c.cfg.RetryDelay); serr != nil {
				return stats, serr
			}
		default:
			return stats, fmt.Errorf("retrieving search results: %w", err)
		}
	}
	c.trackCredits(ctx, "crawl", links.CreditsUsed)
	stats.CreditsUsed += links.CreditsUsed

	for _, link := range links.Links {
		if !c.cfg.AdURLPattern.MatchString(link) {
			continue
		}
		exists, err := c.store.AdExists(ctx, link)
		if err != nil {
			return stats, fmt.Errorf("checking known ad: %w", err)
		}
		if exists {
			continue
		}
		if _, err := c.store.UpsertAd(ctx, &models.Ad{URL: link}); err != nil {
			return stats, fmt.Errorf("registering ad: %w", err)
		}
		stats.Discovered++
		c.logger.Info("ad discovered", "url", link)
	}

	c.logger.Info("crawl finished", "discovered", stats.Discovered, "links", len(links.Links))
	return stats, nil
}

// ScrapeAd retrieves one ad's content with the per-ad retry budget. On
// give-up the ad's retries counter is incremented and persisted; once it
// reaches the cross-run threshold the ad is ignored for good. Unrecoverable
// targets are ignored immediately. With force set, content already on the
// ad is discarded and the page is fetched again.
func (c *Crawler) ScrapeAd(ctx context.Context, ad *models.Ad, force bool) error {
	if ad.Scraped() && !force {
		return ErrAlreadyScraped
	}

	for attempt := 1; attempt <= c.cfg.ScrapeMaxRetries; attempt++ {
		result, err := c.retriever.Retrieve(ctx, ad.URL)
		if err == nil {
			now := time.Now().UTC()
			ad.ScrapedAt = &now
			ad.Content = &result.Content
			if result.ScrapeID != "" {
				ad.ScrapeID = &result.ScrapeID
			}
			ad.Retries = 0
			c.trackCredits(ctx, "scrape", result.CreditsUsed)
			if _, err := c.store.UpsertAd(ctx, ad); err != nil {
				return fmt.Errorf("saving scraped ad: %w", err)
			}
			c.logger.Info("ad scraped", "url", ad.URL, "credits", result.CreditsUsed)
			return nil
		}

		switch {
		case scraper.IsUnrecoverable(err):
			c.logger.Warn("ad unrecoverable, ignoring", "url", ad.URL, "error", err)
			ad.Ignored = true
			if _, uerr := c.store.UpsertAd(ctx, ad); uerr != nil {
				return fmt.Errorf("ignoring ad: %w", uerr)
			}
			return err
		case scraper.IsRetryLater(err):
			if rerr := c.recordGiveUp(ctx, ad); rerr != nil {
				return rerr
			}
			return fmt.Errorf("%w: %v", ErrBudgetExhausted, err)
		default: // retry now
			c.logger.Warn("ad scrape failed", "url", ad.URL, "attempt", attempt, "error", err)
			if attempt == c.cfg.ScrapeMaxRetries {
				if rerr := c.recordGiveUp(ctx, ad); rerr != nil {
					return rerr
				}
				return fmt.Errorf("scraping %s: %w", ad.URL, err)
			}
			// Halfway through the budget a persistent block is more likely
			// than a transient fault; switch to the stealth proxy.
			if attempt == c.cfg.ScrapeMaxRetries/2 {
				c.escalate()
			}
			if serr := c.sleep(ctx, c.cfg.RetryDelay); serr != nil {
				return serr
			}
		}
	}
	return nil
}

// recordGiveUp bumps the ad's cross-run retries counter and ignores the ad
// once the counter reaches the threshold.
func (c *Crawler) recordGiveUp(ctx context.Context, ad *models.Ad) error {
	ad.Retries++
	if ad.Retries >= c.cfg.MaxAdRetries {
		ad.Ignored = true
		c.logger.Warn("ad exceeded retry threshold, ignoring", "url", ad.URL, "retries", ad.Retries)
	}
	if _, err := c.store.UpsertAd(ctx, ad); err != nil {
		return fmt.Errorf("recording scrape failure: %w", err)
	}
	return nil
}

func (c *Crawler) escalate() bool {
	if esc, ok := c.retriever.(scraper.ProxyEscalator); ok {
		return esc.EscalateProxy()
	}
	return false
}

// IdentifyAd extracts structured fields from the ad's content and confirms
// the product candidate against the catalog. Extracted ad attributes are
// persisted even when identification ultimately fails.
func (c *Crawler) IdentifyAd(ctx context.Context, ad *models.Ad) error {
	if ad.Identified() {
		return ErrAlreadyIdentified
	}
	if ad.Content == nil {
		return fmt.Errorf("ad %s has no content to identify", ad.URL)
	}

	result, err := c.extractor.Extract(ctx, *ad.Content)
	if err != nil {
		return fmt.Errorf("extracting ad %s: %w", ad.URL, err)
	}
	result.Ad.ApplyTo(ad)

	if result.Product == nil {
		// Nothing identifiable on the page; not a pinball ad.
		ad.Ignored = true
		if _, err := c.store.UpsertAd(ctx, ad); err != nil {
			return fmt.Errorf("saving unidentified ad: %w", err)
		}
		c.logger.Info("no product in ad, ignoring", "url", ad.URL)
		return nil
	}

	matched, err := c.matcher.Match(ctx, *result.Product)
	if err != nil {
		// Keep the extracted fields; identification can be retried later.
		if _, uerr := c.store.UpsertAd(ctx, ad); uerr != nil {
			return fmt.Errorf("saving extracted ad: %w", uerr)
		}
		return fmt.Errorf("matching ad %s: %w", ad.URL, err)
	}

	ad.Product = &matched.Name
	ad.Manufacturer = matched.Manufacturer
	ad.Year = matched.Year
	ad.OpdbID = matched.OpdbID

	// A named product means identification ran to completion, match or not.
	now := time.Now().UTC()
	ad.IdentifiedAt = &now

	if matched.OpdbID == nil {
		// Extraction named a product but the catalog has no entry for it.
		ad.Ignored = true
		if _, err := c.store.UpsertAd(ctx, ad); err != nil {
			return fmt.Errorf("saving unmatched ad: %w", err)
		}
		c.logger.Info("no catalog match, ignoring", "url", ad.URL, "product", matched.Name)
		return nil
	}

	saved, err := c.store.UpsertAd(ctx, ad)
	if err != nil {
		return fmt.Errorf("saving identified ad: %w", err)
	}
	*ad = *saved

	if err := c.linkPrevious(ctx, ad); err != nil {
		return err
	}
	c.logger.Info("ad identified", "url", ad.URL, "product", matched.Name, "opdb_id", *matched.OpdbID)
	return nil
}

// linkPrevious points the ad at the most recent earlier ad with the same
// seller and product, forming the repost chain.
func (c *Crawler) linkPrevious(ctx context.Context, ad *models.Ad) error {
	if ad.SellerURL == nil || ad.OpdbID == nil {
		return nil
	}
	prev, err := c.store.FindPreviousAd(ctx, ad)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding previous ad: %w", err)
	}
	ad.PreviousID = &prev.ID
	if _, err := c.store.UpsertAd(ctx, ad); err != nil {
		return fmt.Errorf("linking previous ad: %w", err)
	}
	c.logger.Info("ad linked to previous", "url", ad.URL, "previous", prev.URL)
	return nil
}

// Scrape processes pending ads through retrieval and identification. With
// force set, unidentified ads are re-fetched and re-identified even when
// they already carry content. A budget-exhausted signal stops the batch;
// everything already processed stays processed.
func (c *Crawler) Scrape(ctx context.Context, limit int, force bool) (*Stats, error) {
	stats := &Stats{}

	f := store.AdFilter{Ignored: boolp(false), Limit: limit}
	if force {
		f.Identified = boolp(false)
	} else {
		f.Scraped = boolp(false)
	}
	ads, err := c.store.ListAds(ctx, f)
	if err != nil {
		return stats, fmt.Errorf("listing pending ads: %w", err)
	}

	for _, ad := range ads {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !ad.Scraped() || force {
			err := c.ScrapeAd(ctx, ad, force)
			switch {
			case errors.Is(err, ErrBudgetExhausted):
				c.logger.Warn("stopping batch, retrieval budget exhausted")
				return stats, err
			case scraper.IsUnrecoverable(err):
				stats.Ignored++
				continue
			case err != nil:
				stats.Failed++
				continue
			}
			stats.Scraped++
		}

		switch err := c.IdentifyAd(ctx, ad); {
		case errors.Is(err, ErrAlreadyIdentified):
			// force re-run raced with a concurrent pass; nothing to do
		case err != nil:
			c.logger.Error("identification failed", "url", ad.URL, "error", err)
			stats.Failed++
			continue
		}
		if ad.Identified() {
			stats.Identified++
		}
		if ad.Confirmed() {
			stats.Confirmed++
		}
		if ad.Ignored {
			stats.Ignored++
		}
	}

	c.logger.Info("scrape finished",
		"scraped", stats.Scraped,
		"identified", stats.Identified,
		"confirmed", stats.Confirmed,
		"ignored", stats.Ignored,
		"failed", stats.Failed)
	return stats, nil
}

func (c *Crawler) trackCredits(ctx context.Context, job string, credits int) {
	if credits <= 0 {
		return
	}
	total, err := c.cache.AddCredits(ctx, job, credits)
	if err != nil {
		// Credit accounting is advisory; a cache hiccup never fails a run.
		c.logger.Warn("credit tracking failed", "job", job, "error", err)
		return
	}
	c.logger.Debug("credits spent", "job", job, "credits", credits, "today", total)
}

func boolp(b bool) *bool { return &b }
