package scraper

import (
	"fmt"
	"log/slog"

	"github.com/pincrawl/pincrawl/internal/config"
)

// New builds the retriever selected by the configuration.
func New(cfg config.ScraperConfig, logger *slog.Logger) (Retriever, error) {
	switch cfg.Provider {
	case "firecrawl":
		return NewFirecrawlClient(
			cfg.Firecrawl.BaseURL,
			cfg.Firecrawl.APIKey,
			cfg.Firecrawl.Proxy,
			cfg.Country,
			cfg.Languages,
			cfg.Timeout,
			logger,
		), nil
	case "proxy":
		return NewProxyClient(cfg.Proxy.URL, cfg.Timeout, logger)
	default:
		return nil, fmt.Errorf("unknown scraper provider: %s", cfg.Provider)
	}
}
