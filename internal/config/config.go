package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the pincrawl pipeline.
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Scraper   ScraperConfig
	Extractor ExtractorConfig
	Matcher   MatcherConfig
	Pipeline  PipelineConfig
	Notify    NotifyConfig
}

type DatabaseConfig struct {
	URL string
	// Pool bounds map straight onto pgxpool settings.
	PoolMaxConns    int
	PoolMinConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type ScraperConfig struct {
	Provider string
	Timeout  time.Duration
	// Country and Languages are retrieval locale hints passed to managed
	// backends.
	Country   string
	Languages []string

	Firecrawl FirecrawlConfig
	Proxy     ProxyConfig
}

type FirecrawlConfig struct {
	APIKey  string
	BaseURL string
	// Proxy is the starting proxy mode ("basic"); the crawler escalates to
	// "stealth" on sustained failure.
	Proxy string
}

type ProxyConfig struct {
	URL string
}

type ExtractorConfig struct {
	Provider string
	OpenAI   OpenAIConfig
	// MapFile points at a JSON field-path mapping for the jsonpath provider.
	MapFile string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type MatcherConfig struct {
	Provider   string
	Embeddings EmbeddingsConfig
	Pinecone   PineconeConfig
}

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
	// BaseURL is used by the ollama provider; the openai provider reuses
	// Extractor.OpenAI credentials.
	BaseURL string
}

type PineconeConfig struct {
	APIKey    string
	IndexHost string
}

type PipelineConfig struct {
	// SearchURL is the fixed results page discovery scrapes for ad links.
	SearchURL string
	// AdURLPattern filters discovered links to the known listing-URL shape.
	AdURLPattern *regexp.Regexp

	CrawlMaxRetries  int
	ScrapeMaxRetries int
	RetryDelay       time.Duration
	// MaxAdRetries is the cross-run give-up threshold: an ad whose retries
	// counter reaches it is ignored.
	MaxAdRetries int

	TaskKeepCount int
}

type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
	// DedupTTL bounds best-effort suppression of re-delivery across
	// adjacent notification runs.
	DedupTTL time.Duration
}

var validScrapers = map[string]bool{
	"firecrawl": true,
	"proxy":     true,
}

var validExtractors = map[string]bool{
	"openai":   true,
	"jsonpath": true,
}

var validMatchers = map[string]bool{
	"pinecone": true,
	"local":    true,
}

const defaultSearchURL = "https://www.leboncoin.fr/recherche?text=flipper+-pincab+-scooter&shippable=1&price=1000-12000&owner_type=all&sort=time&order=desc"

const defaultAdURLPattern = `^https://www\.leboncoin\.fr/ad/.+/\d+$`

// Load reads configuration from environment variables and returns a
// validated Config. Returns an error with a descriptive message if any
// required value is missing or invalid.
func Load() (*Config, error) {
	pattern, err := regexp.Compile(envString("PINCRAWL_AD_URL_PATTERN", defaultAdURLPattern))
	if err != nil {
		return nil, fmt.Errorf("PINCRAWL_AD_URL_PATTERN is not a valid regexp: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			PoolMaxConns:    envInt("DATABASE_POOL_MAX_CONNS", 10),
			PoolMinConns:    envInt("DATABASE_POOL_MIN_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Scraper: ScraperConfig{
			Provider:  envString("SCRAPER_PROVIDER", "firecrawl"),
			Timeout:   envDurationSecs("SCRAPER_TIMEOUT_SECS", 30*time.Second),
			Country:   envString("SCRAPER_COUNTRY", "FR"),
			Languages: strings.Split(envString("SCRAPER_LANGUAGES", "fr"), ","),
			Firecrawl: FirecrawlConfig{
				APIKey:  os.Getenv("FIRECRAWL_API_KEY"),
				BaseURL: envString("FIRECRAWL_BASE_URL", "https://api.firecrawl.dev"),
				Proxy:   envString("FIRECRAWL_PROXY", "basic"),
			},
			Proxy: ProxyConfig{
				URL: os.Getenv("PROXY_URL"),
			},
		},
		Extractor: ExtractorConfig{
			Provider: envString("EXTRACTOR_PROVIDER", "openai"),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			MapFile: os.Getenv("EXTRACTOR_MAP_FILE"),
		},
		Matcher: MatcherConfig{
			Provider: envString("MATCHER_PROVIDER", "pinecone"),
			Embeddings: EmbeddingsConfig{
				Provider:  envString("EMBEDDINGS_PROVIDER", "openai"),
				Model:     envString("EMBEDDINGS_MODEL", "text-embedding-3-small"),
				Dimension: envInt("EMBEDDINGS_DIMENSION", 512),
				BaseURL:   envString("OLLAMA_BASE_URL", "http://localhost:11434"),
			},
			Pinecone: PineconeConfig{
				APIKey:    os.Getenv("PINECONE_API_KEY"),
				IndexHost: os.Getenv("PINECONE_INDEX_HOST"),
			},
		},
		Pipeline: PipelineConfig{
			SearchURL:        envString("PINCRAWL_SEARCH_URL", defaultSearchURL),
			AdURLPattern:     pattern,
			CrawlMaxRetries:  envInt("CRAWL_MAX_RETRIES", 3),
			ScrapeMaxRetries: envInt("SCRAPE_MAX_RETRIES", 9),
			RetryDelay:       envDurationSecs("RETRY_DELAY", 3*time.Second),
			MaxAdRetries:     envInt("MAX_AD_RETRIES", 12),
			TaskKeepCount:    envInt("TASK_KEEP_COUNT", 300),
		},
		Notify: NotifyConfig{
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
			Timeout:    envDurationSecs("NOTIFY_TIMEOUT_SECS", 10*time.Second),
			DedupTTL:   envDuration("NOTIFY_DEDUP_TTL", 72*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validScrapers[c.Scraper.Provider] {
		return fmt.Errorf("SCRAPER_PROVIDER must be one of firecrawl, proxy; got %q", c.Scraper.Provider)
	}
	if c.Scraper.Provider == "firecrawl" && c.Scraper.Firecrawl.APIKey == "" {
		return fmt.Errorf("FIRECRAWL_API_KEY is required when SCRAPER_PROVIDER is firecrawl")
	}
	if c.Scraper.Provider == "proxy" {
		if c.Scraper.Proxy.URL == "" {
			return fmt.Errorf("PROXY_URL is required when SCRAPER_PROVIDER is proxy")
		}
		if !strings.HasPrefix(c.Scraper.Proxy.URL, "http://") && !strings.HasPrefix(c.Scraper.Proxy.URL, "https://") {
			return fmt.Errorf("PROXY_URL must start with http:// or https://, got %q", c.Scraper.Proxy.URL)
		}
	}

	if !validExtractors[c.Extractor.Provider] {
		return fmt.Errorf("EXTRACTOR_PROVIDER must be one of openai, jsonpath; got %q", c.Extractor.Provider)
	}
	if c.Extractor.Provider == "openai" && c.Extractor.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when EXTRACTOR_PROVIDER is openai")
	}
	if c.Extractor.Provider == "jsonpath" && c.Extractor.MapFile == "" {
		return fmt.Errorf("EXTRACTOR_MAP_FILE is required when EXTRACTOR_PROVIDER is jsonpath")
	}

	if !validMatchers[c.Matcher.Provider] {
		return fmt.Errorf("MATCHER_PROVIDER must be one of pinecone, local; got %q", c.Matcher.Provider)
	}
	if c.Matcher.Provider == "pinecone" {
		if c.Matcher.Pinecone.APIKey == "" {
			return fmt.Errorf("PINECONE_API_KEY is required when MATCHER_PROVIDER is pinecone")
		}
		if c.Matcher.Pinecone.IndexHost == "" {
			return fmt.Errorf("PINECONE_INDEX_HOST is required when MATCHER_PROVIDER is pinecone")
		}
	}
	if c.Matcher.Provider == "local" && c.Matcher.Embeddings.Provider == "openai" && c.Extractor.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when EMBEDDINGS_PROVIDER is openai")
	}

	if c.Pipeline.CrawlMaxRetries < 1 {
		return fmt.Errorf("CRAWL_MAX_RETRIES must be at least 1")
	}
	if c.Pipeline.ScrapeMaxRetries < 1 {
		return fmt.Errorf("SCRAPE_MAX_RETRIES must be at least 1")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
