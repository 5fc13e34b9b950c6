// Command pincrawl runs the classified-ads acquisition pipeline: discovery,
// retrieval, identification and notification, plus the operator tooling
// around them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pincrawl/pincrawl/internal/cache"
	"github.com/pincrawl/pincrawl/internal/catalog"
	"github.com/pincrawl/pincrawl/internal/config"
	"github.com/pincrawl/pincrawl/internal/crawler"
	"github.com/pincrawl/pincrawl/internal/embeddings"
	"github.com/pincrawl/pincrawl/internal/extractor"
	"github.com/pincrawl/pincrawl/internal/matcher"
	"github.com/pincrawl/pincrawl/internal/notify"
	"github.com/pincrawl/pincrawl/internal/scraper"
	"github.com/pincrawl/pincrawl/internal/store"
	"github.com/pincrawl/pincrawl/internal/task"
)

const usage = `Usage: pincrawl <command> [flags]

Commands:
  crawl                   discover new ad links from the search page
  scrape [-limit N] [-force]
                          retrieve and identify pending ads
  cron                    full pipeline run: crawl, scrape, notify
  watching list           show watch subscriptions
  watching send           dispatch notifications for confirmed ads
  tasks list [-limit N]   show recent task runs
  tasks unlock -name X    force-close a stuck run
  products populate [-file PATH] [-url URL] [-token T]
                          load the machine catalog
  products index          embed catalog entries for matching
  products list [-query Q] [-limit N] [-offset N]
                          browse the catalog
  migrate                 apply database migrations
`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(os.Args[1:], logger); err != nil {
		logger.Error("pincrawl failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}

	// Reject unknown commands before touching configuration so usage errors
	// never depend on the environment.
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "crawl", "scrape", "cron", "watching", "tasks", "products", "migrate":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command: %s", cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cmd == "migrate" {
		return store.RunMigrations(cfg.Database.URL, "migrations")
	}

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	switch cmd {
	case "crawl":
		return app.crawl(ctx)
	case "scrape":
		return app.scrape(ctx, rest)
	case "cron":
		return app.cron(ctx)
	case "watching":
		return app.watching(ctx, rest)
	case "tasks":
		return app.tasksCmd(ctx, rest)
	case "products":
		return app.products(ctx, rest)
	}
	return nil
}

type app struct {
	cfg    *config.Config
	store  *store.PostgresStore
	cache  *cache.RedisCache
	tasks  *task.Manager
	logger *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	st := store.NewPostgresStore(pool)
	if err := st.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	ca, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &app{
		cfg:    cfg,
		store:  st,
		cache:  ca,
		tasks:  task.NewManager(st, logger),
		logger: logger,
	}, nil
}

func (a *app) close() {
	a.store.Close()
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("closing redis", "error", err)
	}
}

func (a *app) buildCrawler() (*crawler.Crawler, error) {
	retriever, err := scraper.New(a.cfg.Scraper, a.logger)
	if err != nil {
		return nil, err
	}
	ext, err := extractor.New(a.cfg.Extractor, a.logger)
	if err != nil {
		return nil, err
	}
	m, err := matcher.New(a.cfg.Matcher, a.cfg.Extractor.OpenAI, a.store, a.logger)
	if err != nil {
		return nil, err
	}
	return crawler.New(a.store, retriever, ext, m, a.cache, a.cfg.Pipeline, a.logger), nil
}

func (a *app) buildDispatcher() *notify.Dispatcher {
	notifier := notify.NewWebhookNotifier(a.cfg.Notify.WebhookURL, a.cfg.Notify.Timeout)
	return notify.NewDispatcher(a.store, a.cache, a.tasks, notifier,
		a.cfg.Notify.DedupTTL, a.cfg.Pipeline.TaskKeepCount, a.logger)
}

func (a *app) crawl(ctx context.Context) error {
	c, err := a.buildCrawler()
	if err != nil {
		return err
	}
	stats, err := c.Crawl(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("discovered %d new ads\n", stats.Discovered)
	return nil
}

func (a *app) scrape(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scrape", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "max ads to process (0 = all)")
	force := fs.Bool("force", false, "re-run identification on scraped but unidentified ads")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := a.buildCrawler()
	if err != nil {
		return err
	}
	stats, err := c.Scrape(ctx, *limit, *force)
	if stats != nil {
		fmt.Printf("scraped %d, identified %d, confirmed %d, ignored %d, failed %d\n",
			stats.Scraped, stats.Identified, stats.Confirmed, stats.Ignored, stats.Failed)
	}
	return err
}

// cron is the scheduled entrypoint: one gated acquisition pass followed by a
// notification dispatch. A still-running previous pass skips cleanly.
func (a *app) cron(ctx context.Context) error {
	c, err := a.buildCrawler()
	if err != nil {
		return err
	}

	run, err := a.tasks.StartRun(ctx, "scrape")
	if errors.Is(err, task.ErrRunInProgress) {
		a.logger.Warn("previous acquisition run still open, skipping")
	} else if err != nil {
		return err
	} else {
		acqErr := a.acquire(ctx, c)
		if ferr := a.tasks.FinishRun(ctx, run, acqErr == nil); ferr != nil {
			a.logger.Error("closing acquisition run failed", "error", ferr)
		}
		if cerr := a.tasks.Cleanup(ctx, "scrape", a.cfg.Pipeline.TaskKeepCount); cerr != nil {
			a.logger.Error("acquisition run cleanup failed", "error", cerr)
		}
		if acqErr != nil && !errors.Is(acqErr, crawler.ErrBudgetExhausted) {
			return acqErr
		}
	}

	if _, err := a.buildDispatcher().Send(ctx); err != nil {
		if errors.Is(err, task.ErrRunInProgress) {
			a.logger.Warn("previous dispatch run still open, skipping")
			return nil
		}
		return err
	}
	return nil
}

func (a *app) acquire(ctx context.Context, c *crawler.Crawler) error {
	if _, err := c.Crawl(ctx); err != nil {
		return err
	}
	_, err := c.Scrape(ctx, 0, false)
	return err
}

func (a *app) watching(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: pincrawl watching <list|send>")
	}
	switch args[0] {
	case "list":
		watching, err := a.store.ListWatching(ctx)
		if err != nil {
			return err
		}
		for _, w := range watching {
			fmt.Printf("%s\t%s\t%s\n", w.AccountID, w.OpdbID, w.CreatedAt.Format(time.RFC3339))
		}
		fmt.Printf("%d subscriptions\n", len(watching))
		return nil
	case "send":
		result, err := a.buildDispatcher().Send(ctx)
		if result != nil {
			fmt.Printf("changed %d, accounts %d, notified %d, skipped %d, failed %d\n",
				result.Changed, result.Accounts, result.Notified, result.Skipped, result.Failed)
		}
		return err
	default:
		return fmt.Errorf("unknown watching subcommand: %s", args[0])
	}
}

func (a *app) tasksCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: pincrawl tasks <list|unlock>")
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("tasks list", flag.ContinueOnError)
		limit := fs.Int("limit", 20, "max runs to show")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		runs, err := a.store.ListTasks(ctx, *limit)
		if err != nil {
			return err
		}
		for _, t := range runs {
			fmt.Printf("%s\t%-14s\t%-11s\t%s\n", t.ID, t.Name, t.Status, t.CreatedAt.Format(time.RFC3339))
		}
		return nil
	case "unlock":
		fs := flag.NewFlagSet("tasks unlock", flag.ContinueOnError)
		name := fs.String("name", "", "task name to unlock")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *name == "" {
			return errors.New("tasks unlock requires -name")
		}
		return a.tasks.Unlock(ctx, *name)
	default:
		return fmt.Errorf("unknown tasks subcommand: %s", args[0])
	}
}

func (a *app) products(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: pincrawl products <populate|index|list>")
	}
	switch args[0] {
	case "populate":
		fs := flag.NewFlagSet("products populate", flag.ContinueOnError)
		file := fs.String("file", "", "load the catalog from a local export file")
		url := fs.String("url", catalog.DefaultExportURL, "export download URL")
		token := fs.String("token", os.Getenv("OPDB_API_TOKEN"), "export API token")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		svc := catalog.NewService(a.store, nil, nil, a.logger)
		var export io.ReadCloser
		if *file != "" {
			f, err := os.Open(*file)
			if err != nil {
				return fmt.Errorf("opening export file: %w", err)
			}
			export = f
		} else {
			body, err := catalog.FetchExport(ctx, *url, *token)
			if err != nil {
				return err
			}
			export = body
		}
		defer export.Close()

		count, err := svc.Populate(ctx, export)
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d products\n", count)
		return nil
	case "index":
		embedder, err := embeddings.New(a.cfg.Matcher.Embeddings, a.cfg.Extractor.OpenAI)
		if err != nil {
			return err
		}
		var upserter catalog.Upserter
		if a.cfg.Matcher.Provider == "pinecone" {
			upserter = catalog.NewPineconeUpserter(a.cfg.Matcher.Pinecone.IndexHost, a.cfg.Matcher.Pinecone.APIKey)
		}
		svc := catalog.NewService(a.store, embedder, upserter, a.logger)
		indexed, err := svc.Index(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d products\n", indexed)
		return nil
	case "list":
		fs := flag.NewFlagSet("products list", flag.ContinueOnError)
		query := fs.String("query", "", "full-text query")
		limit := fs.Int("limit", 20, "page size")
		offset := fs.Int("offset", 0, "page offset")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		products, total, err := a.store.ListProducts(ctx, store.ProductFilter{
			Query:  *query,
			Limit:  *limit,
			Offset: *offset,
		})
		if err != nil {
			return err
		}
		for _, p := range products {
			manufacturer, year := "-", "-"
			if p.Manufacturer != nil {
				manufacturer = *p.Manufacturer
			}
			if p.Year != nil {
				year = *p.Year
			}
			fmt.Printf("%-14s\t%-40s\t%-20s\t%s\n", p.OpdbID, p.Name, manufacturer, year)
		}
		fmt.Printf("%d of %d products\n", len(products), total)
		return nil
	default:
		return fmt.Errorf("unknown products subcommand: %s", args[0])
	}
}
