package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/cache"
	"github.com/maltedev/price-tracker/internal/catalog"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/events"
	"github.com/maltedev/price-tracker/internal/issues"
	"github.com/maltedev/price-tracker/internal/report"
	"github.com/maltedev/price-tracker/internal/runner"
	"github.com/maltedev/price-tracker/internal/scraper"
	"github.com/maltedev/price-tracker/internal/sites"
	"github.com/maltedev/price-tracker/pkg/logger"
)

// domainList collects --debug-domains values; each may be comma separated
// and the flag may repeat.
type domainList []string

func (d *domainList) String() string {
	return strings.Join(*d, ",")
}

func (d *domainList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*d = append(*d, part)
		}
	}
	return nil
}

type cliOptions struct {
	configPath  string
	catalogPath string
	noHTML      bool
	htmlOut     string
	autoHandle  bool
	autoRemove  bool
	run         runner.Options
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		slog.Error("scraper failed", "error", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (cliOptions, error) {
	var (
		opts         cliOptions
		debugDomains domainList
	)

	fs := flag.NewFlagSet("scraper", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", config.DefaultPath, "Path to database.conf")
	fs.StringVar(&opts.catalogPath, "catalog", "", "Sync this catalog JSON before running")
	fs.BoolVar(&opts.run.NewProductsOnly, "new-products-only", false, "Only fetch URLs without a recent price")
	fs.IntVar(&opts.run.MaxAgeHours, "max-age-hours", runner.DefaultMaxAgeHours, "Age after which a price counts as missing (with --new-products-only)")
	fs.IntVar(&opts.run.Workers, "workers", 0, "Concurrent URLs (defaults to SCRAPER_WORKERS)")
	fs.StringVar(&opts.run.Site, "site", "", "Only fetch URLs on this domain")
	fs.BoolVar(&opts.noHTML, "no-html", false, "Do not write the HTML report")
	fs.StringVar(&opts.htmlOut, "html-out", report.DefaultPath, "HTML report path")
	fs.Var(&debugDomains, "debug-domains", "Domains logged at debug level (comma separated, repeatable)")
	fs.BoolVar(&opts.autoHandle, "auto-handle", false, "Remediate critical issues after the run")
	fs.BoolVar(&opts.autoRemove, "auto-remove", false, "Let --auto-handle delete products whose URL returned 404")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	// "--debug-domains a.com b.com --workers 4": bare words after
	// --debug-domains are more domains, and any flags after them still
	// count as flags.
	for fs.NArg() > 0 {
		rest := fs.Args()
		if len(debugDomains) == 0 {
			return opts, fmt.Errorf("unexpected argument %q", rest[0])
		}

		i := 0
		for i < len(rest) && !strings.HasPrefix(rest[i], "-") {
			debugDomains.Set(rest[i])
			i++
		}
		if i == 0 {
			return opts, fmt.Errorf("unexpected argument %q", rest[0])
		}
		if err := fs.Parse(rest[i:]); err != nil {
			return opts, err
		}
	}
	opts.run.DebugDomains = debugDomains

	return opts, nil
}

func run(opts cliOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	log.Info("starting price scraper", "config", opts.configPath, "database", cfg.Database.SQLitePath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := database.New(ctx, database.Config{
		Path:   cfg.Database.SQLitePath,
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	registry := sites.Default(log)

	if opts.catalogPath != "" {
		doc, err := catalog.LoadFile(opts.catalogPath)
		if err != nil {
			return err
		}
		if _, err := catalog.NewSyncer(db, registry, log).Sync(ctx, doc); err != nil {
			return err
		}
	}

	launcher := browser.NewLauncher(log)
	defer func() {
		if err := launcher.Stop(); err != nil {
			log.Warn("failed to stop browser driver", "error", err)
		}
	}()

	pipeline := scraper.New(registry, launcher, scraper.Config{
		HTTP: scraper.HTTPConfig{
			Timeout:    cfg.Scraper.HTTPTimeout,
			UserAgents: cfg.Scraper.UserAgents,
			DelayMin:   cfg.Scraper.DelayMin,
			DelayMax:   cfg.Scraper.DelayMax,
			DomainRPS:  cfg.Scraper.DomainRPS,
		},
		Browser: scraper.BrowserConfig{
			Headless:       cfg.Browser.Headless,
			NavTimeout:     cfg.Browser.NavTimeout,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			Locale:         cfg.Browser.Locale,
			TimezoneID:     cfg.Browser.TimezoneID,
			UserAgents:     cfg.Scraper.UserAgents,
			MaxBrowsers:    cfg.Scraper.MaxBrowsers,
		},
	}, log)

	engine := cache.NewEngine(db, cache.Policy{
		SuccessTTL: cfg.Database.CacheTTL(),
		FailureTTL: cfg.Database.FailedCacheTTL(),
	}, log)
	tracker := issues.New(db, log)

	publisher, relay, closeRedis := newPublisher(ctx, db, cfg.Redis, log)
	defer closeRedis()

	r := runner.New(db, pipeline, engine, tracker, publisher, log)
	r.SetDebugLogger(logger.New("debug", cfg.Logging.Format))

	if opts.run.Workers == 0 {
		opts.run.Workers = cfg.Scraper.Workers
	}

	summary, err := r.Run(ctx, opts.run)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %d URLs, %d fetched, %d skipped, %d succeeded, %d failed, %d errored (%s)\n",
		summary.RunID, summary.Total, summary.Fetched, summary.Skipped,
		summary.Succeeded, summary.Failed, summary.Errored, summary.Duration().Round(time.Second))
	for typ, n := range summary.Issues {
		fmt.Printf("  %s: %d new issue(s)\n", typ, n)
	}

	if opts.autoHandle {
		handled, err := tracker.AutoHandle(ctx, opts.autoRemove)
		if err != nil {
			return err
		}
		fmt.Printf("Auto-handled %d issue(s)\n", handled)
	}

	if !opts.noHTML {
		if err := report.WriteFile(ctx, db, opts.htmlOut); err != nil {
			return err
		}
		log.Info("report written", "path", opts.htmlOut)
	}

	if relay != nil {
		flushCtx, flushCancel := context.WithTimeout(ctx, 30*time.Second)
		defer flushCancel()
		if err := relay.Flush(flushCtx); err != nil {
			log.Warn("events left in outbox", "error", err)
		}
	}

	return nil
}

// newPublisher stores events in the outbox when REDIS_ADDR is set. The
// relay is nil when Redis cannot be reached; the outbox then keeps the
// events for the next run or the API server's relay.
func newPublisher(ctx context.Context, db *database.DB, cfg config.RedisConfig, log *slog.Logger) (events.Publisher, *events.Relay, func()) {
	if !cfg.Enabled() {
		return events.Nop{}, nil, func() {}
	}

	publisher := events.NewOutboxPublisher(db, cfg.Stream)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, events stay in outbox", "addr", cfg.Addr, "error", err)
		client.Close()
		return publisher, nil, func() {}
	}

	log.Info("publishing events", "addr", cfg.Addr, "stream", cfg.Stream)
	stream := events.NewStreamPublisher(client, cfg.Stream, log)
	relay := events.NewRelay(db, stream, log, events.RelayConfig{})
	return publisher, relay, func() { stream.Close() }
}
