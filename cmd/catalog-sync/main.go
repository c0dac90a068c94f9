package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/maltedev/price-tracker/internal/catalog"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/sites"
	"github.com/maltedev/price-tracker/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath, "Path to database.conf")
		file       = flag.String("file", "products.json", "Catalog JSON file")
		dryRun     = flag.Bool("dry-run", false, "Validate the catalog without writing")
	)
	flag.Parse()

	if err := run(*configPath, *file, *dryRun); err != nil {
		var verrs catalog.ValidationErrors
		if errors.As(err, &verrs) {
			fmt.Fprintf(os.Stderr, "%s is invalid:\n", *file)
			for _, e := range verrs {
				fmt.Fprintf(os.Stderr, "  - %s\n", e.Error())
			}
			os.Exit(2)
		}
		slog.Error("catalog sync failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, file string, dryRun bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	doc, err := catalog.LoadFile(file)
	if err != nil {
		return err
	}

	if dryRun {
		fmt.Printf("%s is valid: %d products, %d URLs\n", file, len(doc.Products), doc.URLCount())
		return nil
	}

	ctx := context.Background()
	db, err := database.New(ctx, database.Config{
		Path:   cfg.Database.SQLitePath,
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := catalog.NewSyncer(db, sites.Default(log), log).Sync(ctx, doc)
	if err != nil {
		return err
	}

	fmt.Printf("Synced %s: %d new products, %d new URLs, %d categories updated\n",
		file, result.NewProducts, result.NewURLs, result.UpdatedCategories)
	return nil
}
