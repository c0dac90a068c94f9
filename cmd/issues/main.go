package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/issues"
	"github.com/maltedev/price-tracker/pkg/logger"
)

const usage = `usage: issues [--config path] <command>

commands:
  summary                      list unresolved issues grouped by type (default)
  auto-handle [--auto-remove]  remediate critical issues
  resolve <id>                 mark an issue resolved
  reactivate <id>              re-enable the URL of an issue and resolve it
`

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to database.conf")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := run(*configPath, flag.Args()); err != nil {
		slog.Error("issues command failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx := context.Background()
	db, err := database.New(ctx, database.Config{
		Path:   cfg.Database.SQLitePath,
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	tracker := issues.New(db, log)

	cmd := "summary"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "summary":
		return printSummary(ctx, tracker)

	case "auto-handle":
		fs := flag.NewFlagSet("auto-handle", flag.ContinueOnError)
		autoRemove := fs.Bool("auto-remove", false, "Delete products whose URL returned 404")
		if err := fs.Parse(args); err != nil {
			return err
		}
		handled, err := tracker.AutoHandle(ctx, *autoRemove)
		if err != nil {
			return err
		}
		fmt.Printf("Auto-handled %d issue(s)\n", handled)
		return nil

	case "resolve", "reactivate":
		if len(args) != 1 {
			return fmt.Errorf("%s needs exactly one issue id", cmd)
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid issue id %q", args[0])
		}
		if cmd == "resolve" {
			err = tracker.Resolve(ctx, id)
		} else {
			err = tracker.Reactivate(ctx, id)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Issue %d: %s done\n", id, cmd)
		return nil
	}

	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func printSummary(ctx context.Context, tracker *issues.Tracker) error {
	s, err := tracker.Summary(ctx)
	if err != nil {
		return err
	}
	if s.Total == 0 {
		fmt.Println("No unresolved issues")
		return nil
	}

	fmt.Printf("%d unresolved issue(s), %d critical\n", s.Total, s.Critical)
	for _, g := range s.Groups {
		marker := ""
		if g.Critical {
			marker = " [critical]"
		}
		fmt.Printf("\n%s (%d)%s -> %s\n", g.Type, g.Count, marker, g.Action)
		for _, issue := range g.Issues {
			fmt.Printf("  #%d %s %s (%s)\n", issue.ID, issue.ProductName, issue.URL, issue.DetectedAt.Format("2006-01-02 15:04"))
		}
	}
	return nil
}
