package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

// DB wraps a gorm handle. Inside Transaction the handle is bound to the
// transaction, so repositories work unchanged on either.
type DB struct {
	gorm   *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

type Config struct {
	Path          string
	BusyTimeout   time.Duration
	SlowThreshold time.Duration
	Logger        *slog.Logger
	// Silent disables gorm's own query logging.
	Silent bool
}

func New(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.SlowThreshold == 0 {
		cfg.SlowThreshold = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	gormLog := gormLogger.New(
		slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelWarn),
		gormLogger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	if cfg.Silent {
		gormLog = gormLogger.Default.LogMode(gormLogger.Silent)
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLog,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps the
	// foreign_keys pragma in effect for every statement.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		gorm:   gdb,
		logger: cfg.Logger.With("component", "database"),
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := db.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql handle: %w", err)
	}
	return sqlDB.Close()
}

// Gorm exposes the underlying handle for ad-hoc queries.
func (db *DB) Gorm() *gorm.DB {
	return db.gorm
}

// SetClock overrides the time source used for scraped_at and detected_at.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Transaction executes fn within a database transaction. fn must only use
// the *DB it receives.
func (db *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	err := db.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&DB{gorm: tx, logger: db.logger, now: db.now})
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

func (db *DB) with(ctx context.Context) *gorm.DB {
	return db.gorm.WithContext(ctx)
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
