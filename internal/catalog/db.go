package catalog

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options configure Open.
type Options struct {
	Driver string
	DSN    string

	// Debug logs every statement.
	Debug bool
	// LogWriter receives gorm's log output. Defaults to stdout.
	LogWriter io.Writer

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// sqlitePragmas are applied to sqlite DSNs without query parameters so
// concurrent writers wait instead of failing with "database is locked".
const sqlitePragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Open connects to the catalog database and checks the connection.
func Open(ctx context.Context, opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch strings.ToLower(opts.Driver) {
	case DriverSQLite, "":
		dsn := strings.TrimPrefix(opts.DSN, "sqlite://")
		if dsn == "" {
			return nil, fmt.Errorf("catalog: sqlite path is empty")
		}
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("catalog: create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += sqlitePragmas
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres, "postgresql":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("catalog: unsupported driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  newLogger(opts.LogWriter, opts.Debug),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("catalog: get database instance: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}

	slog.Debug("catalog database connected", "driver", opts.Driver)
	return db, nil
}

// slowQuery is the threshold above which gorm logs a statement as slow.
const slowQuery = 200 * time.Millisecond

// newLogger builds gorm's logger. Lookups that miss are an expected outcome
// (the repository maps them to ErrNotFound) and are not logged.
func newLogger(w io.Writer, debug bool) logger.Interface {
	if w == nil {
		w = os.Stdout
	}
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return logger.New(log.New(w, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             slowQuery,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Migrate creates or updates the catalog tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
