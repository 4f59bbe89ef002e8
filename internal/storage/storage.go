package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"newswire/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// DB wraps the shared SQLite handle.
type DB struct {
	sql *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	d := &DB{sql: db, log: log}
	if err := d.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	log.Debug("storage opened", logx.String("path", cfg.Path))
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, string(b))
	return err
}

// SQL exposes the underlying handle to the per-domain stores.
func (d *DB) SQL() *sql.DB { return d.sql }

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}
