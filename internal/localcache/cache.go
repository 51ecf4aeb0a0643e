// Package localcache keeps the last known order set on disk so the service
// can show orders while the remote service is unreachable.
package localcache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/logger"
)

//go:embed schema.sql
var schemaSQL string

// Cache is a SQLite-backed snapshot of the order set.
type Cache struct {
	db *sql.DB
}

// Open creates or opens the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect cache: %w", err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("cache pragma %q: %w", p, err)
		}
	}
	return nil
}

func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// ReadOrders returns the cached orders oldest-first. Rows that no longer
// decode are skipped.
func (c *Cache) ReadOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, payload FROM cached_orders ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("read cached orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan cached order: %w", err)
		}
		var o domain.Order
		if err := json.Unmarshal([]byte(payload), &o); err != nil || o.ID == "" {
			logger.Warn("skipping unreadable cached order", "id", id, "err", err)
			continue
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached orders: %w", err)
	}
	return out, nil
}

// WriteOrders replaces the whole snapshot in one transaction.
func (c *Cache) WriteOrders(ctx context.Context, orders []domain.Order) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_orders`); err != nil {
		return fmt.Errorf("clear cached orders: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cached_orders (id, created_at, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare cache insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range orders {
		b, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode order %s: %w", o.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, o.ID, o.CreatedAt, string(b)); err != nil {
			return fmt.Errorf("insert cached order %s: %w", o.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_meta (key, value) VALUES ('saved_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		return fmt.Errorf("stamp cache: %w", err)
	}

	return tx.Commit()
}

// SavedAt reports when the snapshot was last written. Zero if never.
func (c *Cache) SavedAt(ctx context.Context) (time.Time, error) {
	var v string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM cache_meta WHERE key = 'saved_at'`).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read cache stamp: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cache stamp %q: %w", v, err)
	}
	return time.UnixMilli(ms), nil
}
