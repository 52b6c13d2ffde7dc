package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS caches (
  name TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
  cache_name TEXT NOT NULL,
  req_key TEXT NOT NULL,
  status INTEGER NOT NULL,
  header TEXT NOT NULL,
  body BLOB,
  stored_at INTEGER NOT NULL,
  PRIMARY KEY (cache_name, req_key)
);`

// NewSQLiteStorage 打开（必要时创建）path 处的 SQLite 数据库作为缓存存储。
func NewSQLiteStorage(path string) (Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &sqliteStorage{db: db}, nil
}

type sqliteStorage struct {
	db *sql.DB
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Cache, error) {
	if name == "" {
		return nil, errors.New("cache name required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &sqliteCache{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM caches WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache_name = ?`, name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

type sqliteCache struct {
	db   *sql.DB
	name string
}

func (c *sqliteCache) Name() string { return c.name }

func (c *sqliteCache) Match(ctx context.Context, req Request) (*Response, error) {
	var (
		status   int
		header   string
		body     []byte
		storedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM entries WHERE cache_name = ? AND req_key = ?`,
		c.name, req.Key()).Scan(&status, &header, &body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	if err := json.Unmarshal([]byte(header), &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return &Response{
		Status:   status,
		Header:   h,
		Body:     body,
		StoredAt: time.Unix(0, storedAt).UTC(),
	}, nil
}

func (c *sqliteCache) Put(ctx context.Context, req Request, resp *Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (cache_name, req_key, status, header, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.name, req.Key(), resp.Status, string(header), resp.Body, resp.StoredAt.UnixNano())
	return err
}

func (c *sqliteCache) Delete(ctx context.Context, req Request) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM entries WHERE cache_name = ? AND req_key = ?`, c.name, req.Key())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]Request, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT req_key FROM entries WHERE cache_name = ? ORDER BY req_key`, c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Request
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		req, err := parseRequestKey(key)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}
