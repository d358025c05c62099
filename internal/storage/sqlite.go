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

	logx "remindbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteSet struct {
	view
	db *sql.DB
}

type sqliteCounter struct {
	view
	db *sql.DB
}

func openSQLite(cfg Config, log logx.Logger) (Stores, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return Stores{}, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Stores{}, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Stores{}, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// FULL keeps every committed mutation across power loss.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if err := migrateSQLite(context.Background(), db); err != nil {
		_ = db.Close()
		return Stores{}, err
	}
	log.Debug("sqlite storage ready", logx.String("path", path))

	h := newSharedHandle(2, db.Close)
	return Stores{
		Subscribers: &sqliteSet{view: view{h: h}, db: db},
		Repeats:     &sqliteCounter{view: view{h: h}, db: db},
	}, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteSet) Add(ctx context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !validID(id) {
		return ErrInvalidID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, added_at) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteSet) Remove(ctx context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, id)
	return err
}

func (s *sqliteSet) Members(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM subscribers ORDER BY added_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (c *sqliteCounter) Put(ctx context.Context, id string, n int) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !validID(id) {
		return ErrInvalidID
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO repeat_prefs(id, count, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET count=excluded.count, updated_at=excluded.updated_at`,
		id, n, time.Now().UnixMilli(),
	)
	return err
}

func (c *sqliteCounter) Get(ctx context.Context, id string) (int, bool, error) {
	if c.isClosed() {
		return 0, false, ErrClosed
	}
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT count FROM repeat_prefs WHERE id = ?`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
