package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"matchcall/internal/domain"
	logx "matchcall/pkg/logx"
)

//go:embed schema.sql
var schema string

// Store implements domain.BindingStore, domain.DestinationResolver and
// domain.AnalysisStore on one SQLite database.
type Store struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

var (
	_ domain.BindingStore        = (*Store)(nil)
	_ domain.DestinationResolver = (*Store)(nil)
	_ domain.AnalysisStore       = (*Store)(nil)
)

func Open(cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
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
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log, pruneEvery: 500}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage migrate: %w", err)
	}
	return st, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// ---- bindings ----

func (s *Store) ListBindings(ctx context.Context) ([]domain.Binding, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, puuid, region, COALESCE(destination_hint, '')
		 FROM bindings WHERE active = 1 ORDER BY created_at, identity, puuid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Binding
	for rows.Next() {
		var b domain.Binding
		if err := rows.Scan(&b.Identity, &b.PUUID, &b.Region, &b.DestinationHint); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---- destinations ----

func (s *Store) Resolve(ctx context.Context, identity string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT dest_key FROM destinations WHERE identity = ? ORDER BY position, rowid`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ---- analysis ----

func (s *Store) GetRecord(ctx context.Context, matchID string) (domain.AnalysisRecord, bool, error) {
	if s == nil || s.db == nil {
		return domain.AnalysisRecord{}, false, ErrClosed
	}
	var (
		rec     domain.AnalysisRecord
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT match_id, puuid, summary, score, created_at FROM match_analysis WHERE match_id = ?`, matchID,
	).Scan(&rec.MatchID, &rec.PUUID, &rec.Summary, &rec.Score, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnalysisRecord{}, false, nil
	}
	if err != nil {
		return domain.AnalysisRecord{}, false, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, true, nil
}
