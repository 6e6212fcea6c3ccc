package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"matchcall/internal/domain"
)

// LastSeen is a durable domain.Cache on the last_seen table.
type LastSeen struct {
	s   *Store
	now func() time.Time
}

var _ domain.Cache = (*LastSeen)(nil)

func (s *Store) LastSeen() *LastSeen { return &LastSeen{s: s, now: time.Now} }

func (c *LastSeen) Get(ctx context.Context, key string) (string, bool, error) {
	if c.s == nil || c.s.db == nil {
		return "", false, ErrClosed
	}
	var (
		v       string
		expires int64
	)
	err := c.s.db.QueryRowContext(ctx, `SELECT match_id, expires FROM last_seen WHERE cache_key = ?`, key).Scan(&v, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expires > 0 && c.now().UnixMilli() >= expires {
		return "", false, nil
	}
	return v, true, nil
}

func (c *LastSeen) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.s == nil || c.s.db == nil {
		return ErrClosed
	}
	var expires int64
	if ttl > 0 {
		expires = c.now().Add(ttl).UnixMilli()
	}
	_, err := c.s.db.ExecContext(ctx,
		`INSERT INTO last_seen(cache_key, match_id, expires) VALUES(?,?,?)
		 ON CONFLICT(cache_key) DO UPDATE SET match_id=excluded.match_id, expires=excluded.expires`,
		key, value, expires,
	)
	if err == nil && c.s.opCount.Add(1)%c.s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = c.prune(pctx)
		cancel()
	}
	return err
}

func (c *LastSeen) prune(ctx context.Context) error {
	_, err := c.s.db.ExecContext(ctx, `DELETE FROM last_seen WHERE expires > 0 AND expires < ?`, c.now().UnixMilli())
	return err
}
