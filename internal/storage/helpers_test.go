package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"matchcall/internal/domain"
)

// Fixture writers. The service only reads these tables; registration
// lives outside it.

// putBinding inserts or reactivates a binding.
func (s *Store) putBinding(ctx context.Context, b domain.Binding) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if strings.TrimSpace(b.Identity) == "" || strings.TrimSpace(b.PUUID) == "" {
		return errors.New("binding identity and puuid are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bindings(identity, puuid, region, destination_hint, active, created_at)
		 VALUES(?,?,?,?,1,?)
		 ON CONFLICT(identity, puuid) DO UPDATE SET
		   region=excluded.region, destination_hint=excluded.destination_hint, active=1`,
		b.Identity, b.PUUID, b.Region, nullStr(b.DestinationHint), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// deactivateBinding stops polling a binding without deleting it.
func (s *Store) deactivateBinding(ctx context.Context, identity, puuid string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `UPDATE bindings SET active = 0 WHERE identity = ? AND puuid = ?`, identity, puuid)
	return err
}

// putDestination associates a destination key with an identity. Lower
// positions are tried first.
func (s *Store) putDestination(ctx context.Context, identity, key string, position int) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations(identity, dest_key, position, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(identity, dest_key) DO UPDATE SET position=excluded.position`,
		identity, key, position, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) removeDestination(ctx context.Context, identity, key string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM destinations WHERE identity = ? AND dest_key = ?`, identity, key)
	return err
}

func (s *Store) putRecord(ctx context.Context, rec domain.AnalysisRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_analysis(match_id, puuid, summary, score, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(match_id) DO UPDATE SET puuid=excluded.puuid, summary=excluded.summary, score=excluded.score`,
		rec.MatchID, rec.PUUID, rec.Summary, rec.Score, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
