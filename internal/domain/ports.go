package domain

import (
	"context"
	"time"
)

// BindingStore lists the currently active bindings.
type BindingStore interface {
	ListBindings(ctx context.Context) ([]Binding, error)
}

// MatchSource returns the most recent match ids for an account, newest first.
type MatchSource interface {
	RecentMatchIDs(ctx context.Context, puuid, region string, count int) ([]string, error)
}

// Cache stores the last-seen match id per identity/account pair.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// DestinationResolver returns every destination key currently associated
// with an identity, in discovery order. An empty result is not an error.
type DestinationResolver interface {
	Resolve(ctx context.Context, identity string) ([]string, error)
}

// PlayRequest is one playback call against the external player.
// Exactly one of Audio or URL is set.
type PlayRequest struct {
	Destination string
	Audio       []byte
	URL         string
	Volume      float64
	Normalize   bool
	MaxDuration time.Duration
}

// Player plays audio on a destination. It reports false (or an error) on failure.
type Player interface {
	Play(ctx context.Context, req PlayRequest) (bool, error)
}

// AnalysisStore returns a precomputed analysis record, if one exists.
type AnalysisStore interface {
	GetRecord(ctx context.Context, matchID string) (AnalysisRecord, bool, error)
}
