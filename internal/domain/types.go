package domain

import "time"

// Binding links a notification-receiving identity to a backing game account.
// It is owned by an external store and read-only to the pipeline.
type Binding struct {
	Identity string
	PUUID    string
	Region   string
	// DestinationHint pins delivery to one destination key when non-empty.
	DestinationHint string
}

// CacheKey is the last-seen cache key for the binding.
func (b Binding) CacheKey() string { return b.Identity + ":" + b.PUUID }

// MatchCompletedEvent is emitted once per newly observed match.
type MatchCompletedEvent struct {
	Identity        string
	PUUID           string
	MatchID         string
	Region          string
	DestinationHint string
	DetectedAt      time.Time
}

// AnalysisRecord is a precomputed, purely informative summary of a match.
type AnalysisRecord struct {
	MatchID   string
	PUUID     string
	Summary   string
	Score     float64
	CreatedAt time.Time
}
