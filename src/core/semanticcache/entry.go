package semanticcache

import (
	"time"

	"agentrag/src/core/provenance"
)

// DefaultNamespace scopes entries produced by the reasoning loop.
const DefaultNamespace = "react_agent"

// Entry is a previously computed answer keyed by the embedding of its question.
type Entry struct {
	ID        int64
	Namespace string
	Question  string
	// Embedding is always unit length.
	Embedding []float32
	Answer    string
	Trace     []provenance.Invocation
	Sources   []provenance.Source
	HitCount  int
	CreatedAt time.Time
	LastHitAt time.Time
	// ExpiresAt is zero when the entry never expires.
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// lastUsed is the recency used by eviction: the last hit, or creation for never-hit entries.
func (e *Entry) lastUsed() time.Time {
	if e.HitCount > 0 && e.LastHitAt.After(e.CreatedAt) {
		return e.LastHitAt
	}
	return e.CreatedAt
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Embedding = append([]float32(nil), e.Embedding...)
	c.Trace = append([]provenance.Invocation(nil), e.Trace...)
	c.Sources = append([]provenance.Source(nil), e.Sources...)
	return &c
}

// Query identifies a question for cache purposes.
type Query struct {
	Question string
	// PriorTurn is the immediately preceding user turn, used only when the
	// cache is configured with contextual keys.
	PriorTurn string
	Namespace string
}

// Stats summarises cache activity since start or the last Clear.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	HitRate       float64 `json:"hitRate"`
	ActiveEntries int     `json:"activeEntries"`
	Threshold     float64 `json:"similarityThreshold"`
	Mode          string  `json:"mode"`
}
