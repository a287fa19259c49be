package cachectrl

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"agentrag/src/core/provenance"
	"agentrag/src/core/semanticcache"
)

// CacheEntry is the persisted row of a semantic cache entry. The embedding
// is stored as little-endian float32 bytes.
type CacheEntry struct {
	ID        int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Namespace string     `gorm:"not null;index" json:"namespace"`
	Question  string     `gorm:"not null;type:text" json:"question"`
	Embedding []byte     `gorm:"not null" json:"-"`
	Answer    string     `gorm:"not null;type:text" json:"answer"`
	Trace     string     `gorm:"type:text" json:"trace"`
	Sources   string     `gorm:"type:text" json:"sources"`
	HitCount  int        `gorm:"not null;default:0" json:"hit_count"`
	CreatedAt time.Time  `gorm:"autoCreateTime:false" json:"created_at"`
	LastHitAt *time.Time `json:"last_hit_at"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`
}

func (CacheEntry) TableName() string {
	return "semantic_cache_entries"
}

// Store persists semantic cache entries with gorm. It works on postgres and sqlite.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the table and returns the store.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache entries: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Insert(ctx context.Context, entry *semanticcache.Entry) error {
	row, err := toRow(entry)
	if err != nil {
		return err
	}
	if result := s.db.WithContext(ctx).Create(row); result.Error != nil {
		return fmt.Errorf("failed to insert cache entry: %w", result.Error)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context) ([]*semanticcache.Entry, error) {
	var rows []CacheEntry
	if result := s.db.WithContext(ctx).Order("id").Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("failed to scan cache entries: %w", result.Error)
	}
	out := make([]*semanticcache.Entry, 0, len(rows))
	for i := range rows {
		e, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) RecordHit(ctx context.Context, id int64, hitCount int, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&CacheEntry{}).Where("id = ?", id).Updates(map[string]interface{}{
		"hit_count":   hitCount,
		"last_hit_at": at,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to record cache hit: %w", result.Error)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&CacheEntry{}); result.Error != nil {
		return fmt.Errorf("failed to delete cache entries: %w", result.Error)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if result := s.db.WithContext(ctx).Model(&CacheEntry{}).Count(&n); result.Error != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", result.Error)
	}
	return int(n), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(e *semanticcache.Entry) (*CacheEntry, error) {
	trace, err := json.Marshal(e.Trace)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trace: %w", err)
	}
	sources, err := json.Marshal(e.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sources: %w", err)
	}
	row := &CacheEntry{
		ID:        e.ID,
		Namespace: e.Namespace,
		Question:  e.Question,
		Embedding: encodeVector(e.Embedding),
		Answer:    e.Answer,
		Trace:     string(trace),
		Sources:   string(sources),
		HitCount:  e.HitCount,
		CreatedAt: e.CreatedAt,
	}
	if !e.LastHitAt.IsZero() {
		t := e.LastHitAt
		row.LastHitAt = &t
	}
	if !e.ExpiresAt.IsZero() {
		t := e.ExpiresAt
		row.ExpiresAt = &t
	}
	return row, nil
}

func fromRow(r *CacheEntry) (*semanticcache.Entry, error) {
	e := &semanticcache.Entry{
		ID:        r.ID,
		Namespace: r.Namespace,
		Question:  r.Question,
		Embedding: decodeVector(r.Embedding),
		Answer:    r.Answer,
		HitCount:  r.HitCount,
		CreatedAt: r.CreatedAt,
	}
	if r.Trace != "" {
		var trace []provenance.Invocation
		if err := json.Unmarshal([]byte(r.Trace), &trace); err != nil {
			return nil, fmt.Errorf("failed to decode trace of entry %d: %w", r.ID, err)
		}
		e.Trace = trace
	}
	if r.Sources != "" {
		var sources []provenance.Source
		if err := json.Unmarshal([]byte(r.Sources), &sources); err != nil {
			return nil, fmt.Errorf("failed to decode sources of entry %d: %w", r.ID, err)
		}
		e.Sources = sources
	}
	if r.LastHitAt != nil {
		e.LastHitAt = *r.LastHitAt
	}
	if r.ExpiresAt != nil {
		e.ExpiresAt = *r.ExpiresAt
	}
	return e, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
