// Package redisstore persists semantic cache entries in Redis: one hash per
// entry plus a set of live ids.
package redisstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"agentrag/src/core/provenance"
	"agentrag/src/core/semanticcache"
)

const (
	entryPrefix = "semcache:entry:" // entry hash key prefix
	idsKey      = "semcache:ids"    // set of entry ids
)

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewClient connects to addr and checks the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", addr, err)
	}
	return client, nil
}

func entryKey(id int64) string {
	return entryPrefix + strconv.FormatInt(id, 10)
}

func (s *Store) Insert(ctx context.Context, e *semanticcache.Entry) error {
	trace, err := json.Marshal(e.Trace)
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	sources, err := json.Marshal(e.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	key := entryKey(e.ID)
	fields := map[string]interface{}{
		"id":         e.ID,
		"namespace":  e.Namespace,
		"question":   e.Question,
		"embedding":  encodeVector(e.Embedding),
		"answer":     e.Answer,
		"trace":      string(trace),
		"sources":    string(sources),
		"hit_count":  e.HitCount,
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
	}
	if !e.ExpiresAt.IsZero() {
		fields["expires_at"] = e.ExpiresAt.Format(time.RFC3339Nano)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.SAdd(ctx, idsKey, e.ID)
		if !e.ExpiresAt.IsZero() {
			pipe.ExpireAt(ctx, key, e.ExpiresAt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

// Scan loads every entry. Ids whose hash has expired are dropped from the id set.
func (s *Store) Scan(ctx context.Context) ([]*semanticcache.Entry, error) {
	ids, err := s.client.SMembers(ctx, idsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entry ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, entryPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}

	var (
		out   []*semanticcache.Entry
		stale []interface{}
	)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		e, err := fromHash(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", ids[i], err)
		}
		out = append(out, e)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, idsKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to drop expired ids: %w", err)
		}
	}
	return out, nil
}

func (s *Store) RecordHit(ctx context.Context, id int64, hitCount int, at time.Time) error {
	key := entryKey(id)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}
	if n == 0 {
		return nil
	}
	err = s.client.HSet(ctx, key, "hit_count", hitCount, "last_hit_at", at.Format(time.RFC3339Nano)).Err()
	if err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(id)
		members[i] = id
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, idsKey, members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, idsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return int(n), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func fromHash(fields map[string]string) (*semanticcache.Entry, error) {
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	hitCount, _ := strconv.Atoi(fields["hit_count"])

	e := &semanticcache.Entry{
		ID:        id,
		Namespace: fields["namespace"],
		Question:  fields["question"],
		Embedding: decodeVector([]byte(fields["embedding"])),
		Answer:    fields["answer"],
		HitCount:  hitCount,
		CreatedAt: createdAt,
	}
	if v := fields["last_hit_at"]; v != "" {
		if e.LastHitAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("failed to parse last_hit_at: %w", err)
		}
	}
	if v := fields["expires_at"]; v != "" {
		if e.ExpiresAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
	}
	if v := fields["trace"]; v != "" {
		var trace []provenance.Invocation
		if err := json.Unmarshal([]byte(v), &trace); err != nil {
			return nil, fmt.Errorf("failed to parse trace: %w", err)
		}
		e.Trace = trace
	}
	if v := fields["sources"]; v != "" {
		var sources []provenance.Source
		if err := json.Unmarshal([]byte(v), &sources); err != nil {
			return nil, fmt.Errorf("failed to parse sources: %w", err)
		}
		e.Sources = sources
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
