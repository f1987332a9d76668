// Package redisstore implements replaycache.Store against Redis, for
// callers who want replay cache entries shared across processes instead of
// a single JSON file. It stores the whole fingerprint->message mapping
// under one hash key, mirroring the file store's all-at-once Load/Save
// shape rather than one Redis key per fingerprint.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store persists replay cache entries in a single Redis hash.
type Store struct {
	Client *redis.Client
	Key    string
}

// New constructs a Redis-backed Store using the given client and hash key.
func New(client *redis.Client, key string) *Store {
	return &Store{Client: client, Key: key}
}

// Load reads every field of the hash at Key. A missing key is treated as an
// empty cache.
func (s *Store) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	fields, err := s.Client.HGetAll(ctx, s.Key).Result()
	if err != nil {
		if err == redis.Nil {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("redisstore: HGETALL %s: %w", s.Key, err)
	}
	entries := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		entries[k] = json.RawMessage(v)
	}
	return entries, nil
}

// Save replaces the hash at Key with entries.
func (s *Store) Save(ctx context.Context, entries map[string]json.RawMessage) error {
	pipe := s.Client.TxPipeline()
	pipe.Del(ctx, s.Key)
	if len(entries) > 0 {
		fields := make(map[string]any, len(entries))
		for k, v := range entries {
			fields[k] = string(v)
		}
		pipe.HSet(ctx, s.Key, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: save %s: %w", s.Key, err)
	}
	return nil
}
