// Package redis provides a [store.SessionStore] backed by Redis.
//
// Every session is a single JSON string value under
// "{prefix}:session:{id}". A TTL may be configured so abandoned sessions
// expire; each save refreshes it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/talespin/pkg/store"
)

var _ store.SessionStore = (*Store)(nil)

const defaultPrefix = "talespin"

// Config configures a [Store].
type Config struct {
	// Prefix namespaces all keys. Defaults to "talespin".
	Prefix string

	// TTL expires sessions not saved for this long. Zero keeps them forever.
	TTL time.Duration
}

// Store is a Redis backed [store.SessionStore]. It is safe for concurrent
// use.
type Store struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New returns a Store using client. Works with single-node, cluster and
// sentinel clients.
func New(client goredis.UniversalClient, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis: client must not be nil")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("redis: ttl must not be negative, got %s", cfg.TTL)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Dial connects to the Redis server at addr and returns a Store using it.
func Dial(ctx context.Context, addr, password string, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return New(client, cfg)
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":session:" + sessionID
}

// Save implements [store.SessionStore].
func (s *Store) Save(ctx context.Context, snap store.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.SessionID, err)
	}
	if err := s.client.Set(ctx, s.key(snap.SessionID), doc, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load implements [store.SessionStore].
func (s *Store) Load(ctx context.Context, sessionID string) (*store.Snapshot, error) {
	doc, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load %s: %w", sessionID, err)
	}
	var snap store.Snapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return nil, fmt.Errorf("redis: decode snapshot %s: %w", sessionID, err)
	}
	return &snap, nil
}

// Delete implements [store.SessionStore].
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: delete %s: %w", sessionID, err)
	}
	return nil
}

// Ping implements [store.SessionStore].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
