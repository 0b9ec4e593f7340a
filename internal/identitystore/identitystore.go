// Package identitystore persists the signed-in identity between runs, the
// way a browser keeps it in local storage.
package identitystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AdityaBheke/BusyBuy/internal/domain"
)

type record struct {
	UserID  string    `json:"userId"`
	SavedAt time.Time `json:"savedAt"`
}

// FileStore keeps the identity in a small JSON file.
type FileStore struct {
	path string
}

// NewFileStore stores the identity at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes to a temp file and renames it, so a crash never leaves a
// half-written file.
func (s *FileStore) Save(_ context.Context, id domain.Identity) error {
	data, err := json.Marshal(record{UserID: id.ID, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace identity: %w", err)
	}
	return nil
}

func (s *FileStore) Load(context.Context) (domain.Identity, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.Identity{}, false, nil
	}
	if err != nil {
		return domain.Identity{}, false, fmt.Errorf("read identity: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Identity{}, false, fmt.Errorf("decode identity: %w", err)
	}
	if rec.UserID == "" {
		return domain.Identity{}, false, nil
	}
	return domain.Identity{ID: rec.UserID}, true, nil
}

// Clear removes the file. A missing file is not an error.
func (s *FileStore) Clear(context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove identity: %w", err)
	}
	return nil
}

const redisKeyPrefix = "session:"

// RedisStore keeps the identity under session:{device}, with an optional TTL.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore scopes the stored identity to deviceID.
func NewRedisStore(client *redis.Client, deviceID string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, key: redisKeyPrefix + deviceID, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, id domain.Identity) error {
	data, err := json.Marshal(record{UserID: id.ID, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (domain.Identity, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Identity{}, false, nil
		}
		return domain.Identity{}, false, fmt.Errorf("redis get session: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Identity{}, false, fmt.Errorf("decode identity: %w", err)
	}
	if rec.UserID == "" {
		return domain.Identity{}, false, nil
	}
	return domain.Identity{ID: rec.UserID}, true, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}
