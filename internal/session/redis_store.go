// Package session provides Redis-backed storage for refresh tokens.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"slate/api/internal/store"
)

// memberData is what we keep per refresh token so a refresh does not
// need a database round trip.
type memberData struct {
	MemberID  string    `json:"member_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore holds refresh sessions in Redis, keyed by token hash. Expiry
// is delegated to Redis TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "refresh:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveRefreshSession stores the member identity under the hashed refresh
// token until expiresAt.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, member store.Member, expiresAt time.Time) error {
	data := memberData{
		MemberID:  member.ID,
		Name:      member.Name,
		Role:      member.Role,
		CreatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the member a refresh token was issued to.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.Member, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return store.Member{}, fmt.Errorf("refresh token not found or expired")
	}
	if err != nil {
		return store.Member{}, fmt.Errorf("lookup refresh session: %w", err)
	}

	var data memberData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return store.Member{}, fmt.Errorf("unmarshal session data: %w", err)
	}

	if data.Role == "" {
		data.Role = "viewer"
	}

	return store.Member{
		ID:   data.MemberID,
		Name: data.Name,
		Role: data.Role,
	}, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
