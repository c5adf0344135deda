package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/reinsurance-engine/insurance"
)

const refreshKeyPrefix = "refresh:"

// RefreshStore keeps refresh tokens with an expiry. Consume is
// single-use: the token is gone once read.
type RefreshStore interface {
	Save(ctx context.Context, token string, userID insurance.UserID, ttl time.Duration) error
	Consume(ctx context.Context, token string) (insurance.UserID, error)
	Revoke(ctx context.Context, token string) error
}

// RedisRefreshStore implements RefreshStore on Redis.
type RedisRefreshStore struct {
	client *redis.Client
}

var _ RefreshStore = (*RedisRefreshStore)(nil)

func NewRedisRefreshStore(client *redis.Client) *RedisRefreshStore {
	return &RedisRefreshStore{client: client}
}

func (s *RedisRefreshStore) Save(ctx context.Context, token string, userID insurance.UserID, ttl time.Duration) error {
	if err := s.client.Set(ctx, refreshKeyPrefix+token, string(userID), ttl).Err(); err != nil {
		return insurance.Unavailable("save refresh token", err)
	}
	return nil
}

// Consume atomically reads and deletes the token (GETDEL).
func (s *RedisRefreshStore) Consume(ctx context.Context, token string) (insurance.UserID, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	userID, err := s.client.GetDel(ctx, refreshKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", insurance.Unavailable("consume refresh token", err)
	}
	return insurance.UserID(userID), nil
}

// Revoke deletes the token. Unknown tokens are not an error.
func (s *RedisRefreshStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, refreshKeyPrefix+token).Err(); err != nil {
		return insurance.Unavailable("revoke refresh token", err)
	}
	return nil
}

// newRefreshToken returns 256 random bits, URL-safe encoded.
func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
