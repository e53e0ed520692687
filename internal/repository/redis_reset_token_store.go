package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const resetTokenKeyPrefix = "reset_token:"

// RedisResetTokenStore はRedisを使用したパスワード再設定トークンストア。
// 有効期限はRedisのTTLに任せる。
type RedisResetTokenStore struct {
	client redis.Cmdable
}

// NewRedisResetTokenStore はRedisResetTokenStoreを生成する。
func NewRedisResetTokenStore(client redis.Cmdable) *RedisResetTokenStore {
	return &RedisResetTokenStore{client: client}
}

// Save はトークンとユーザーIDの対応をTTL付きで保存する。
func (s *RedisResetTokenStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, resetTokenKey(token), userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save reset token: %w", err)
	}
	return nil
}

// Consume はGETDELでトークンを取り出して削除する。
// 同じトークンで同時に確定しても、ユーザーIDを受け取れるのは1件だけになる。
func (s *RedisResetTokenStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, resetTokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume reset token: %w", err)
	}
	return userID, nil
}

func resetTokenKey(token string) string {
	return resetTokenKeyPrefix + token
}

// compile-time interface check
var _ ResetTokenStore = (*RedisResetTokenStore)(nil)
