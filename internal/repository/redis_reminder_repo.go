package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/moonwave/sms/internal/model"
)

// defaultRedisKeyPrefix はリマインダー記録のキー接頭辞。
const defaultRedisKeyPrefix = "moonwave:reminder:"

// RedisReminderRepo はRedisを使用したリマインダー記録ストア。
// SETNXで条件付き挿入を行い、記録はTTL経過後に自動で失効する。
// キーが参照されるのは発火日（請求日の最大7日前）から請求日までの間と、
// 過去日付を指定した手動実行のときだけなので、TTLは最長の窓（7日）に
// 手動再実行の猶予を加えた長さで足りる。既定の90日は十分に長い。
type RedisReminderRepo struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisReminderRepo はRedisReminderRepoを生成する。
// ttlが0の場合、記録は失効しない。
func NewRedisReminderRepo(client redis.UniversalClient, ttl time.Duration) *RedisReminderRepo {
	return &RedisReminderRepo{
		client: client,
		prefix: defaultRedisKeyPrefix,
		ttl:    ttl,
	}
}

// NewRedisClient はredis://形式のURLからクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗しました: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisに接続できません: %w", err)
	}
	return client, nil
}

func (r *RedisReminderRepo) redisKey(key model.ReminderKey) string {
	return r.prefix + key.String()
}

// Exists は指定キーの記録が存在するかを返す。
func (r *RedisReminderRepo) Exists(ctx context.Context, key model.ReminderKey) (bool, error) {
	n, err := r.client.Exists(ctx, r.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("リマインダー記録の存在確認に失敗しました: %w", err)
	}
	return n > 0, nil
}

// InsertIfAbsent はSETNXで記録を挿入する。キーが既に存在する場合はfalseを返す。
func (r *RedisReminderRepo) InsertIfAbsent(ctx context.Context, record *model.ReminderRecord) (bool, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("リマインダー記録のエンコードに失敗しました: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.redisKey(record.ReminderKey), payload, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("リマインダー記録の挿入に失敗しました: %w", err)
	}
	return ok, nil
}

// compile-time interface check
var _ ReminderRecordStore = (*RedisReminderRepo)(nil)
