package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "Evolve-Chain/internal/errors"
)

// RedisConfig 描述 Redis 发布通道。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink 通过 PUBLISH 将事件以 JSON 广播到频道。
type RedisSink struct {
	client  redisPublisher
	closer  func() error
	channel string
}

// NewRedisSink 连接 Redis 并校验连通性。
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	sink := newRedisSink(client, cfg.Channel)
	sink.closer = client.Close
	return sink, nil
}

func newRedisSink(client redisPublisher, channel string) *RedisSink {
	if channel == "" {
		channel = "evolve:events"
	}
	return &RedisSink{client: client, channel: channel}
}

// Name 实现 Sink。
func (s *RedisSink) Name() string { return "redis" }

// Publish 实现 Sink。
func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
