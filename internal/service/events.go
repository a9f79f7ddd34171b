package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"dicegame/internal/logger"
	"dicegame/internal/storage"
)

// DefaultSettlementStream is the Redis stream settlements are appended to
const DefaultSettlementStream = "dice.settlements"

// RedisPublisher appends every settlement to a Redis stream
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher creates a publisher. maxLen trims the stream
// approximately; 0 keeps everything.
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	if stream == "" {
		stream = DefaultSettlementStream
	}
	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// OnSettlement publishes s
func (p *RedisPublisher) OnSettlement(ctx context.Context, s *storage.Settlement) error {
	values, err := settlementValues(s)
	if err != nil {
		return err
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("error publishing to stream %s: %w", p.stream, err)
	}

	logger.Debug(s.Player.String(), "settlement_published", fmt.Sprintf("stream=%s id=%s bet=%s", p.stream, id, s.BetAddress))
	return nil
}

func settlementValues(s *storage.Settlement) (map[string]interface{}, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling settlement: %w", err)
	}
	return map[string]interface{}{
		"data":        string(data),
		"bet_address": s.BetAddress.String(),
		"player":      s.Player.String(),
		"kind":        string(s.Kind),
	}, nil
}
