package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	bufferKeyPrefix = "unprocessed:"
	bufferTTL       = time.Hour
)

// BufferedMessage is one parked group message awaiting a trigger.
type BufferedMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// BufferStore parks group messages that lack a trigger keyword until one
// arrives. Entries auto-expire; losing them only delays processing.
type BufferStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewBufferStore(redisClient *redis.Client) *BufferStore {
	if redisClient == nil {
		return nil
	}
	return &BufferStore{
		redis:  redisClient,
		tracer: otel.Tracer("aisecretary.internal.intake.buffer"),
	}
}

// Append parks a message at the tail of the conversation's buffer.
func (s *BufferStore) Append(ctx context.Context, conversationID string, msg BufferedMessage) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if conversationID == "" {
		return errors.New("intake: buffer conversationID required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("intake: marshal buffered message: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "intake.buffer.append")
	defer span.End()

	key := bufferKey(conversationID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, bufferTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: append buffered message: %w", err)
	}
	return nil
}

// Drain returns all parked messages in arrival order and deletes the
// buffer in the same transaction, so each entry is replayed exactly once.
func (s *BufferStore) Drain(ctx context.Context, conversationID string) ([]BufferedMessage, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if conversationID == "" {
		return nil, errors.New("intake: buffer conversationID required")
	}

	ctx, span := s.tracer.Start(ctx, "intake.buffer.drain")
	defer span.End()

	key := bufferKey(conversationID)
	pipe := s.redis.TxPipeline()
	listCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		span.RecordError(err)
		return nil, fmt.Errorf("intake: drain buffer: %w", err)
	}

	raw := listCmd.Val()
	out := make([]BufferedMessage, 0, len(raw))
	for _, item := range raw {
		var msg BufferedMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func bufferKey(conversationID string) string {
	return bufferKeyPrefix + conversationID
}
