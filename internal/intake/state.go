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
	awaitingReplyKeyPrefix = "awaiting_reply:"
	lastContactKeyPrefix   = "last_contact:"
	registrationKeyPrefix  = "pending_registration:"

	lastContactTTL  = 48 * time.Hour
	registrationTTL = 24 * time.Hour
)

// GreetingText is prepended once per day to the first outbound reply of a
// conversation.
const GreetingText = "いつもお世話になっております！\n合同会社四次元のAIです。"

// AwaitingReply records the assistant's last reply to a conversation, used
// to decide whether an untagged group message is addressed to it.
type AwaitingReply struct {
	ReplyText string    `json:"reply_text"`
	SentAt    time.Time `json:"sent_at"`
}

// PendingRegistration marks a conversation that has been asked for its
// organization name.
type PendingRegistration struct {
	SuggestedName string    `json:"suggested_name,omitempty"`
	AskedAt       time.Time `json:"asked_at"`
}

// StateStore keeps the short-lived conversation state: the awaiting-reply
// window, the last-contact date for greetings, and the registration
// dialogue flag.
type StateStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	awaitingTTL time.Duration
}

func NewStateStore(redisClient *redis.Client, awaitingTTL time.Duration) *StateStore {
	if redisClient == nil {
		return nil
	}
	if awaitingTTL <= 0 {
		awaitingTTL = 10 * time.Minute
	}
	return &StateStore{
		redis:       redisClient,
		tracer:      otel.Tracer("aisecretary.internal.intake.state"),
		awaitingTTL: awaitingTTL,
	}
}

// MarkAwaitingReply records that the assistant just replied to the
// conversation, opening the awaiting-reply window.
func (s *StateStore) MarkAwaitingReply(ctx context.Context, conversationID, replyText string) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if conversationID == "" {
		return errors.New("intake: state conversationID required")
	}

	data, err := json.Marshal(AwaitingReply{ReplyText: replyText, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("intake: marshal awaiting reply: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "intake.state.mark_awaiting")
	defer span.End()

	if err := s.redis.Set(ctx, awaitingReplyKeyPrefix+conversationID, data, s.awaitingTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: mark awaiting reply: %w", err)
	}
	return nil
}

// AwaitingReply returns the open awaiting-reply record, if any.
func (s *StateStore) AwaitingReply(ctx context.Context, conversationID string) (*AwaitingReply, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}

	ctx, span := s.tracer.Start(ctx, "intake.state.awaiting")
	defer span.End()

	raw, err := s.redis.Get(ctx, awaitingReplyKeyPrefix+conversationID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("intake: get awaiting reply: %w", err)
	}

	var entry AwaitingReply
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("intake: unmarshal awaiting reply: %w", err)
	}
	return &entry, nil
}

// ShouldGreet reports whether this is the first contact today (JST) for
// the conversation, and records today as the last contact date.
func (s *StateStore) ShouldGreet(ctx context.Context, conversationID string, now time.Time) (bool, error) {
	if s == nil || s.redis == nil {
		return false, nil
	}

	ctx, span := s.tracer.Start(ctx, "intake.state.should_greet")
	defer span.End()

	today := now.In(jst).Format("2006-01-02")
	key := lastContactKeyPrefix + conversationID

	last, err := s.redis.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		return false, fmt.Errorf("intake: get last contact: %w", err)
	}

	if err := s.redis.Set(ctx, key, today, lastContactTTL).Err(); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("intake: set last contact: %w", err)
	}
	return last != today, nil
}

// SetPendingRegistration flags a conversation as mid registration dialogue.
func (s *StateStore) SetPendingRegistration(ctx context.Context, conversationID string, reg PendingRegistration) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if reg.AskedAt.IsZero() {
		reg.AskedAt = time.Now().UTC()
	}

	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("intake: marshal pending registration: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "intake.state.set_registration")
	defer span.End()

	if err := s.redis.Set(ctx, registrationKeyPrefix+conversationID, data, registrationTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: set pending registration: %w", err)
	}
	return nil
}

// PendingRegistration returns the open registration dialogue state, if any.
func (s *StateStore) PendingRegistration(ctx context.Context, conversationID string) (*PendingRegistration, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}

	ctx, span := s.tracer.Start(ctx, "intake.state.get_registration")
	defer span.End()

	raw, err := s.redis.Get(ctx, registrationKeyPrefix+conversationID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("intake: get pending registration: %w", err)
	}

	var reg PendingRegistration
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		return nil, fmt.Errorf("intake: unmarshal pending registration: %w", err)
	}
	return &reg, nil
}

// ClearPendingRegistration ends the registration dialogue.
func (s *StateStore) ClearPendingRegistration(ctx context.Context, conversationID string) error {
	if s == nil || s.redis == nil {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "intake.state.clear_registration")
	defer span.End()

	if err := s.redis.Del(ctx, registrationKeyPrefix+conversationID).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: clear pending registration: %w", err)
	}
	return nil
}
