package delayed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

// SQS caps per-message delay at 15 minutes.
const maxDelay = 900 * time.Second

type delayQueue interface {
	SendDelayed(ctx context.Context, body string, delay time.Duration) error
}

type pushSender interface {
	Push(ctx context.Context, to string, texts ...string) error
}

// SQSDelayQueue schedules delivery messages with SQS DelaySeconds.
type SQSDelayQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSDelayQueue(client *sqs.Client, queueURL string) *SQSDelayQueue {
	if client == nil {
		panic("delayed: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("delayed: SQS queueURL cannot be empty")
	}
	return &SQSDelayQueue{client: client, queueURL: queueURL}
}

func (q *SQSDelayQueue) SendDelayed(ctx context.Context, body string, delay time.Duration) error {
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(body),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("delayed: failed to send SQS message: %w", err)
	}
	return nil
}

type deliveryPayload struct {
	MessageID string `json:"message_id"`
}

// Service queues, cancels and delivers delayed replies.
type Service struct {
	store  *Store
	queue  delayQueue
	sender pushSender
	logger *logging.Logger
}

func NewService(store *Store, queue delayQueue, sender pushSender, logger *logging.Logger) *Service {
	if store == nil {
		panic("delayed: store cannot be nil")
	}
	if sender == nil {
		panic("delayed: push sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, queue: queue, sender: sender, logger: logger}
}

// Queue persists the pending reply and schedules its delivery.
func (s *Service) Queue(ctx context.Context, messageID, targetID, text string, delay time.Duration) error {
	if err := s.store.Create(ctx, &Record{
		MessageID: messageID,
		TargetID:  targetID,
		Text:      text,
	}); err != nil {
		return err
	}
	if s.queue == nil {
		return errors.New("delayed: delay queue not configured")
	}

	body, err := json.Marshal(deliveryPayload{MessageID: messageID})
	if err != nil {
		return fmt.Errorf("delayed: failed to encode payload: %w", err)
	}
	if err := s.queue.SendDelayed(ctx, string(body), delay); err != nil {
		return err
	}

	s.logger.Info("reply delayed", "message_id", messageID, "delay", delay)
	return nil
}

// Cancel retracts a scheduled reply after the triggering message was
// unsent. Already-resolved records are a no-op.
func (s *Service) Cancel(ctx context.Context, messageID string) error {
	err := s.store.Cancel(ctx, messageID)
	if errors.Is(err, ErrNotPending) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("delayed reply cancelled", "message_id", messageID)
	return nil
}

// Deliver fires a scheduled reply. The status re-check makes it a
// no-op when the record was cancelled or already sent.
func (s *Service) Deliver(ctx context.Context, messageID string) error {
	rec, err := s.store.ClaimForSend(ctx, messageID)
	if errors.Is(err, ErrNotPending) {
		s.logger.Info("delayed reply skipped", "message_id", messageID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.sender.Push(ctx, rec.TargetID, rec.Text); err != nil {
		return fmt.Errorf("delayed: failed to deliver reply: %w", err)
	}
	s.logger.Info("delayed reply delivered", "message_id", messageID, "target_id", rec.TargetID)
	return nil
}

// HandleQueueMessage decodes a delivery payload and delivers it.
func (s *Service) HandleQueueMessage(ctx context.Context, body string) error {
	var payload deliveryPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return fmt.Errorf("delayed: failed to decode payload: %w", err)
	}
	if payload.MessageID == "" {
		return errors.New("delayed: payload missing message id")
	}
	return s.Deliver(ctx, payload.MessageID)
}
