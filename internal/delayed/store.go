// Package delayed holds back trigger replies for a short window so a
// retracted message cancels its own response.
package delayed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Delivery statuses.
const (
	StatusPending   = "pending"
	StatusCancelled = "cancelled"
	StatusSent      = "sent"
)

// ErrNotPending indicates the record is absent or already resolved.
var ErrNotPending = errors.New("delayed: message is not pending")

const recordTTL = 24 * time.Hour

// Record is one scheduled outbound message, keyed by the platform
// message id that triggered it.
type Record struct {
	MessageID string `dynamodbav:"message_id" json:"message_id"`
	TargetID  string `dynamodbav:"target_id" json:"target_id"`
	Text      string `dynamodbav:"text" json:"text"`
	Status    string `dynamodbav:"status" json:"status"`
	CreatedAt string `dynamodbav:"created_at" json:"created_at"`
	ExpiresAt int64  `dynamodbav:"expires_at" json:"-"`
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Store persists delayed-send records to DynamoDB.
type Store struct {
	client    dynamoAPI
	tableName string
}

func NewStore(client dynamoAPI, tableName string) *Store {
	if client == nil {
		panic("delayed: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("delayed: table name cannot be empty")
	}
	return &Store{client: client, tableName: tableName}
}

// Create stores a new pending record.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	if rec == nil || rec.MessageID == "" || rec.TargetID == "" {
		return errors.New("delayed: message id and target id required")
	}
	now := time.Now().UTC()
	rec.Status = StatusPending
	rec.CreatedAt = now.Format(time.RFC3339Nano)
	rec.ExpiresAt = now.Add(recordTTL).Unix()

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("delayed: failed to marshal record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("delayed: failed to store record: %w", err)
	}
	return nil
}

// Get fetches a record by message id.
func (s *Store) Get(ctx context.Context, messageID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"message_id": &types.AttributeValueMemberS{Value: messageID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("delayed: failed to fetch record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotPending
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("delayed: failed to decode record: %w", err)
	}
	return &rec, nil
}

// Cancel flips a pending record to cancelled.
func (s *Store) Cancel(ctx context.Context, messageID string) error {
	return s.transition(ctx, messageID, StatusCancelled)
}

// ClaimForSend flips a pending record to sent and returns it. The
// conditional update makes delivery fire at most once.
func (s *Store) ClaimForSend(ctx context.Context, messageID string) (*Record, error) {
	rec, err := s.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, ErrNotPending
	}
	if err := s.transition(ctx, messageID, StatusSent); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) transition(ctx context.Context, messageID, to string) error {
	if messageID == "" {
		return errors.New("delayed: message id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"message_id": &types.AttributeValueMemberS{Value: messageID},
		},
		UpdateExpression:         aws.String("SET #s = :to"),
		ConditionExpression:      aws.String("attribute_exists(message_id) AND #s = :pending"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":to":      &types.AttributeValueMemberS{Value: to},
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrNotPending
		}
		return fmt.Errorf("delayed: failed to update record: %w", err)
	}
	return nil
}
