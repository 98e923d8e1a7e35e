package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// UserMapping links a display name seen in a conversation to its user id
// so later direct pushes can resolve the person.
type UserMapping struct {
	ConversationID string `dynamodbav:"conversation_id" json:"conversation_id"`
	UserName       string `dynamodbav:"user_name" json:"user_name"`
	UserID         string `dynamodbav:"user_id" json:"user_id"`
	UpdatedAt      string `dynamodbav:"updated_at" json:"updated_at"`
}

// ErrMappingNotFound indicates no user id is known for a name.
var ErrMappingNotFound = errors.New("clients: user mapping not found")

type userMappingAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// UserMappingStore persists name-to-id mappings per conversation.
type UserMappingStore struct {
	client    userMappingAPI
	tableName string
}

func NewUserMappingStore(client userMappingAPI, tableName string) *UserMappingStore {
	if client == nil {
		panic("clients: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("clients: table name cannot be empty")
	}
	return &UserMappingStore{client: client, tableName: tableName}
}

// Save records or refreshes a mapping.
func (s *UserMappingStore) Save(ctx context.Context, conversationID, userName, userID string) error {
	if conversationID == "" || userName == "" || userID == "" {
		return errors.New("clients: conversation id, user name and user id required")
	}

	item, err := attributevalue.MarshalMap(&UserMapping{
		ConversationID: conversationID,
		UserName:       userName,
		UserID:         userID,
		UpdatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("clients: failed to marshal user mapping: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("clients: failed to save user mapping: %w", err)
	}
	return nil
}

// Resolve looks a user id up by exact name, then by partial match within
// the conversation.
func (s *UserMappingStore) Resolve(ctx context.Context, conversationID, userName string) (string, error) {
	if conversationID == "" || userName == "" {
		return "", errors.New("clients: conversation id and user name required")
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"conversation_id": &types.AttributeValueMemberS{Value: conversationID},
			"user_name":       &types.AttributeValueMemberS{Value: userName},
		},
	})
	if err != nil {
		return "", fmt.Errorf("clients: failed to fetch user mapping: %w", err)
	}
	if out.Item != nil {
		var m UserMapping
		if err := attributevalue.UnmarshalMap(out.Item, &m); err == nil && m.UserID != "" {
			return m.UserID, nil
		}
	}

	mappings, err := s.list(ctx, conversationID)
	if err != nil {
		return "", err
	}
	nameLower := strings.ToLower(userName)
	for _, m := range mappings {
		stored := strings.ToLower(m.UserName)
		if strings.Contains(stored, nameLower) || strings.Contains(nameLower, stored) {
			return m.UserID, nil
		}
	}
	return "", ErrMappingNotFound
}

func (s *UserMappingStore) list(ctx context.Context, conversationID string) ([]UserMapping, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("conversation_id = :conv"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":conv": &types.AttributeValueMemberS{Value: conversationID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clients: failed to list user mappings: %w", err)
	}
	mappings := make([]UserMapping, 0, len(out.Items))
	for _, item := range out.Items {
		var m UserMapping
		if err := attributevalue.UnmarshalMap(item, &m); err != nil {
			continue
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}
