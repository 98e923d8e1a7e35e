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
	"github.com/yojigen/ai-secretary/pkg/logging"
)

// ErrClientNotFound indicates no client is registered for a conversation.
var ErrClientNotFound = errors.New("clients: client not found")

// UnregisteredCompanyName is shown when a conversation has no registered
// organization.
const UnregisteredCompanyName = "未登録クライアント"

// Contact is a person at a client organization.
type Contact struct {
	Name  string `dynamodbav:"name" json:"name"`
	Email string `dynamodbav:"email" json:"email"`
}

// Client binds a conversation to an organization and its Drive folder.
type Client struct {
	ConversationID string    `dynamodbav:"conversation_id" json:"conversation_id"`
	CompanyName    string    `dynamodbav:"company_name" json:"company_name"`
	Contacts       []Contact `dynamodbav:"contacts,omitempty" json:"contacts,omitempty"`
	DriveFolderID  string    `dynamodbav:"drive_folder_id,omitempty" json:"drive_folder_id,omitempty"`
	Notes          string    `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
	Status         string    `dynamodbav:"status" json:"status"`
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store persists the client registry to DynamoDB.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("clients: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("clients: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger}
}

// ConversationKey derives the registry key: group conversations use the
// group id, individual chats are prefixed so they share the same table.
func ConversationKey(groupID, userID string) string {
	if groupID != "" {
		return groupID
	}
	return "user_" + userID
}

// Get fetches the client registered for a conversation.
func (s *Store) Get(ctx context.Context, conversationID string) (*Client, error) {
	if conversationID == "" {
		return nil, errors.New("clients: conversation id required")
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"conversation_id": &types.AttributeValueMemberS{Value: conversationID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clients: failed to fetch client: %w", err)
	}
	if out.Item == nil {
		return nil, ErrClientNotFound
	}

	var c Client
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("clients: failed to decode client: %w", err)
	}
	return &c, nil
}

// CompanyName returns the registered organization name, or the
// unregistered placeholder.
func (s *Store) CompanyName(ctx context.Context, conversationID string) string {
	c, err := s.Get(ctx, conversationID)
	if err != nil {
		return UnregisteredCompanyName
	}
	return c.CompanyName
}

// Register creates or overwrites a client binding.
func (s *Store) Register(ctx context.Context, c *Client) error {
	if c == nil || c.ConversationID == "" || c.CompanyName == "" {
		return errors.New("clients: conversation id and company name required")
	}
	c.Status = "active"

	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("clients: failed to marshal client: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("clients: failed to register client: %w", err)
	}

	s.logger.Info("client registered", "company", c.CompanyName, "conversation_id", c.ConversationID)
	return nil
}

// Delete removes a client binding (registration cancellation).
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("clients: conversation id required")
	}
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"conversation_id": &types.AttributeValueMemberS{Value: conversationID},
		},
	}); err != nil {
		return fmt.Errorf("clients: failed to delete client: %w", err)
	}
	return nil
}

// SetDriveFolder records the company folder once it has been created.
func (s *Store) SetDriveFolder(ctx context.Context, conversationID, folderID string) error {
	if conversationID == "" {
		return errors.New("clients: conversation id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"conversation_id": &types.AttributeValueMemberS{Value: conversationID},
		},
		UpdateExpression: aws.String("SET drive_folder_id = :folder"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":folder": &types.AttributeValueMemberS{Value: folderID},
		},
	})
	if err != nil {
		return fmt.Errorf("clients: failed to set drive folder: %w", err)
	}
	return nil
}

// AllCompanyNames lists every active registered organization name.
func (s *Store) AllCompanyNames(ctx context.Context) ([]string, error) {
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("attribute_exists(company_name) AND #s = :active"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: "active"},
		},
		ProjectionExpression: aws.String("company_name"),
	})
	if err != nil {
		return nil, fmt.Errorf("clients: failed to list company names: %w", err)
	}

	seen := make(map[string]struct{}, len(out.Items))
	names := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		var row struct {
			CompanyName string `dynamodbav:"company_name"`
		}
		if err := attributevalue.UnmarshalMap(item, &row); err != nil || row.CompanyName == "" {
			continue
		}
		if _, dup := seen[row.CompanyName]; dup {
			continue
		}
		seen[row.CompanyName] = struct{}{}
		names = append(names, row.CompanyName)
	}
	return names, nil
}

// FindSimilarCompany matches input against registered names by substring
// in either direction. Returns "" when nothing matches.
func (s *Store) FindSimilarCompany(ctx context.Context, input string) (string, error) {
	names, err := s.AllCompanyNames(ctx)
	if err != nil {
		return "", err
	}

	inputLower := strings.ToLower(input)
	for _, name := range names {
		nameLower := strings.ToLower(name)
		if strings.Contains(nameLower, inputLower) || strings.Contains(inputLower, nameLower) {
			return name, nil
		}
	}
	return "", nil
}

// Registration is the short-lived record created whenever an operator
// registers or overwrites an organization binding, so the action can be
// cancelled by id.
type Registration struct {
	RegistrationID string `dynamodbav:"registration_id" json:"registration_id"`
	ConversationID string `dynamodbav:"conversation_id" json:"conversation_id"`
	CompanyName    string `dynamodbav:"company_name" json:"company_name"`
	Status         string `dynamodbav:"status" json:"status"` // active, cancelled
	CreatedAt      string `dynamodbav:"created_at" json:"created_at"`
	ExpiresAt      int64  `dynamodbav:"expires_at" json:"-"`
}

// ErrRegistrationNotFound indicates the registration record is unknown.
var ErrRegistrationNotFound = errors.New("clients: registration not found")

const registrationTTL = 7 * 24 * time.Hour

// RegistrationStore tracks recent registration actions by short id.
type RegistrationStore struct {
	client    dynamoAPI
	tableName string
}

func NewRegistrationStore(client dynamoAPI, tableName string) *RegistrationStore {
	if client == nil {
		panic("clients: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("clients: table name cannot be empty")
	}
	return &RegistrationStore{client: client, tableName: tableName}
}

// Record stores a registration action under the given short id.
func (s *RegistrationStore) Record(ctx context.Context, reg *Registration) error {
	if reg == nil || reg.RegistrationID == "" {
		return errors.New("clients: registration id required")
	}
	now := time.Now().UTC()
	reg.Status = "active"
	reg.CreatedAt = now.Format(time.RFC3339Nano)
	reg.ExpiresAt = now.Add(registrationTTL).Unix()

	item, err := attributevalue.MarshalMap(reg)
	if err != nil {
		return fmt.Errorf("clients: failed to marshal registration: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("clients: failed to record registration: %w", err)
	}
	return nil
}

// Get fetches a registration record by id.
func (s *RegistrationStore) Get(ctx context.Context, registrationID string) (*Registration, error) {
	if registrationID == "" {
		return nil, errors.New("clients: registration id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"registration_id": &types.AttributeValueMemberS{Value: registrationID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clients: failed to fetch registration: %w", err)
	}
	if out.Item == nil {
		return nil, ErrRegistrationNotFound
	}
	var reg Registration
	if err := attributevalue.UnmarshalMap(out.Item, &reg); err != nil {
		return nil, fmt.Errorf("clients: failed to decode registration: %w", err)
	}
	return &reg, nil
}

// MarkCancelled flips a registration record to cancelled.
func (s *RegistrationStore) MarkCancelled(ctx context.Context, registrationID string) error {
	if registrationID == "" {
		return errors.New("clients: registration id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"registration_id": &types.AttributeValueMemberS{Value: registrationID},
		},
		UpdateExpression:         aws.String("SET #s = :cancelled"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cancelled": &types.AttributeValueMemberS{Value: "cancelled"},
		},
		ConditionExpression: aws.String("attribute_exists(registration_id)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrRegistrationNotFound
		}
		return fmt.Errorf("clients: failed to cancel registration: %w", err)
	}
	return nil
}
