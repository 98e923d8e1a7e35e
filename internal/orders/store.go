package orders

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
	"github.com/google/uuid"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

// ConversationIndex is the GSI that serves recent-order lookups by
// conversation id, sorted by created_at.
const ConversationIndex = "conversation_id-created_at-index"

// ErrOrderNotFound indicates the requested order does not exist.
var ErrOrderNotFound = errors.New("orders: order not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store persists orders to DynamoDB.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewStore builds a store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("orders: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("orders: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger}
}

// Create inserts a new order. OrderID, CreatedAt and Status are assigned
// here; the populated order is returned through the pointer.
func (s *Store) Create(ctx context.Context, order *Order) error {
	if order == nil {
		return errors.New("orders: order cannot be nil")
	}
	if order.ConversationID == "" {
		return errors.New("orders: conversation id required")
	}

	order.OrderID = uuid.NewString()
	order.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	order.Status = StatusReceived

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("orders: failed to marshal order: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(order_id)"),
	})
	if err != nil {
		return fmt.Errorf("orders: failed to persist order: %w", err)
	}

	s.logger.Info("order created",
		"order_id", order.IDPrefix(),
		"conversation_id", order.ConversationID,
		"service_type", order.ServiceType,
	)
	return nil
}

// Get fetches one order by its exact composite key.
func (s *Store) Get(ctx context.Context, orderID, createdAt string) (*Order, error) {
	if orderID == "" || createdAt == "" {
		return nil, errors.New("orders: order id and created_at required")
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       orderKey(orderID, createdAt),
	})
	if err != nil {
		return nil, fmt.Errorf("orders: failed to fetch order: %w", err)
	}
	if out.Item == nil {
		return nil, ErrOrderNotFound
	}

	var order Order
	if err := attributevalue.UnmarshalMap(out.Item, &order); err != nil {
		return nil, fmt.Errorf("orders: failed to decode order: %w", err)
	}
	return &order, nil
}

// Recent returns the conversation's orders created at or after since,
// newest first.
func (s *Store) Recent(ctx context.Context, conversationID string, since time.Time) ([]Order, error) {
	if conversationID == "" {
		return nil, errors.New("orders: conversation id required")
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(ConversationIndex),
		KeyConditionExpression: aws.String("conversation_id = :conv AND created_at >= :since"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":conv":  &types.AttributeValueMemberS{Value: conversationID},
			":since": &types.AttributeValueMemberS{Value: since.UTC().Format(time.RFC3339Nano)},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("orders: failed to query recent orders: %w", err)
	}

	orders := make([]Order, 0, len(out.Items))
	for _, item := range out.Items {
		var order Order
		if err := attributevalue.UnmarshalMap(item, &order); err != nil {
			s.logger.Warn("skipping undecodable order item", "error", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// MostRecent returns the latest order in the window, or ErrOrderNotFound.
func (s *Store) MostRecent(ctx context.Context, conversationID string, since time.Time) (*Order, error) {
	recent, err := s.Recent(ctx, conversationID, since)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, ErrOrderNotFound
	}
	return &recent[0], nil
}

// FindByIDPrefix locates an order in the window whose id starts with the
// given 8-character prefix.
func (s *Store) FindByIDPrefix(ctx context.Context, conversationID, prefix string, since time.Time) (*Order, error) {
	recent, err := s.Recent(ctx, conversationID, since)
	if err != nil {
		return nil, err
	}
	for i := range recent {
		if strings.HasPrefix(recent[i].OrderID, prefix) {
			return &recent[i], nil
		}
	}
	return nil, ErrOrderNotFound
}

// UpdateDeadline overwrites the deadline of an exact order version.
func (s *Store) UpdateDeadline(ctx context.Context, orderID, createdAt, deadline string) error {
	return s.update(ctx, orderID, createdAt,
		"SET deadline = :deadline",
		map[string]types.AttributeValue{
			":deadline": &types.AttributeValueMemberS{Value: deadline},
		}, nil)
}

// SetFolder records the storage folder created for the order.
func (s *Store) SetFolder(ctx context.Context, orderID, createdAt, folderID, folderURL string) error {
	return s.update(ctx, orderID, createdAt,
		"SET folder_id = :id, folder_url = :url",
		map[string]types.AttributeValue{
			":id":  &types.AttributeValueMemberS{Value: folderID},
			":url": &types.AttributeValueMemberS{Value: folderURL},
		}, nil)
}

// SetStatus advances the order status.
func (s *Store) SetStatus(ctx context.Context, orderID, createdAt, status string) error {
	return s.update(ctx, orderID, createdAt,
		"SET #status = :status",
		map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
		},
		map[string]string{"#status": "status"})
}

// AppendNote appends one entry to the order's note list. Duplicate appends
// from re-delivered tasks are tolerated.
func (s *Store) AppendNote(ctx context.Context, orderID, createdAt, note string) error {
	noteAttr, err := attributevalue.Marshal([]string{note})
	if err != nil {
		return fmt.Errorf("orders: failed to marshal note: %w", err)
	}
	return s.update(ctx, orderID, createdAt,
		"SET notes = list_append(if_not_exists(notes, :empty), :note)",
		map[string]types.AttributeValue{
			":note":  noteAttr,
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		}, nil)
}

func (s *Store) update(ctx context.Context, orderID, createdAt, expression string, values map[string]types.AttributeValue, names map[string]string) error {
	if orderID == "" || createdAt == "" {
		return errors.New("orders: order id and created_at required")
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       orderKey(orderID, createdAt),
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(order_id)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("orders: failed to update order %s: %w", orderID, err)
	}
	return nil
}

func orderKey(orderID, createdAt string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id":   &types.AttributeValueMemberS{Value: orderID},
		"created_at": &types.AttributeValueMemberS{Value: createdAt},
	}
}
