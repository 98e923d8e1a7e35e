package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

// Approval draft statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusReopened = "reopened"
)

// ErrDraftNotFound indicates no actionable draft exists for an id.
var ErrDraftNotFound = errors.New("approval: draft not found")

const (
	maxOriginalRunes = 500
	maxPreviewRunes  = 200
)

// Draft is a generated reply awaiting human review.
type Draft struct {
	PendingID       string `dynamodbav:"pending_id" json:"pending_id"`
	CreatedAt       string `dynamodbav:"created_at" json:"created_at"`
	TargetID        string `dynamodbav:"target_id" json:"target_id"`
	TargetIsGroup   bool   `dynamodbav:"target_is_group" json:"target_is_group"`
	ResponseText    string `dynamodbav:"response_text" json:"response_text"`
	OriginalMessage string `dynamodbav:"original_message" json:"original_message"`
	CustomerName    string `dynamodbav:"customer_name,omitempty" json:"customer_name,omitempty"`
	CompanyName     string `dynamodbav:"company_name,omitempty" json:"company_name,omitempty"`
	MentionUserID   string `dynamodbav:"mention_user_id,omitempty" json:"mention_user_id,omitempty"`
	MentionName     string `dynamodbav:"mention_name,omitempty" json:"mention_name,omitempty"`
	OrderID         string `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"`
	OrderCreatedAt  string `dynamodbav:"order_created_at,omitempty" json:"order_created_at,omitempty"`
	Deadline        string `dynamodbav:"deadline,omitempty" json:"deadline,omitempty"`
	FolderURL       string `dynamodbav:"folder_url,omitempty" json:"folder_url,omitempty"`
	Status          string `dynamodbav:"status" json:"status"`
	ExpiresAt       int64  `dynamodbav:"expires_at" json:"-"`
}

// Actionable reports whether this draft can still be sent or edited.
func (d *Draft) Actionable() bool {
	return d.Status == StatusPending || d.Status == StatusReopened
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DraftStore persists pending drafts to DynamoDB.
type DraftStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	logger    *logging.Logger
}

func NewDraftStore(client dynamoAPI, tableName string, ttl time.Duration, logger *logging.Logger) *DraftStore {
	if client == nil {
		panic("approval: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("approval: table name cannot be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DraftStore{client: client, tableName: tableName, ttl: ttl, logger: logger}
}

// Create stores a new pending draft and assigns its short id.
func (s *DraftStore) Create(ctx context.Context, draft *Draft) error {
	if draft == nil {
		return errors.New("approval: draft cannot be nil")
	}
	if draft.TargetID == "" || draft.ResponseText == "" {
		return errors.New("approval: target id and response text required")
	}

	now := time.Now().UTC()
	draft.PendingID = uuid.NewString()[:8]
	draft.CreatedAt = now.Format(time.RFC3339Nano)
	draft.Status = StatusPending
	draft.ExpiresAt = now.Add(s.ttl).Unix()
	draft.OriginalMessage = truncateRunes(draft.OriginalMessage, maxOriginalRunes)

	item, err := attributevalue.MarshalMap(draft)
	if err != nil {
		return fmt.Errorf("approval: failed to marshal draft: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pending_id)"),
	}); err != nil {
		return fmt.Errorf("approval: failed to store draft: %w", err)
	}

	s.logger.Info("draft created", "pending_id", draft.PendingID, "target_id", draft.TargetID)
	return nil
}

// Get fetches a draft by short id with a partition-key query, no scan.
// Expired drafts are treated as absent.
func (s *DraftStore) Get(ctx context.Context, pendingID string) (*Draft, error) {
	if pendingID == "" {
		return nil, errors.New("approval: pending id required")
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pending_id = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: pendingID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("approval: failed to fetch draft: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrDraftNotFound
	}

	var draft Draft
	if err := attributevalue.UnmarshalMap(out.Items[0], &draft); err != nil {
		return nil, fmt.Errorf("approval: failed to decode draft: %w", err)
	}
	if draft.ExpiresAt > 0 && time.Now().Unix() > draft.ExpiresAt {
		return nil, ErrDraftNotFound
	}
	return &draft, nil
}

// GetActionable fetches a draft that can still be acted on.
func (s *DraftStore) GetActionable(ctx context.Context, pendingID string) (*Draft, error) {
	draft, err := s.Get(ctx, pendingID)
	if err != nil {
		return nil, err
	}
	if !draft.Actionable() {
		return nil, ErrDraftNotFound
	}
	return draft, nil
}

// Transition moves a draft between statuses with a guard on the current
// status so concurrent operators cannot double-act.
func (s *DraftStore) Transition(ctx context.Context, draft *Draft, from []string, to string) error {
	if draft == nil {
		return errors.New("approval: draft cannot be nil")
	}
	if len(from) == 0 {
		return errors.New("approval: transition requires source statuses")
	}

	names := map[string]string{"#s": "status"}
	values := map[string]types.AttributeValue{
		":to": &types.AttributeValueMemberS{Value: to},
	}
	cond := "attribute_exists(pending_id) AND #s IN ("
	for i, st := range from {
		key := fmt.Sprintf(":from%d", i)
		values[key] = &types.AttributeValueMemberS{Value: st}
		if i > 0 {
			cond += ", "
		}
		cond += key
	}
	cond += ")"

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pending_id": &types.AttributeValueMemberS{Value: draft.PendingID},
			"created_at": &types.AttributeValueMemberS{Value: draft.CreatedAt},
		},
		UpdateExpression:          aws.String("SET #s = :to"),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrDraftNotFound
		}
		return fmt.Errorf("approval: failed to transition draft: %w", err)
	}
	draft.Status = to
	return nil
}

// UpdateResponseText replaces the draft body while it is still pending.
func (s *DraftStore) UpdateResponseText(ctx context.Context, draft *Draft, text string) error {
	if draft == nil {
		return errors.New("approval: draft cannot be nil")
	}
	if text == "" {
		return errors.New("approval: response text required")
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pending_id": &types.AttributeValueMemberS{Value: draft.PendingID},
			"created_at": &types.AttributeValueMemberS{Value: draft.CreatedAt},
		},
		UpdateExpression:    aws.String("SET response_text = :text"),
		ConditionExpression: aws.String("attribute_exists(pending_id) AND #s IN (:pending, :reopened)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":text":     &types.AttributeValueMemberS{Value: text},
			":pending":  &types.AttributeValueMemberS{Value: StatusPending},
			":reopened": &types.AttributeValueMemberS{Value: StatusReopened},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrDraftNotFound
		}
		return fmt.Errorf("approval: failed to update draft text: %w", err)
	}
	draft.ResponseText = text
	return nil
}

// SetMentionSubject records who to @-mention when an approved group
// draft is sent.
func (s *DraftStore) SetMentionSubject(ctx context.Context, draft *Draft, userID, userName string) error {
	if draft == nil {
		return errors.New("approval: draft cannot be nil")
	}
	if userID == "" || userName == "" {
		return errors.New("approval: mention subject requires user id and name")
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pending_id": &types.AttributeValueMemberS{Value: draft.PendingID},
			"created_at": &types.AttributeValueMemberS{Value: draft.CreatedAt},
		},
		UpdateExpression:    aws.String("SET mention_user_id = :uid, mention_name = :name"),
		ConditionExpression: aws.String("attribute_exists(pending_id) AND #s IN (:pending, :reopened)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":      &types.AttributeValueMemberS{Value: userID},
			":name":     &types.AttributeValueMemberS{Value: userName},
			":pending":  &types.AttributeValueMemberS{Value: StatusPending},
			":reopened": &types.AttributeValueMemberS{Value: StatusReopened},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrDraftNotFound
		}
		return fmt.Errorf("approval: failed to set mention subject: %w", err)
	}
	draft.MentionUserID = userID
	draft.MentionName = userName
	return nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
