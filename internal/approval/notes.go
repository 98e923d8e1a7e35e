package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Note is an operator memo injected into the drafting prompt.
type Note struct {
	NoteType  string `dynamodbav:"note_type" json:"note_type"`
	CreatedAt string `dynamodbav:"created_at" json:"created_at"`
	Content   string `dynamodbav:"content" json:"content"`
	Active    bool   `dynamodbav:"active" json:"active"`
}

// ErrNoteNotFound indicates the requested memo index does not exist.
var ErrNoteNotFound = errors.New("approval: note not found")

const noteTypeOperator = "operator"

type notesAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// NoteStore keeps operator memos in DynamoDB, soft-deleting on removal
// so past drafts stay explainable.
type NoteStore struct {
	client    notesAPI
	tableName string
}

func NewNoteStore(client notesAPI, tableName string) *NoteStore {
	if client == nil {
		panic("approval: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("approval: table name cannot be empty")
	}
	return &NoteStore{client: client, tableName: tableName}
}

// Add records a new active memo.
func (s *NoteStore) Add(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("approval: note content required")
	}

	item, err := attributevalue.MarshalMap(&Note{
		NoteType:  noteTypeOperator,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Content:   content,
		Active:    true,
	})
	if err != nil {
		return fmt.Errorf("approval: failed to marshal note: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("approval: failed to store note: %w", err)
	}
	return nil
}

// Active lists the active memos oldest first, so list numbering is
// stable across additions.
func (s *NoteStore) Active(ctx context.Context) ([]Note, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("note_type = :t"),
		FilterExpression:       aws.String("active = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":      &types.AttributeValueMemberS{Value: noteTypeOperator},
			":active": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("approval: failed to list notes: %w", err)
	}

	notes := make([]Note, 0, len(out.Items))
	for _, item := range out.Items {
		var n Note
		if err := attributevalue.UnmarshalMap(item, &n); err != nil {
			continue
		}
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt < notes[j].CreatedAt })
	return notes, nil
}

// Delete soft-deletes the memo at the given 1-based list position.
func (s *NoteStore) Delete(ctx context.Context, index int) (Note, error) {
	notes, err := s.Active(ctx)
	if err != nil {
		return Note{}, err
	}
	if index < 1 || index > len(notes) {
		return Note{}, ErrNoteNotFound
	}
	note := notes[index-1]

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"note_type":  &types.AttributeValueMemberS{Value: note.NoteType},
			"created_at": &types.AttributeValueMemberS{Value: note.CreatedAt},
		},
		UpdateExpression: aws.String("SET active = :inactive"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inactive": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		return Note{}, fmt.Errorf("approval: failed to delete note: %w", err)
	}
	return note, nil
}

// FormatList renders the numbered memo list for the review channel.
func FormatList(notes []Note) string {
	if len(notes) == 0 {
		return "メモはありません。"
	}
	var b strings.Builder
	b.WriteString("📝 現在のメモ一覧:\n")
	for i, n := range notes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, n.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Contents extracts the memo bodies for prompt injection.
func Contents(notes []Note) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Content)
	}
	return out
}
