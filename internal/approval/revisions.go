package approval

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// YearMonthIndex is the GSI keyed on year_month for monthly export
// queries.
const YearMonthIndex = "year-month-index"

const maxCustomerMessageRunes = 1000

// Revision records one operator correction to a generated draft. The
// accumulated records double as prompt-tuning training data.
type Revision struct {
	RevisionID      string `dynamodbav:"revision_id" json:"revision_id"`
	CreatedAt       string `dynamodbav:"created_at" json:"created_at"`
	PendingID       string `dynamodbav:"pending_id" json:"pending_id"`
	CustomerMessage string `dynamodbav:"customer_message,omitempty" json:"customer_message,omitempty"`
	OriginalText    string `dynamodbav:"original_text" json:"original_text"`
	Instruction     string `dynamodbav:"instruction" json:"instruction"`
	RevisedText     string `dynamodbav:"revised_text" json:"revised_text"`
	YearMonth       string `dynamodbav:"year_month" json:"year_month"`
}

type revisionsAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// RevisionStore persists revision records to DynamoDB.
type RevisionStore struct {
	client    revisionsAPI
	tableName string
}

func NewRevisionStore(client revisionsAPI, tableName string) *RevisionStore {
	if client == nil {
		panic("approval: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("approval: table name cannot be empty")
	}
	return &RevisionStore{client: client, tableName: tableName}
}

// Record stores a revision and assigns its id.
func (s *RevisionStore) Record(ctx context.Context, rev *Revision) error {
	if rev == nil {
		return errors.New("approval: revision cannot be nil")
	}
	if rev.Instruction == "" || rev.RevisedText == "" {
		return errors.New("approval: instruction and revised text required")
	}

	now := time.Now().UTC()
	rev.RevisionID = uuid.NewString()[:12]
	rev.CreatedAt = now.Format(time.RFC3339Nano)
	rev.YearMonth = now.Format("2006-01")
	rev.CustomerMessage = truncateRunes(rev.CustomerMessage, maxCustomerMessageRunes)

	item, err := attributevalue.MarshalMap(rev)
	if err != nil {
		return fmt.Errorf("approval: failed to marshal revision: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("approval: failed to store revision: %w", err)
	}
	return nil
}

// Month lists revision records for a "2006-01" month via the GSI.
func (s *RevisionStore) Month(ctx context.Context, yearMonth string) ([]Revision, error) {
	if yearMonth == "" {
		return nil, errors.New("approval: year month required")
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(YearMonthIndex),
		KeyConditionExpression: aws.String("year_month = :ym"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ym": &types.AttributeValueMemberS{Value: yearMonth},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("approval: failed to query revisions: %w", err)
	}
	revs := make([]Revision, 0, len(out.Items))
	for _, item := range out.Items {
		var rev Revision
		if err := attributevalue.UnmarshalMap(item, &rev); err != nil {
			continue
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

// TrainingPair is one before/after example for prompt tuning.
type TrainingPair struct {
	CustomerMessage string `json:"customer_message,omitempty"`
	Before          string `json:"before"`
	Instruction     string `json:"instruction"`
	After           string `json:"after"`
}

// ExportJSON renders a month of revisions as training pairs.
func ExportJSON(revs []Revision) ([]byte, error) {
	pairs := make([]TrainingPair, 0, len(revs))
	for _, rev := range revs {
		pairs = append(pairs, TrainingPair{
			CustomerMessage: rev.CustomerMessage,
			Before:          rev.OriginalText,
			Instruction:     rev.Instruction,
			After:           rev.RevisedText,
		})
	}
	return json.MarshalIndent(pairs, "", "  ")
}

// ExportCSV renders a month of revisions as a spreadsheet.
func ExportCSV(revs []Revision) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"revision_id", "created_at", "customer_message", "before", "instruction", "after"}); err != nil {
		return nil, fmt.Errorf("approval: failed to write csv header: %w", err)
	}
	for _, rev := range revs {
		row := []string{rev.RevisionID, rev.CreatedAt, rev.CustomerMessage, rev.OriginalText, rev.Instruction, rev.RevisedText}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("approval: failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("approval: failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Statistics summarizes how operators corrected drafts in a month.
type Statistics struct {
	YearMonth     string         `json:"year_month"`
	RevisionCount int            `json:"revision_count"`
	KeywordCounts map[string]int `json:"keyword_counts"`
}

var instructionKeywords = []string{"丁寧", "簡潔", "短く", "長く", "敬語", "カジュアル", "納期", "金額", "謝罪"}

// Summarize counts revisions and recurring instruction keywords.
func Summarize(yearMonth string, revs []Revision) Statistics {
	stats := Statistics{
		YearMonth:     yearMonth,
		RevisionCount: len(revs),
		KeywordCounts: make(map[string]int),
	}
	for _, rev := range revs {
		for _, kw := range instructionKeywords {
			if strings.Contains(rev.Instruction, kw) {
				stats.KeywordCounts[kw]++
			}
		}
	}
	return stats
}
