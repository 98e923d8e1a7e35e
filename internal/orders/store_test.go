package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	updateInputs []*dynamodb.UpdateItemInput
	getInput     *dynamodb.GetItemInput
	queryInput   *dynamodb.QueryInput

	getOutput   *dynamodb.GetItemOutput
	queryOutput *dynamodb.QueryOutput
	updateErr   error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, in)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getInput = in
	if m.getOutput != nil {
		return m.getOutput, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queryInput = in
	if m.queryOutput != nil {
		return m.queryOutput, nil
	}
	return &dynamodb.QueryOutput{}, nil
}

func mustMarshalOrder(t *testing.T, o Order) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		t.Fatal(err)
	}
	return item
}

func TestCreateAssignsIdentity(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "ai_secretary_orders", logging.Default())

	order := &Order{
		ConversationID: "G1",
		CustomerID:     "U1",
		CustomerName:   "田中",
		Message:        "レタッチお願いします",
		ServiceType:    "retouch",
	}
	if err := store.Create(context.Background(), order); err != nil {
		t.Fatal(err)
	}

	if order.OrderID == "" || order.CreatedAt == "" {
		t.Fatal("expected identity to be assigned")
	}
	if order.Status != StatusReceived {
		t.Errorf("status = %s, want %s", order.Status, StatusReceived)
	}
	if len(order.IDPrefix()) != 8 {
		t.Errorf("id prefix = %q", order.IDPrefix())
	}

	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(order_id)" {
		t.Fatalf("expected overwrite guard, got %v", expr)
	}

	var stored Order
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.Message != "レタッチお願いします" {
		t.Errorf("stored message = %s", stored.Message)
	}
}

func TestCreateRequiresConversation(t *testing.T) {
	store := NewStore(&mockDynamo{}, "orders", logging.Default())
	if err := store.Create(context.Background(), &Order{}); err == nil {
		t.Fatal("expected error without conversation id")
	}
}

func TestGetNotFound(t *testing.T) {
	store := NewStore(&mockDynamo{}, "orders", logging.Default())
	_, err := store.Get(context.Background(), "abc", "2025-06-10T00:00:00Z")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestRecentQueriesConversationIndex(t *testing.T) {
	mock := &mockDynamo{
		queryOutput: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{}},
	}
	store := NewStore(mock, "orders", logging.Default())

	since := time.Date(2025, time.June, 10, 9, 30, 0, 0, time.UTC)
	if _, err := store.Recent(context.Background(), "G1", since); err != nil {
		t.Fatal(err)
	}

	if idx := mock.queryInput.IndexName; idx == nil || *idx != ConversationIndex {
		t.Fatalf("expected query against %s, got %v", ConversationIndex, idx)
	}
	if fwd := mock.queryInput.ScanIndexForward; fwd == nil || *fwd {
		t.Error("expected newest-first ordering")
	}
}

func TestMostRecentPicksLatest(t *testing.T) {
	first := Order{OrderID: "aaaa111122223333", CreatedAt: "2025-06-10T09:50:00Z", ConversationID: "G1"}
	second := Order{OrderID: "bbbb111122223333", CreatedAt: "2025-06-10T09:40:00Z", ConversationID: "G1"}
	mock := &mockDynamo{
		queryOutput: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
			mustMarshalOrder(t, first), mustMarshalOrder(t, second),
		}},
	}
	store := NewStore(mock, "orders", logging.Default())

	got, err := store.MostRecent(context.Background(), "G1", time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got.OrderID != "aaaa111122223333" {
		t.Errorf("most recent = %s", got.OrderID)
	}
}

func TestFindByIDPrefix(t *testing.T) {
	target := Order{OrderID: "dd67008b4455aabb", CreatedAt: "2025-06-10T09:00:00Z", ConversationID: "G1"}
	mock := &mockDynamo{
		queryOutput: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
			mustMarshalOrder(t, target),
		}},
	}
	store := NewStore(mock, "orders", logging.Default())

	got, err := store.FindByIDPrefix(context.Background(), "G1", "dd67008b", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if got.OrderID != target.OrderID {
		t.Errorf("found %s", got.OrderID)
	}

	if _, err := store.FindByIDPrefix(context.Background(), "G1", "ffffffff", time.Now().Add(-24*time.Hour)); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestUpdateDeadlineTargetsExactVersion(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "orders", logging.Default())

	if err := store.UpdateDeadline(context.Background(), "dd67008b4455", "2025-06-10T09:00:00Z", "2025-12-05 17:00"); err != nil {
		t.Fatal(err)
	}

	update := mock.updateInputs[0]
	key := update.Key
	if key["order_id"].(*types.AttributeValueMemberS).Value != "dd67008b4455" {
		t.Error("order_id key missing")
	}
	if key["created_at"].(*types.AttributeValueMemberS).Value != "2025-06-10T09:00:00Z" {
		t.Error("created_at key missing")
	}
	if expr := update.ConditionExpression; expr == nil || *expr != "attribute_exists(order_id)" {
		t.Errorf("expected existence guard, got %v", expr)
	}
}

func TestAppendNoteUsesListAppend(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "orders", logging.Default())

	if err := store.AppendNote(context.Background(), "id", "2025-06-10T09:00:00Z", "3件のファイルを保存しました"); err != nil {
		t.Fatal(err)
	}

	expr := *mock.updateInputs[0].UpdateExpression
	if expr != "SET notes = list_append(if_not_exists(notes, :empty), :note)" {
		t.Errorf("unexpected expression: %s", expr)
	}
}

func TestUpdateNotFound(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	store := NewStore(mock, "orders", logging.Default())

	err := store.SetStatus(context.Background(), "id", "2025-06-10T09:00:00Z", StatusDelivered)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}
