package approval

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNotesDynamo struct {
	putInput    *dynamodb.PutItemInput
	updateInput *dynamodb.UpdateItemInput
	queryOutput *dynamodb.QueryOutput
}

func (m *mockNotesDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockNotesDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInput = in
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockNotesDynamo) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryOutput != nil {
		return m.queryOutput, nil
	}
	return &dynamodb.QueryOutput{}, nil
}

func noteItem(createdAt, content string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"note_type":  &types.AttributeValueMemberS{Value: "operator"},
		"created_at": &types.AttributeValueMemberS{Value: createdAt},
		"content":    &types.AttributeValueMemberS{Value: content},
		"active":     &types.AttributeValueMemberBOOL{Value: true},
	}
}

func TestNoteStoreAddRejectsEmpty(t *testing.T) {
	store := NewNoteStore(&mockNotesDynamo{}, "notes")
	assert.Error(t, store.Add(context.Background(), "   "))
}

func TestNoteStoreActiveSortsOldestFirst(t *testing.T) {
	mock := &mockNotesDynamo{
		queryOutput: &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{
				noteItem("2025-06-02T00:00:00Z", "二つ目"),
				noteItem("2025-06-01T00:00:00Z", "一つ目"),
			},
		},
	}
	store := NewNoteStore(mock, "notes")

	notes, err := store.Active(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "一つ目", notes[0].Content)
	assert.Equal(t, "二つ目", notes[1].Content)
}

func TestNoteStoreDeleteByPosition(t *testing.T) {
	mock := &mockNotesDynamo{
		queryOutput: &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{
				noteItem("2025-06-01T00:00:00Z", "一つ目"),
				noteItem("2025-06-02T00:00:00Z", "二つ目"),
			},
		},
	}
	store := NewNoteStore(mock, "notes")

	note, err := store.Delete(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "二つ目", note.Content)
	require.NotNil(t, mock.updateInput)
	assert.Contains(t, *mock.updateInput.UpdateExpression, "active")

	_, err = store.Delete(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNoteNotFound)
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "メモはありません。", FormatList(nil))

	out := FormatList([]Note{{Content: "敬語で統一"}, {Content: "納期は必ず確認"}})
	assert.Contains(t, out, "1. 敬語で統一")
	assert.Contains(t, out, "2. 納期は必ず確認")
}
