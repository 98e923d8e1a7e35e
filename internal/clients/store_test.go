package clients

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct {
	putInput    *dynamodb.PutItemInput
	updateInput *dynamodb.UpdateItemInput
	getInput    *dynamodb.GetItemInput
	deleteInput *dynamodb.DeleteItemInput
	scanInput   *dynamodb.ScanInput
	queryInput  *dynamodb.QueryInput

	getOutput   *dynamodb.GetItemOutput
	scanOutput  *dynamodb.ScanOutput
	queryOutput *dynamodb.QueryOutput

	putErr    error
	updateErr error
	getErr    error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInput = in
	return &dynamodb.UpdateItemOutput{}, m.updateErr
}

func (m *mockDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getInput = in
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput != nil {
		return m.getOutput, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.deleteInput = in
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.scanInput = in
	if m.scanOutput != nil {
		return m.scanOutput, nil
	}
	return &dynamodb.ScanOutput{}, nil
}

func (m *mockDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queryInput = in
	if m.queryOutput != nil {
		return m.queryOutput, nil
	}
	return &dynamodb.QueryOutput{}, nil
}

func TestConversationKey(t *testing.T) {
	assert.Equal(t, "G123", ConversationKey("G123", "U456"))
	assert.Equal(t, "user_U456", ConversationKey("", "U456"))
}

func TestStoreGetNotFound(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "clients", nil)

	_, err := store.Get(context.Background(), "G123")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestStoreGetDecodes(t *testing.T) {
	mock := &mockDynamo{
		getOutput: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"conversation_id": &types.AttributeValueMemberS{Value: "G123"},
				"company_name":    &types.AttributeValueMemberS{Value: "株式会社テスト"},
				"status":          &types.AttributeValueMemberS{Value: "active"},
			},
		},
	}
	store := NewStore(mock, "clients", nil)

	c, err := store.Get(context.Background(), "G123")
	require.NoError(t, err)
	assert.Equal(t, "株式会社テスト", c.CompanyName)
}

func TestStoreCompanyNameFallsBack(t *testing.T) {
	mock := &mockDynamo{getErr: errors.New("boom")}
	store := NewStore(mock, "clients", nil)

	assert.Equal(t, UnregisteredCompanyName, store.CompanyName(context.Background(), "G123"))
}

func TestStoreRegisterSetsActive(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "clients", nil)

	err := store.Register(context.Background(), &Client{
		ConversationID: "G123",
		CompanyName:    "株式会社テスト",
	})
	require.NoError(t, err)
	require.NotNil(t, mock.putInput)

	status, ok := mock.putInput.Item["status"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "active", status.Value)
}

func TestStoreRegisterValidates(t *testing.T) {
	store := NewStore(&mockDynamo{}, "clients", nil)

	err := store.Register(context.Background(), &Client{ConversationID: "G123"})
	assert.Error(t, err)
}

func TestStoreAllCompanyNamesDeduplicates(t *testing.T) {
	mock := &mockDynamo{
		scanOutput: &dynamodb.ScanOutput{
			Items: []map[string]types.AttributeValue{
				{"company_name": &types.AttributeValueMemberS{Value: "株式会社A"}},
				{"company_name": &types.AttributeValueMemberS{Value: "株式会社B"}},
				{"company_name": &types.AttributeValueMemberS{Value: "株式会社A"}},
			},
		},
	}
	store := NewStore(mock, "clients", nil)

	names, err := store.AllCompanyNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"株式会社A", "株式会社B"}, names)
}

func TestStoreFindSimilarCompany(t *testing.T) {
	mock := &mockDynamo{
		scanOutput: &dynamodb.ScanOutput{
			Items: []map[string]types.AttributeValue{
				{"company_name": &types.AttributeValueMemberS{Value: "株式会社フォトワークス"}},
			},
		},
	}
	store := NewStore(mock, "clients", nil)

	name, err := store.FindSimilarCompany(context.Background(), "フォトワークス")
	require.NoError(t, err)
	assert.Equal(t, "株式会社フォトワークス", name)

	name, err = store.FindSimilarCompany(context.Background(), "別の会社")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestRegistrationLifecycle(t *testing.T) {
	mock := &mockDynamo{}
	store := NewRegistrationStore(mock, "registrations")

	err := store.Record(context.Background(), &Registration{
		RegistrationID: "abcd1234",
		ConversationID: "G123",
		CompanyName:    "株式会社テスト",
	})
	require.NoError(t, err)
	require.NotNil(t, mock.putInput)

	status, ok := mock.putInput.Item["status"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "active", status.Value)

	require.NoError(t, store.MarkCancelled(context.Background(), "abcd1234"))
	require.NotNil(t, mock.updateInput)
	assert.Contains(t, *mock.updateInput.ConditionExpression, "attribute_exists")
}

func TestRegistrationMarkCancelledNotFound(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	store := NewRegistrationStore(mock, "registrations")

	err := store.MarkCancelled(context.Background(), "missing12")
	assert.ErrorIs(t, err, ErrRegistrationNotFound)
}
