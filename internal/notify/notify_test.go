package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockTexts(blocks []slack.Block) string {
	out := ""
	for _, b := range blocks {
		switch block := b.(type) {
		case *slack.HeaderBlock:
			out += block.Text.Text + "\n"
		case *slack.SectionBlock:
			if block.Text != nil {
				out += block.Text.Text + "\n"
			}
			for _, f := range block.Fields {
				out += f.Text + "\n"
			}
		case *slack.ContextBlock:
			for _, el := range block.ContextElements.Elements {
				if t, ok := el.(*slack.TextBlockObject); ok {
					out += t.Text + "\n"
				}
			}
		}
	}
	return out
}

func TestBuildNewOrderBlocks(t *testing.T) {
	blocks := BuildNewOrderBlocks(NewOrderNotification{
		OrderIDPrefix: "abcd1234",
		CustomerName:  "田中",
		CompanyName:   "株式会社テスト",
		Deadline:      "2025-06-12 18:00",
		Summary:       "カタログ写真の切り抜き30点",
		FolderURL:     "https://drive.google.com/drive/folders/xyz",
	})

	text := blockTexts(blocks)
	assert.Contains(t, text, "abcd1234")
	assert.Contains(t, text, "株式会社テスト")
	assert.Contains(t, text, "2025-06-12 18:00")
	assert.Contains(t, text, "カタログ写真の切り抜き30点")
	assert.Contains(t, text, "drive.google.com")
	assert.NotContains(t, text, "未登録")
}

func TestBuildNewOrderBlocksUnregistered(t *testing.T) {
	blocks := BuildNewOrderBlocks(NewOrderNotification{
		OrderIDPrefix:  "abcd1234",
		CustomerName:   "田中",
		CompanyName:    "未登録クライアント",
		ConversationID: "G123",
		Unregistered:   true,
	})

	text := blockTexts(blocks)
	assert.Contains(t, text, "未登録クライアント")
	assert.Contains(t, text, "G123")
	assert.Contains(t, text, "未指定")
}

func TestNilNotifiersAreSafe(t *testing.T) {
	var s *SlackNotifier
	assert.NoError(t, s.NotifyNewOrder(context.Background(), NewOrderNotification{}))

	var e *EmailNotifier
	assert.NoError(t, e.NotifyNewOrder(context.Background(), NewOrderNotification{}))

	assert.Nil(t, NewSlackNotifier("", nil))
	assert.Nil(t, NewEmailNotifier(nil, "from@example.com", "", []string{"to@example.com"}, nil))
}

type mockSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (m *mockSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.inputs = append(m.inputs, in)
	return &sesv2.SendEmailOutput{}, m.err
}

func TestEmailNotifierFansOut(t *testing.T) {
	mock := &mockSES{}
	n := NewEmailNotifier(mock, "ai@example.com", "AI秘書", []string{"a@example.com", "b@example.com"}, nil)

	err := n.NotifyNewOrder(context.Background(), NewOrderNotification{
		OrderIDPrefix: "abcd1234",
		CustomerName:  "田中",
		CompanyName:   "株式会社テスト",
	})
	require.NoError(t, err)
	require.Len(t, mock.inputs, 2)
	assert.Contains(t, *mock.inputs[0].FromEmailAddress, "AI秘書")
	assert.Contains(t, *mock.inputs[0].Content.Simple.Subject.Data, "abcd1234")
}

func TestEmailNotifierContinuesOnFailure(t *testing.T) {
	mock := &mockSES{err: errors.New("throttled")}
	n := NewEmailNotifier(mock, "ai@example.com", "", []string{"a@example.com", "b@example.com"}, nil)

	err := n.NotifyNewOrder(context.Background(), NewOrderNotification{OrderIDPrefix: "abcd1234"})
	assert.Error(t, err)
	assert.Len(t, mock.inputs, 2)
}
