package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yojigen/ai-secretary/internal/channels/line"
)

type stubClassifier struct {
	answer bool
	asked  []string
}

func (c *stubClassifier) ClassifyYesNo(ctx context.Context, question string) bool {
	c.asked = append(c.asked, question)
	return c.answer
}

func newTestFilter(t *testing.T, classifier yesNoClassifier) (*TriggerFilter, *BufferStore, *StateStore) {
	t.Helper()
	client := newTestRedis(t)
	buffers := NewBufferStore(client)
	state := NewStateStore(client, 10*time.Minute)
	return NewTriggerFilter(buffers, state, classifier, nil), buffers, state
}

func TestDecideIndividualAlwaysProcesses(t *testing.T) {
	filter, _, _ := newTestFilter(t, nil)

	d := filter.Decide(context.Background(), &line.InboundMessage{
		ConversationID: "U1",
		UserID:         "U1",
		Text:           "切り抜きをお願いします",
	}, "田中")

	assert.True(t, d.Process)
	assert.False(t, d.ViaTrigger)
	assert.Equal(t, "切り抜きをお願いします", d.Text)
}

func TestDecideIndividualStripsTrigger(t *testing.T) {
	filter, _, _ := newTestFilter(t, nil)

	d := filter.Decide(context.Background(), &line.InboundMessage{
		ConversationID: "U1",
		UserID:         "U1",
		Text:           "@ai 納期を確認してください",
	}, "田中")

	assert.True(t, d.Process)
	assert.True(t, d.ViaTrigger)
	assert.Equal(t, "納期を確認してください", d.Text)
}

func TestDecideGroupBuffersUntilTrigger(t *testing.T) {
	filter, _, _ := newTestFilter(t, nil)
	ctx := context.Background()

	msg := func(sender, text string) *line.InboundMessage {
		return &line.InboundMessage{
			ConversationID: "G1",
			GroupID:        "G1",
			UserID:         sender,
			Text:           text,
		}
	}

	d := filter.Decide(ctx, msg("U1", "明日の撮影の件ですが"), "田中")
	assert.False(t, d.Process)

	d = filter.Decide(ctx, msg("U2", "素材は夕方に送ります"), "佐藤")
	assert.False(t, d.Process)

	d = filter.Decide(ctx, msg("U1", "＠依頼 切り抜きをお願いします"), "田中")
	require.True(t, d.Process)
	assert.True(t, d.ViaTrigger)
	assert.Equal(t, "田中: 明日の撮影の件ですが\n佐藤: 素材は夕方に送ります\n切り抜きをお願いします", d.Text)

	// Buffer is consumed exactly once.
	d = filter.Decide(ctx, msg("U1", "@ai 追加です"), "田中")
	require.True(t, d.Process)
	assert.Equal(t, "追加です", d.Text)
}

func TestDecideGroupReplyMode(t *testing.T) {
	classifier := &stubClassifier{answer: true}
	filter, _, state := newTestFilter(t, classifier)
	ctx := context.Background()

	require.NoError(t, state.MarkAwaitingReply(ctx, "G1", "納期を確認いたします。"))

	d := filter.Decide(ctx, &line.InboundMessage{
		ConversationID: "G1",
		GroupID:        "G1",
		UserID:         "U1",
		Text:           "はい、お願いします",
	}, "田中")

	require.True(t, d.Process)
	assert.True(t, d.ReplyMode)
	assert.False(t, d.ViaTrigger)
	assert.Equal(t, "はい、お願いします", d.Text)
	require.Len(t, classifier.asked, 1)
	assert.Contains(t, classifier.asked[0], "納期を確認いたします。")
}

func TestDecideGroupReplyModeRejectedBuffers(t *testing.T) {
	classifier := &stubClassifier{answer: false}
	filter, buffers, state := newTestFilter(t, classifier)
	ctx := context.Background()

	require.NoError(t, state.MarkAwaitingReply(ctx, "G1", "納期を確認いたします。"))

	d := filter.Decide(ctx, &line.InboundMessage{
		ConversationID: "G1",
		GroupID:        "G1",
		UserID:         "U1",
		Text:           "佐藤さん、昼どうする？",
	}, "田中")

	assert.False(t, d.Process)

	buffered, err := buffers.Drain(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, buffered, 1)
	assert.Equal(t, "佐藤さん、昼どうする？", buffered[0].Text)
}
