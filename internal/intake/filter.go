package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/yojigen/ai-secretary/internal/channels/line"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

// FilterDecision says whether a message is processed now and how.
type FilterDecision struct {
	Process    bool
	ReplyMode  bool
	ViaTrigger bool
	Text       string
}

type yesNoClassifier interface {
	ClassifyYesNo(ctx context.Context, question string) bool
}

// TriggerFilter gates group messages on trigger tokens, buffering the
// rest until a trigger arrives.
type TriggerFilter struct {
	buffers    *BufferStore
	state      *StateStore
	classifier yesNoClassifier
	logger     *logging.Logger
}

func NewTriggerFilter(buffers *BufferStore, state *StateStore, classifier yesNoClassifier, logger *logging.Logger) *TriggerFilter {
	if logger == nil {
		logger = logging.Default()
	}
	return &TriggerFilter{buffers: buffers, state: state, classifier: classifier, logger: logger}
}

// Decide applies the gating rules. Individual chats always process;
// group chats process on a trigger token (draining the buffer into the
// text), or in reply mode when the conversation is awaiting a reply and
// the classifier says the message is addressed to the assistant.
func (f *TriggerFilter) Decide(ctx context.Context, msg *line.InboundMessage, senderName string) FilterDecision {
	if msg.GroupID == "" {
		return FilterDecision{
			Process:    true,
			ViaTrigger: ContainsTrigger(msg.Text),
			Text:       StripTriggers(msg.Text),
		}
	}

	if ContainsTrigger(msg.Text) {
		return FilterDecision{
			Process:    true,
			ViaTrigger: true,
			Text:       f.drainInto(ctx, msg.ConversationID, StripTriggers(msg.Text)),
		}
	}

	if aw, err := f.state.AwaitingReply(ctx, msg.ConversationID); err == nil && aw != nil {
		question := fmt.Sprintf(
			"直前にAIアシスタントが次の返信を送りました:\n%s\n\n続いて届いた次のメッセージはAIアシスタント宛ですか?\n%s",
			aw.ReplyText, msg.Text)
		if f.classifier != nil && f.classifier.ClassifyYesNo(ctx, question) {
			return FilterDecision{Process: true, ReplyMode: true, Text: msg.Text}
		}
	}

	if err := f.buffers.Append(ctx, msg.ConversationID, BufferedMessage{
		Sender:    senderName,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}); err != nil {
		// Buffer writes are best effort; losing one only delays context.
		f.logger.Error("failed to buffer message", "conversation_id", msg.ConversationID, "error", err)
	}
	return FilterDecision{}
}

// drainInto prepends any buffered messages to the cleaned trigger text
// as "sender: text" lines in arrival order.
func (f *TriggerFilter) drainInto(ctx context.Context, conversationID, cleaned string) string {
	buffered, err := f.buffers.Drain(ctx, conversationID)
	if err != nil {
		f.logger.Error("failed to drain buffer", "conversation_id", conversationID, "error", err)
		return cleaned
	}
	if len(buffered) == 0 {
		return cleaned
	}

	var b strings.Builder
	for _, m := range buffered {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Text)
	}
	b.WriteString(cleaned)
	return b.String()
}
