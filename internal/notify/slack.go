// Package notify fans staff-facing alerts out to Slack and email.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

// NewOrderNotification carries the fields shown to staff when an order
// is registered.
type NewOrderNotification struct {
	OrderIDPrefix  string
	CustomerName   string
	CompanyName    string
	Deadline       string
	Summary        string
	FolderURL      string
	ConversationID string
	Unregistered   bool
}

// SlackNotifier posts order notifications to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	logger     *logging.Logger
}

// NewSlackNotifier returns nil when no webhook is configured; a nil
// notifier is safe to call and does nothing.
func NewSlackNotifier(webhookURL string, logger *logging.Logger) *SlackNotifier {
	if webhookURL == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SlackNotifier{webhookURL: webhookURL, logger: logger}
}

// NotifyNewOrder posts a Block Kit message describing a new order.
func (n *SlackNotifier) NotifyNewOrder(ctx context.Context, note NewOrderNotification) error {
	if n == nil {
		return nil
	}

	blocks := BuildNewOrderBlocks(note)
	msg := &slack.WebhookMessage{
		Text:   fmt.Sprintf("新規依頼 %s (%s)", note.OrderIDPrefix, note.CompanyName),
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("notify: failed to post slack notification: %w", err)
	}

	n.logger.Info("slack notification sent", "order_id", note.OrderIDPrefix)
	return nil
}

// BuildNewOrderBlocks assembles the Block Kit layout for a new order.
func BuildNewOrderBlocks(note NewOrderNotification) []slack.Block {
	deadline := note.Deadline
	if deadline == "" {
		deadline = "未指定"
	}

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*依頼ID:*\n%s", note.OrderIDPrefix), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*お客様:*\n%s", note.CustomerName), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*会社:*\n%s", note.CompanyName), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*納期:*\n%s", deadline), false, false),
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "📸 新規依頼", false, false)),
		slack.NewSectionBlock(nil, fields, nil),
	}

	if note.Summary != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*依頼内容:*\n%s", note.Summary), false, false),
			nil, nil,
		))
	}

	if note.Unregistered {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("⚠️ 未登録クライアントです。登録してください。\nグループID: `%s`", note.ConversationID),
				false, false),
		))
	}

	if note.FolderURL != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("<%s|📁 Driveフォルダを開く>", note.FolderURL), false, false),
			nil, nil,
		))
	}
	return blocks
}
