package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

type sesAPI interface {
	SendEmail(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailNotifier sends order alerts by email through SES.
type EmailNotifier struct {
	client    sesAPI
	fromEmail string
	fromName  string
	to        []string
	logger    *logging.Logger
}

// NewEmailNotifier returns nil when no recipients are configured; a nil
// notifier is safe to call and does nothing.
func NewEmailNotifier(client sesAPI, fromEmail, fromName string, to []string, logger *logging.Logger) *EmailNotifier {
	if client == nil || fromEmail == "" || len(to) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailNotifier{client: client, fromEmail: fromEmail, fromName: fromName, to: to, logger: logger}
}

// NotifyNewOrder sends the order summary to every configured recipient.
// Individual send failures are logged and do not abort the rest.
func (n *EmailNotifier) NotifyNewOrder(ctx context.Context, note NewOrderNotification) error {
	if n == nil {
		return nil
	}

	subject := fmt.Sprintf("【新規依頼】%s (%s)", note.CompanyName, note.OrderIDPrefix)
	body := n.renderBody(note)

	var lastErr error
	for _, recipient := range n.to {
		if err := n.send(ctx, recipient, subject, body); err != nil {
			n.logger.Error("failed to send order email", "recipient", recipient, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (n *EmailNotifier) renderBody(note NewOrderNotification) string {
	deadline := note.Deadline
	if deadline == "" {
		deadline = "未指定"
	}
	body := fmt.Sprintf("新しい依頼が登録されました。\n\n依頼ID: %s\nお客様: %s\n会社: %s\n納期: %s\n",
		note.OrderIDPrefix, note.CustomerName, note.CompanyName, deadline)
	if note.Summary != "" {
		body += "\n依頼内容:\n" + note.Summary + "\n"
	}
	if note.FolderURL != "" {
		body += "\nDriveフォルダ: " + note.FolderURL + "\n"
	}
	return body
}

func (n *EmailNotifier) send(ctx context.Context, recipient, subject, body string) error {
	from := n.fromEmail
	if n.fromName != "" {
		from = fmt.Sprintf("%s <%s>", n.fromName, n.fromEmail)
	}

	_, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: ses send failed: %w", err)
	}
	return nil
}
