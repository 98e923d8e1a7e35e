package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"
)

// ParseWebhookBody decodes a webhook request body into normalized inbound
// messages. Events without message content (joins, unfollows, etc.) are
// skipped.
func ParseWebhookBody(body []byte) ([]InboundMessage, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	return ParseWebhookEvent(event), nil
}

// ParseWebhookEvent extracts InboundMessages from a webhook event.
func ParseWebhookEvent(event WebhookEvent) []InboundMessage {
	var messages []InboundMessage

	for _, ev := range event.Events {
		if ev.Type != "message" || ev.Message == nil {
			continue
		}

		msg := InboundMessage{
			UserID:      ev.Source.UserID,
			GroupID:     ev.Source.GroupID,
			ReplyToken:  ev.ReplyToken,
			MessageID:   ev.Message.ID,
			MessageType: ev.Message.Type,
			Text:        ev.Message.Text,
			FileName:    ev.Message.FileName,
			FileSize:    ev.Message.FileSize,
			Timestamp:   time.UnixMilli(ev.Timestamp),
		}
		if ev.Source.GroupID != "" {
			msg.ConversationID = ev.Source.GroupID
		} else if ev.Source.RoomID != "" {
			msg.ConversationID = ev.Source.RoomID
		} else {
			msg.ConversationID = ev.Source.UserID
		}
		if cp := ev.Message.ContentProvider; cp != nil && cp.Type == "external" {
			msg.ExternalURL = cp.OriginalContentURL
		}

		messages = append(messages, msg)
	}

	return messages
}

// UnsendEvent is a retraction of a previously delivered message.
type UnsendEvent struct {
	ConversationID string
	MessageID      string
}

// ParseUnsendEvents extracts message retractions from a webhook event.
func ParseUnsendEvents(event WebhookEvent) []UnsendEvent {
	var unsends []UnsendEvent
	for _, ev := range event.Events {
		if ev.Type != "unsend" || ev.Unsend == nil || ev.Unsend.MessageID == "" {
			continue
		}
		conversationID := ev.Source.UserID
		if ev.Source.GroupID != "" {
			conversationID = ev.Source.GroupID
		} else if ev.Source.RoomID != "" {
			conversationID = ev.Source.RoomID
		}
		unsends = append(unsends, UnsendEvent{
			ConversationID: conversationID,
			MessageID:      ev.Unsend.MessageID,
		})
	}
	return unsends
}

// VerifySignature verifies the X-Line-Signature header: the base64-encoded
// HMAC-SHA256 of the raw body keyed by the channel secret.
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
