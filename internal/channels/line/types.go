package line

import "time"

// WebhookEvent is the top-level structure received from the LINE platform.
type WebhookEvent struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event represents a single webhook event.
type Event struct {
	Type       string   `json:"type"`
	Timestamp  int64    `json:"timestamp"`
	ReplyToken string   `json:"replyToken,omitempty"`
	Source     Source   `json:"source"`
	Message    *Message `json:"message,omitempty"`
	Unsend     *Unsend  `json:"unsend,omitempty"`
}

// Unsend carries the id of a message the sender retracted.
type Unsend struct {
	MessageID string `json:"messageId"`
}

// Source identifies where the event originated.
type Source struct {
	Type    string `json:"type"` // "user", "group", or "room"
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// Message contains the inbound message content.
type Message struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"` // "text", "image", "file", "video", "audio"
	Text            string           `json:"text,omitempty"`
	FileName        string           `json:"fileName,omitempty"`
	FileSize        int64            `json:"fileSize,omitempty"`
	ContentProvider *ContentProvider `json:"contentProvider,omitempty"`
}

// ContentProvider describes where binary content lives.
type ContentProvider struct {
	Type               string `json:"type"` // "line" or "external"
	OriginalContentURL string `json:"originalContentUrl,omitempty"`
}

// ReplyRequest is the payload for the reply endpoint.
type ReplyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []TextMessage `json:"messages"`
}

// PushRequest is the payload for the push endpoint.
type PushRequest struct {
	To       string        `json:"to"`
	Messages []TextMessage `json:"messages"`
}

// TextMessage is an outbound text message.
type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// APIError is the error body returned by the Messaging API.
type APIError struct {
	Message string `json:"message"`
}

// Profile is a user profile from the profile endpoint.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// InboundMessage is the normalized result of parsing a webhook event.
type InboundMessage struct {
	ConversationID string // group id when present, else user id
	UserID         string
	GroupID        string
	ReplyToken     string
	MessageID      string
	MessageType    string
	Text           string
	FileName       string
	FileSize       int64
	ExternalURL    string
	Timestamp      time.Time
}
