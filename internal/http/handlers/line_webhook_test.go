package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yojigen/ai-secretary/internal/channels/line"
)

const testChannelSecret = "test-secret"

type recordingService struct {
	messages []line.InboundMessage
	unsends  []string
	err      error
}

func (s *recordingService) HandleMessage(ctx context.Context, msg *line.InboundMessage) error {
	s.messages = append(s.messages, *msg)
	return s.err
}

func (s *recordingService) HandleUnsend(ctx context.Context, messageID string) error {
	s.unsends = append(s.unsends, messageID)
	return s.err
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testChannelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, h *LineWebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/line", bytes.NewReader(body))
	req.Header.Set("X-Line-Signature", signature)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func newTestHandler(service *recordingService) *LineWebhookHandler {
	return NewLineWebhookHandler(LineWebhookConfig{
		Service:       service,
		ChannelSecret: testChannelSecret,
	})
}

func TestLineWebhookRejectsBadSignature(t *testing.T) {
	service := &recordingService{}
	body := []byte(`{"events":[]}`)

	rec := postWebhook(t, newTestHandler(service), body, "bogus")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, service.messages)
}

func TestLineWebhookDispatchesMessages(t *testing.T) {
	service := &recordingService{}
	body := []byte(`{"events":[{"type":"message","timestamp":1717994400000,"replyToken":"rt1","source":{"type":"group","groupId":"G1","userId":"U1"},"message":{"id":"m1","type":"text","text":"@ai レタッチをお願いします"}}]}`)

	rec := postWebhook(t, newTestHandler(service), body, signBody(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, service.messages, 1)
	msg := service.messages[0]
	assert.Equal(t, "G1", msg.ConversationID)
	assert.Equal(t, "m1", msg.MessageID)
	assert.Equal(t, "@ai レタッチをお願いします", msg.Text)
}

func TestLineWebhookAcksProcessingFailure(t *testing.T) {
	service := &recordingService{err: errors.New("downstream unavailable")}
	body := []byte(`{"events":[{"type":"message","timestamp":1717994400000,"source":{"type":"user","userId":"U1"},"message":{"id":"m1","type":"text","text":"こんにちは"}}]}`)

	rec := postWebhook(t, newTestHandler(service), body, signBody(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, service.messages, 1)
}

func TestLineWebhookDispatchesUnsend(t *testing.T) {
	service := &recordingService{}
	body := []byte(`{"events":[{"type":"unsend","timestamp":1717994400000,"source":{"type":"user","userId":"U1"},"unsend":{"messageId":"m99"}}]}`)

	rec := postWebhook(t, newTestHandler(service), body, signBody(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"m99"}, service.unsends)
	assert.Empty(t, service.messages)
}

func TestLineWebhookAcksMalformedBody(t *testing.T) {
	service := &recordingService{}
	body := []byte(`not json`)

	rec := postWebhook(t, newTestHandler(service), body, signBody(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, service.messages)
}
