package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/yojigen/ai-secretary/internal/channels/line"
	observemetrics "github.com/yojigen/ai-secretary/internal/observability/metrics"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

type messageHandler interface {
	HandleMessage(ctx context.Context, msg *line.InboundMessage) error
	HandleUnsend(ctx context.Context, messageID string) error
}

// LineWebhookHandler receives LINE platform webhooks. Events are processed
// inline; processing failures are logged and acknowledged anyway, since
// LINE retries non-200 responses and every handler downstream is
// idempotent or best effort.
type LineWebhookHandler struct {
	service       messageHandler
	channelSecret string
	handleTimeout time.Duration
	logger        *logging.Logger
	metrics       *observemetrics.IntakeMetrics
}

type LineWebhookConfig struct {
	Service       messageHandler
	ChannelSecret string
	HandleTimeout time.Duration
	Logger        *logging.Logger
	Metrics       *observemetrics.IntakeMetrics
}

func NewLineWebhookHandler(cfg LineWebhookConfig) *LineWebhookHandler {
	if cfg.Service == nil {
		panic("handlers: message service cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 55 * time.Second
	}
	return &LineWebhookHandler{
		service:       cfg.Service,
		channelSecret: cfg.ChannelSecret,
		handleTimeout: cfg.HandleTimeout,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

// Handle processes POST /webhooks/line.
func (h *LineWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !line.VerifySignature(h.channelSecret, body, r.Header.Get("X-Line-Signature")) {
		h.logger.Warn("invalid line webhook signature", "remote_ip", r.RemoteAddr)
		h.metrics.ObserveInbound("message", "bad_signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event line.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to parse line webhook", "error", err)
		h.metrics.ObserveInbound("message", "parse_error")
		w.WriteHeader(http.StatusOK)
		return
	}
	messages := line.ParseWebhookEvent(event)

	ctx, cancel := context.WithTimeout(r.Context(), h.handleTimeout)
	defer cancel()

	for i := range messages {
		msg := &messages[i]
		status := "ok"
		if err := h.service.HandleMessage(ctx, msg); err != nil {
			h.logger.Error("message handling failed",
				"conversation_id", msg.ConversationID,
				"message_id", msg.MessageID,
				"error", err)
			status = "error"
		}
		h.metrics.ObserveInbound("message", status)
	}

	for _, unsend := range line.ParseUnsendEvents(event) {
		status := "ok"
		if err := h.service.HandleUnsend(ctx, unsend.MessageID); err != nil {
			h.logger.Error("unsend handling failed",
				"conversation_id", unsend.ConversationID,
				"message_id", unsend.MessageID,
				"error", err)
			status = "error"
		}
		h.metrics.ObserveInbound("unsend", status)
	}

	h.metrics.ObserveWebhookLatency("message", time.Since(start).Seconds())
	w.WriteHeader(http.StatusOK)
}
