package intake

import (
	"context"
	"errors"
	"time"

	"github.com/yojigen/ai-secretary/internal/channels/line"
	"github.com/yojigen/ai-secretary/internal/clients"
	"github.com/yojigen/ai-secretary/internal/orders"
)

// FlowKind tags the single flow a processed message resolves to.
type FlowKind int

const (
	FlowOperatorCommand FlowKind = iota
	FlowRegistrationPrompt
	FlowRegistrationAnswer
	FlowDeadlineCorrection
	FlowAddendumAttachment
	FlowAddendumURL
	FlowNewOrder
	FlowPlainChat
)

// Flow is the routing decision plus the context it resolved.
type Flow struct {
	Kind             FlowKind
	URLs             []string
	Deadline         time.Time
	HasDeadline      bool
	Order            *orders.Order
	Candidates       []orders.Order
	Registration     *PendingRegistration
	SuggestedCompany string
	Client           *clients.Client
}

const maxAddendumTextRunes = 20

type clientRegistry interface {
	Get(ctx context.Context, conversationID string) (*clients.Client, error)
	Register(ctx context.Context, c *clients.Client) error
	FindSimilarCompany(ctx context.Context, input string) (string, error)
	SetDriveFolder(ctx context.Context, conversationID, folderID string) error
}

type orderStore interface {
	Create(ctx context.Context, order *orders.Order) error
	Recent(ctx context.Context, conversationID string, since time.Time) ([]orders.Order, error)
	MostRecent(ctx context.Context, conversationID string, since time.Time) (*orders.Order, error)
	FindByIDPrefix(ctx context.Context, conversationID, prefix string, since time.Time) (*orders.Order, error)
	UpdateDeadline(ctx context.Context, orderID, createdAt, deadline string) error
	AppendNote(ctx context.Context, orderID, createdAt, note string) error
}

// Router classifies each processed message into exactly one flow,
// first match wins.
type Router struct {
	registry clientRegistry
	state    *StateStore
	orders   orderStore

	approvalGroupID    string
	recentOrderWindow  time.Duration
	orderLookupWindow  time.Duration
	correctionLookback time.Duration
}

func NewRouter(registry clientRegistry, state *StateStore, orderStore orderStore, approvalGroupID string, recentOrderWindow, orderLookupWindow time.Duration) *Router {
	if registry == nil {
		panic("intake: client registry cannot be nil")
	}
	if orderStore == nil {
		panic("intake: order store cannot be nil")
	}
	if recentOrderWindow <= 0 {
		recentOrderWindow = 30 * time.Minute
	}
	if orderLookupWindow <= 0 {
		orderLookupWindow = 60 * time.Minute
	}
	return &Router{
		registry:           registry,
		state:              state,
		orders:             orderStore,
		approvalGroupID:    approvalGroupID,
		recentOrderWindow:  recentOrderWindow,
		orderLookupWindow:  orderLookupWindow,
		correctionLookback: 24 * time.Hour,
	}
}

// Classify resolves the flow for a message that passed the trigger
// filter. text is the filter's cleaned (possibly buffer-expanded) text.
func (r *Router) Classify(ctx context.Context, msg *line.InboundMessage, text string, replyMode bool, now time.Time) (*Flow, error) {
	if msg.ConversationID == r.approvalGroupID {
		return &Flow{Kind: FlowOperatorCommand}, nil
	}

	if r.state != nil {
		if reg, err := r.state.PendingRegistration(ctx, msg.ConversationID); err == nil && reg != nil {
			return &Flow{Kind: FlowRegistrationAnswer, Registration: reg}, nil
		}
	}

	client, err := r.registry.Get(ctx, msg.ConversationID)
	if err != nil {
		if !errors.Is(err, clients.ErrClientNotFound) {
			return nil, err
		}
		suggested, _ := r.registry.FindSimilarCompany(ctx, text)
		return &Flow{Kind: FlowRegistrationPrompt, SuggestedCompany: suggested}, nil
	}

	if flow := r.classifyCorrection(ctx, msg, text, now); flow != nil {
		flow.Client = client
		return flow, nil
	}

	urls := ExtractURLs(text)
	remaining := []rune(StripURLs(text))
	shortRemainder := len(remaining) <= maxAddendumTextRunes
	isOrder := IsOrderRequest(text)
	hasAttachment := msg.MessageType != "" && msg.MessageType != "text"

	if hasAttachment && !isOrder && shortRemainder {
		if order, err := r.orders.MostRecent(ctx, msg.ConversationID, now.Add(-r.recentOrderWindow)); err == nil && order != nil {
			return &Flow{Kind: FlowAddendumAttachment, Order: order, Client: client}, nil
		}
	}

	if len(urls) > 0 && !isOrder && shortRemainder {
		if order, err := r.orders.MostRecent(ctx, msg.ConversationID, now.Add(-r.recentOrderWindow)); err == nil && order != nil {
			return &Flow{Kind: FlowAddendumURL, Order: order, URLs: urls, Client: client}, nil
		}
	}

	if (isOrder || hasAttachment) && !replyMode {
		flow := &Flow{Kind: FlowNewOrder, URLs: urls, Client: client}
		if deadline, ok := ExtractDeadline(text, now); ok {
			flow.Deadline = deadline
			flow.HasDeadline = true
		}
		return flow, nil
	}

	return &Flow{Kind: FlowPlainChat, Client: client}, nil
}

// classifyCorrection returns a deadline-correction flow, or nil to fall
// through to normal classification.
func (r *Router) classifyCorrection(ctx context.Context, msg *line.InboundMessage, text string, now time.Time) *Flow {
	if !IsDeadlineCorrection(text) {
		return nil
	}
	deadline, ok := ExtractDeadline(text, now)
	if !ok {
		return nil
	}

	if prefix := ExtractOrderIDPrefix(text); prefix != "" {
		order, err := r.orders.FindByIDPrefix(ctx, msg.ConversationID, prefix, now.Add(-r.correctionLookback))
		if err != nil || order == nil {
			return &Flow{Kind: FlowDeadlineCorrection, Deadline: deadline, HasDeadline: true}
		}
		return &Flow{Kind: FlowDeadlineCorrection, Order: order, Deadline: deadline, HasDeadline: true}
	}

	recent, err := r.orders.Recent(ctx, msg.ConversationID, now.Add(-r.orderLookupWindow))
	if err != nil {
		return nil
	}
	switch len(recent) {
	case 0:
		return nil
	case 1:
		return &Flow{Kind: FlowDeadlineCorrection, Order: &recent[0], Deadline: deadline, HasDeadline: true}
	default:
		return &Flow{Kind: FlowDeadlineCorrection, Candidates: recent, Deadline: deadline, HasDeadline: true}
	}
}
