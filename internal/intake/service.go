package intake

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yojigen/ai-secretary/internal/ai"
	"github.com/yojigen/ai-secretary/internal/approval"
	"github.com/yojigen/ai-secretary/internal/channels/line"
	"github.com/yojigen/ai-secretary/internal/clients"
	"github.com/yojigen/ai-secretary/internal/drive"
	"github.com/yojigen/ai-secretary/internal/enrichment"
	"github.com/yojigen/ai-secretary/internal/notify"
	"github.com/yojigen/ai-secretary/internal/orders"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

const (
	defaultSenderName    = "お客様"
	maxOrderMessageRunes = 500
	summaryRunes         = 100
)

type messenger interface {
	Reply(ctx context.Context, replyToken string, texts ...string) error
	Push(ctx context.Context, to string, texts ...string) error
	GetProfile(ctx context.Context, userID string) (*line.Profile, error)
	GetMessageContent(ctx context.Context, messageID string) (io.ReadCloser, error)
}

type assistantAPI interface {
	GenerateReply(ctx context.Context, in ai.ReplyInput) (string, error)
	Summarize(ctx context.Context, text string, maxRunes int) string
	ExtractProjectName(ctx context.Context, text string) string
	AnalyzeContent(ctx context.Context, mimeType string, data []byte) string
}

type approvalGate interface {
	Submit(ctx context.Context, in approval.SubmitInput) (*approval.SubmitResult, error)
	HandleCommand(ctx context.Context, text string) (string, bool, error)
}

type taskEnqueuer interface {
	Enqueue(ctx context.Context, task *enrichment.Task) error
}

type noteSource interface {
	Active(ctx context.Context) ([]approval.Note, error)
}

type companyFolders interface {
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)
	Share(ctx context.Context, folderID, email string) error
}

type registrationRecorder interface {
	Record(ctx context.Context, reg *clients.Registration) error
}

type mappingSaver interface {
	Save(ctx context.Context, conversationID, userName, userID string) error
}

type calendarWriter interface {
	CreateDeadlineEvent(ctx context.Context, companyName, orderIDPrefix string, deadline time.Time, description string) error
}

type OrderNotifier interface {
	NotifyNewOrder(ctx context.Context, note notify.NewOrderNotification) error
}

type delayedQueuer interface {
	Queue(ctx context.Context, messageID, targetID, text string, delay time.Duration) error
	Cancel(ctx context.Context, messageID string) error
}

// Service runs the full intake path for one inbound message.
type Service struct {
	messenger     messenger
	filter        *TriggerFilter
	router        *Router
	registry      clientRegistry
	registrations registrationRecorder
	mappings      mappingSaver
	state         *StateStore
	orders        orderStore
	assistant     assistantAPI
	pipeline      approvalGate
	notes         noteSource
	enqueuer      taskEnqueuer
	drive         companyFolders
	calendar      calendarWriter
	notifiers     []OrderNotifier
	delayed       delayedQueuer
	responseDelay time.Duration
	logger        *logging.Logger
}

// ServiceParams bundles the collaborators for NewService.
type ServiceParams struct {
	Messenger     messenger
	Filter        *TriggerFilter
	Router        *Router
	Registry      clientRegistry
	Registrations registrationRecorder
	Mappings      mappingSaver
	State         *StateStore
	Orders        orderStore
	Assistant     assistantAPI
	Pipeline      approvalGate
	Notes         noteSource
	Enqueuer      taskEnqueuer
	Drive         companyFolders
	Calendar      calendarWriter
	Notifiers     []OrderNotifier
	Delayed       delayedQueuer
	ResponseDelay time.Duration
	Logger        *logging.Logger
}

func NewService(p ServiceParams) *Service {
	if p.Messenger == nil {
		panic("intake: messenger cannot be nil")
	}
	if p.Filter == nil {
		panic("intake: trigger filter cannot be nil")
	}
	if p.Router == nil {
		panic("intake: router cannot be nil")
	}
	if p.Assistant == nil {
		panic("intake: assistant cannot be nil")
	}
	if p.Pipeline == nil && p.Delayed == nil {
		panic("intake: either approval pipeline or delayed sender required")
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	if p.ResponseDelay <= 0 {
		p.ResponseDelay = time.Minute
	}
	return &Service{
		messenger:     p.Messenger,
		filter:        p.Filter,
		router:        p.Router,
		registry:      p.Registry,
		registrations: p.Registrations,
		mappings:      p.Mappings,
		state:         p.State,
		orders:        p.Orders,
		assistant:     p.Assistant,
		pipeline:      p.Pipeline,
		notes:         p.Notes,
		enqueuer:      p.Enqueuer,
		drive:         p.Drive,
		calendar:      p.Calendar,
		notifiers:     p.Notifiers,
		delayed:       p.Delayed,
		responseDelay: p.ResponseDelay,
		logger:        p.Logger,
	}
}

// HandleMessage processes one inbound message end to end. Errors are
// internal; the webhook acknowledges regardless.
func (s *Service) HandleMessage(ctx context.Context, msg *line.InboundMessage) error {
	if msg == nil {
		return nil
	}

	// Operator commands bypass the trigger gate.
	if s.router.approvalGroupID != "" && msg.ConversationID == s.router.approvalGroupID {
		return s.handleOperatorCommand(ctx, msg)
	}

	senderName := s.resolveSenderName(ctx, msg)
	if s.mappings != nil && msg.GroupID != "" && msg.UserID != "" && senderName != defaultSenderName {
		if err := s.mappings.Save(ctx, msg.ConversationID, senderName, msg.UserID); err != nil {
			s.logger.Error("failed to save user mapping", "conversation_id", msg.ConversationID, "error", err)
		}
	}

	decision := s.filter.Decide(ctx, msg, senderName)
	if !decision.Process {
		return nil
	}

	now := time.Now()
	flow, err := s.router.Classify(ctx, msg, decision.Text, decision.ReplyMode, now)
	if err != nil {
		return fmt.Errorf("intake: classification failed: %w", err)
	}

	switch flow.Kind {
	case FlowOperatorCommand:
		return s.handleOperatorCommand(ctx, msg)
	case FlowRegistrationPrompt:
		return s.handleRegistrationPrompt(ctx, msg, flow)
	case FlowRegistrationAnswer:
		return s.handleRegistrationAnswer(ctx, msg, flow, decision.Text)
	case FlowDeadlineCorrection:
		return s.handleDeadlineCorrection(ctx, msg, flow)
	case FlowAddendumAttachment:
		return s.handleAddendumAttachment(ctx, msg, flow, senderName)
	case FlowAddendumURL:
		return s.handleAddendumURL(ctx, msg, flow, senderName)
	case FlowNewOrder:
		return s.handleNewOrder(ctx, msg, flow, decision, senderName, now)
	default:
		return s.handlePlainChat(ctx, msg, flow, decision, senderName, now)
	}
}

// HandleUnsend retracts the delayed reply tied to a retracted message.
func (s *Service) HandleUnsend(ctx context.Context, messageID string) error {
	if s.delayed == nil || messageID == "" {
		return nil
	}
	return s.delayed.Cancel(ctx, messageID)
}

func (s *Service) resolveSenderName(ctx context.Context, msg *line.InboundMessage) string {
	if msg.UserID == "" {
		return defaultSenderName
	}
	profile, err := s.messenger.GetProfile(ctx, msg.UserID)
	if err != nil || profile == nil || profile.DisplayName == "" {
		return defaultSenderName
	}
	return profile.DisplayName
}

func (s *Service) handleOperatorCommand(ctx context.Context, msg *line.InboundMessage) error {
	reply, handled, err := s.pipeline.HandleCommand(ctx, msg.Text)
	if err != nil {
		return fmt.Errorf("intake: operator command failed: %w", err)
	}
	if !handled || reply == "" {
		return nil
	}
	if msg.ReplyToken != "" {
		if err := s.messenger.Reply(ctx, msg.ReplyToken, reply); err == nil {
			return nil
		}
	}
	return s.messenger.Push(ctx, msg.ConversationID, reply)
}

func (s *Service) handleRegistrationPrompt(ctx context.Context, msg *line.InboundMessage, flow *Flow) error {
	if s.state != nil {
		if err := s.state.SetPendingRegistration(ctx, msg.ConversationID, PendingRegistration{
			SuggestedName: flow.SuggestedCompany,
			AskedAt:       time.Now(),
		}); err != nil {
			s.logger.Error("failed to set pending registration", "conversation_id", msg.ConversationID, "error", err)
		}
	}

	var prompt string
	if flow.SuggestedCompany != "" {
		prompt = fmt.Sprintf("はじめまして！担当させていただくにあたり、会社名を確認させてください。\n「%s」様でよろしいでしょうか？(はい/いいえ、または正しい会社名をお送りください)", flow.SuggestedCompany)
	} else {
		prompt = "はじめまして！担当させていただくにあたり、会社名を教えていただけますでしょうか。"
	}
	return s.respond(ctx, msg, GreetingText+"\n"+prompt)
}

var negativeAnswers = []string{"いいえ", "違います", "ちがいます", "no", "No", "NO"}
var affirmativeAnswers = []string{"はい", "そうです", "お願いします", "OK", "ok", "yes", "Yes", "YES"}

func (s *Service) handleRegistrationAnswer(ctx context.Context, msg *line.InboundMessage, flow *Flow, text string) error {
	answer := strings.TrimSpace(text)

	for _, neg := range negativeAnswers {
		if strings.HasPrefix(answer, neg) {
			if s.state != nil {
				if err := s.state.SetPendingRegistration(ctx, msg.ConversationID, PendingRegistration{AskedAt: time.Now()}); err != nil {
					s.logger.Error("failed to reset pending registration", "conversation_id", msg.ConversationID, "error", err)
				}
			}
			return s.respond(ctx, msg, "かしこまりました。正しい会社名をお送りいただけますでしょうか。")
		}
	}

	companyName := ""
	if flow.Registration != nil && flow.Registration.SuggestedName != "" {
		for _, aff := range affirmativeAnswers {
			if strings.HasPrefix(answer, aff) {
				companyName = flow.Registration.SuggestedName
				break
			}
		}
	}
	if companyName == "" {
		if answer == "" || len([]rune(answer)) > 50 {
			return s.respond(ctx, msg, "恐れ入ります、会社名のみをお送りいただけますでしょうか。")
		}
		companyName = answer
	}

	if err := s.registry.Register(ctx, &clients.Client{
		ConversationID: msg.ConversationID,
		CompanyName:    companyName,
	}); err != nil {
		return fmt.Errorf("intake: registration failed: %w", err)
	}
	if s.state != nil {
		if err := s.state.ClearPendingRegistration(ctx, msg.ConversationID); err != nil {
			s.logger.Error("failed to clear pending registration", "conversation_id", msg.ConversationID, "error", err)
		}
	}

	registrationID := uuid.NewString()[:8]
	if s.registrations != nil {
		if err := s.registrations.Record(ctx, &clients.Registration{
			RegistrationID: registrationID,
			ConversationID: msg.ConversationID,
			CompanyName:    companyName,
		}); err != nil {
			s.logger.Error("failed to record registration", "registration_id", registrationID, "error", err)
		}
	}

	return s.respond(ctx, msg, fmt.Sprintf("「%s」様で登録いたしました。今後ともよろしくお願いいたします！\n(登録ID: %s)", companyName, registrationID))
}

func (s *Service) handleDeadlineCorrection(ctx context.Context, msg *line.InboundMessage, flow *Flow) error {
	if len(flow.Candidates) > 1 {
		var b strings.Builder
		b.WriteString("複数の依頼が見つかりました。どの依頼の納期でしょうか？依頼IDを添えてもう一度お送りください。\n")
		for _, o := range flow.Candidates {
			name := o.ProjectName
			if name == "" {
				name = "(案件名なし)"
			}
			fmt.Fprintf(&b, "・%s %s\n", o.IDPrefix(), name)
		}
		return s.respond(ctx, msg, strings.TrimRight(b.String(), "\n"))
	}

	if flow.Order == nil {
		return s.respond(ctx, msg, "指定された依頼が見つかりませんでした。依頼IDをご確認ください。")
	}

	formatted := FormatDeadline(flow.Deadline)
	if err := s.orders.UpdateDeadline(ctx, flow.Order.OrderID, flow.Order.CreatedAt, formatted); err != nil {
		s.logger.Error("failed to update deadline", "order_id", flow.Order.OrderID, "error", err)
		return s.respond(ctx, msg, "申し訳ございません、納期の更新に失敗しました。もう一度お試しください。")
	}

	if s.calendar != nil {
		company := ""
		if flow.Client != nil {
			company = flow.Client.CompanyName
		}
		if err := s.calendar.CreateDeadlineEvent(ctx, company, flow.Order.IDPrefix(), flow.Deadline, flow.Order.Message); err != nil {
			s.logger.Error("failed to update calendar", "order_id", flow.Order.OrderID, "error", err)
		}
	}

	return s.respond(ctx, msg, fmt.Sprintf("納期を %s に更新しました。(依頼ID: %s)", formatted, flow.Order.IDPrefix()))
}

func (s *Service) handleAddendumAttachment(ctx context.Context, msg *line.InboundMessage, flow *Flow, senderName string) error {
	task := &enrichment.Task{
		Type:           enrichment.TaskProcessAttachments,
		OrderID:        flow.Order.OrderID,
		OrderCreatedAt: flow.Order.CreatedAt,
		FolderID:       flow.Order.FolderID,
		ProjectName:    flow.Order.ProjectName,
		TargetID:       msg.ConversationID,
		TargetIsGroup:  msg.GroupID != "",
		UserName:       senderName,
		Attachments: []enrichment.Attachment{{
			MessageID: msg.MessageID,
			FileName:  msg.FileName,
			FileSize:  msg.FileSize,
		}},
	}
	task.CompanyFolderID = s.ensureCompanyFolder(ctx, flow.Client)
	if task.FolderID == "" {
		task.FolderName = drive.OrderFolderName(flow.Order.CreatedTime(), flow.Order.ProjectName, senderName, flow.Order.IDPrefix())
	}
	if err := s.enqueuer.Enqueue(ctx, task); err != nil {
		s.logger.Error("failed to enqueue attachment task", "order_id", flow.Order.OrderID, "error", err)
		return s.respond(ctx, msg, "申し訳ございません、ファイルの受付に失敗しました。もう一度お送りください。")
	}

	if err := s.orders.AppendNote(ctx, flow.Order.OrderID, flow.Order.CreatedAt, "ファイル追加受付(処理中)"); err != nil {
		s.logger.Error("failed to note attachment addendum", "order_id", flow.Order.OrderID, "error", err)
	}
	return s.respond(ctx, msg, fmt.Sprintf("ファイルを受け付けました。保存処理を行っています。\n(依頼ID: %s)", flow.Order.IDPrefix()))
}

func (s *Service) handleAddendumURL(ctx context.Context, msg *line.InboundMessage, flow *Flow, senderName string) error {
	task := &enrichment.Task{
		Type:           enrichment.TaskProcessURLs,
		OrderID:        flow.Order.OrderID,
		OrderCreatedAt: flow.Order.CreatedAt,
		FolderID:       flow.Order.FolderID,
		ProjectName:    flow.Order.ProjectName,
		URLs:           flow.URLs,
		TargetID:       msg.ConversationID,
		TargetIsGroup:  msg.GroupID != "",
		UserName:       senderName,
	}
	task.CompanyFolderID = s.ensureCompanyFolder(ctx, flow.Client)
	if task.FolderID == "" {
		task.FolderName = drive.OrderFolderName(flow.Order.CreatedTime(), flow.Order.ProjectName, senderName, flow.Order.IDPrefix())
	}
	if err := s.enqueuer.Enqueue(ctx, task); err != nil {
		s.logger.Error("failed to enqueue url task", "order_id", flow.Order.OrderID, "error", err)
		return s.respond(ctx, msg, "申し訳ございません、URLの受付に失敗しました。もう一度お送りください。")
	}

	note := "URL追加受付: " + strings.Join(flow.URLs, " ")
	if err := s.orders.AppendNote(ctx, flow.Order.OrderID, flow.Order.CreatedAt, note); err != nil {
		s.logger.Error("failed to note url addendum", "order_id", flow.Order.OrderID, "error", err)
	}
	return s.respond(ctx, msg, fmt.Sprintf("URLを受け付けました。ダウンロードを開始します。\n(依頼ID: %s)", flow.Order.IDPrefix()))
}

func (s *Service) handleNewOrder(ctx context.Context, msg *line.InboundMessage, flow *Flow, decision FilterDecision, senderName string, now time.Time) error {
	text := decision.Text
	if analysis := s.analyzeAttachment(ctx, msg); analysis != "" {
		text = strings.TrimSpace(text + "\n\n[添付ファイルの内容]\n" + analysis)
	}
	companyName := clients.UnregisteredCompanyName
	companyFolderID := ""
	if flow.Client != nil {
		companyName = flow.Client.CompanyName
		companyFolderID = s.ensureCompanyFolder(ctx, flow.Client)
	}

	order := &orders.Order{
		ConversationID: msg.ConversationID,
		CustomerID:     msg.UserID,
		CustomerName:   senderName,
		Company:        companyName,
		Message:        truncateRunes(text, maxOrderMessageRunes),
		ServiceType:    DetectServiceType(text),
		ProjectName:    s.assistant.ExtractProjectName(ctx, text),
	}
	if flow.HasDeadline {
		order.Deadline = FormatDeadline(flow.Deadline)
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return fmt.Errorf("intake: failed to create order: %w", err)
	}

	folderName := drive.OrderFolderName(order.CreatedTime(), order.ProjectName, senderName, order.IDPrefix())
	s.enqueueOrderTasks(ctx, msg, order, flow, folderName, companyFolderID, senderName)

	if flow.HasDeadline && s.calendar != nil {
		if err := s.calendar.CreateDeadlineEvent(ctx, companyName, order.IDPrefix(), flow.Deadline, order.Message); err != nil {
			s.logger.Error("failed to create calendar event", "order_id", order.OrderID, "error", err)
		}
	}

	summary := s.assistant.Summarize(ctx, text, summaryRunes)
	for _, n := range s.notifiers {
		if err := n.NotifyNewOrder(ctx, notify.NewOrderNotification{
			OrderIDPrefix:  order.IDPrefix(),
			CustomerName:   senderName,
			CompanyName:    companyName,
			Deadline:       order.Deadline,
			Summary:        summary,
			ConversationID: msg.ConversationID,
			Unregistered:   flow.Client == nil,
		}); err != nil {
			s.logger.Error("order notification failed", "order_id", order.OrderID, "error", err)
		}
	}

	draft, err := s.assistant.GenerateReply(ctx, ai.ReplyInput{
		Message:       text,
		RequesterName: senderName,
		OrgName:       companyName,
		OperatorNotes: s.operatorNotes(ctx),
	})
	if err != nil {
		s.logger.Error("failed to draft order reply", "order_id", order.OrderID, "error", err)
		draft = "ご依頼ありがとうございます。内容を確認し、担当者よりご連絡いたします。"
	}

	var footer strings.Builder
	fmt.Fprintf(&footer, "\n\n(依頼ID: %s)", order.IDPrefix())
	if order.Deadline != "" {
		fmt.Fprintf(&footer, "\n納期: %s", order.Deadline)
	}
	draft += footer.String()

	return s.deliver(ctx, msg, flow, decision, draft, order, senderName, now)
}

const maxAnalyzableBytes = 5 << 20

// analyzeAttachment summarizes small images and PDFs inline so the
// first reply can reference what the customer sent. Larger files are
// left to the queued worker.
func (s *Service) analyzeAttachment(ctx context.Context, msg *line.InboundMessage) string {
	if msg.MessageID == "" || msg.FileSize <= 0 || msg.FileSize > maxAnalyzableBytes {
		return ""
	}

	var mimeType string
	switch {
	case msg.MessageType == "image":
		mimeType = "image/jpeg"
	case msg.MessageType == "file" && strings.HasSuffix(strings.ToLower(msg.FileName), ".pdf"):
		mimeType = "application/pdf"
	default:
		return ""
	}

	body, err := s.messenger.GetMessageContent(ctx, msg.MessageID)
	if err != nil {
		s.logger.Error("failed to fetch attachment content", "message_id", msg.MessageID, "error", err)
		return ""
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxAnalyzableBytes+1))
	if err != nil || len(data) > maxAnalyzableBytes {
		return ""
	}
	return s.assistant.AnalyzeContent(ctx, mimeType, data)
}

func (s *Service) enqueueOrderTasks(ctx context.Context, msg *line.InboundMessage, order *orders.Order, flow *Flow, folderName, companyFolderID, senderName string) {
	if s.enqueuer == nil {
		return
	}

	if msg.MessageType != "" && msg.MessageType != "text" {
		task := &enrichment.Task{
			Type:            enrichment.TaskProcessAttachments,
			OrderID:         order.OrderID,
			OrderCreatedAt:  order.CreatedAt,
			FolderName:      folderName,
			ProjectName:     order.ProjectName,
			TargetID:        msg.ConversationID,
			TargetIsGroup:   msg.GroupID != "",
			CompanyFolderID: companyFolderID,
			UserName:        senderName,
			Attachments: []enrichment.Attachment{{
				MessageID: msg.MessageID,
				FileName:  msg.FileName,
				FileSize:  msg.FileSize,
			}},
		}
		if err := s.enqueuer.Enqueue(ctx, task); err != nil {
			s.logger.Error("failed to enqueue attachments", "order_id", order.OrderID, "error", err)
		}
	}

	if len(flow.URLs) > 0 {
		task := &enrichment.Task{
			Type:            enrichment.TaskProcessURLs,
			OrderID:         order.OrderID,
			OrderCreatedAt:  order.CreatedAt,
			FolderName:      folderName,
			ProjectName:     order.ProjectName,
			URLs:            flow.URLs,
			TargetID:        msg.ConversationID,
			TargetIsGroup:   msg.GroupID != "",
			CompanyFolderID: companyFolderID,
			UserName:        senderName,
		}
		if err := s.enqueuer.Enqueue(ctx, task); err != nil {
			s.logger.Error("failed to enqueue urls", "order_id", order.OrderID, "error", err)
		}
	}
}

// operatorNotes loads the active operator memos so drafts follow
// standing instructions. A load failure leaves the draft un-noted.
func (s *Service) operatorNotes(ctx context.Context) []string {
	if s.notes == nil {
		return nil
	}
	notes, err := s.notes.Active(ctx)
	if err != nil {
		s.logger.Error("failed to load operator notes", "error", err)
		return nil
	}
	return approval.Contents(notes)
}

// ensureCompanyFolder returns the client's Drive folder id, creating
// the folder on first use and sharing it with the registered contacts.
func (s *Service) ensureCompanyFolder(ctx context.Context, client *clients.Client) string {
	if client == nil {
		return ""
	}
	if client.DriveFolderID != "" || s.drive == nil {
		return client.DriveFolderID
	}

	folderID, err := s.drive.EnsureFolder(ctx, "", client.CompanyName)
	if err != nil {
		s.logger.Error("failed to create company folder", "company", client.CompanyName, "error", err)
		return ""
	}
	if s.registry != nil {
		if err := s.registry.SetDriveFolder(ctx, client.ConversationID, folderID); err != nil {
			s.logger.Error("failed to record company folder", "conversation_id", client.ConversationID, "error", err)
		}
	}
	for _, contact := range client.Contacts {
		if contact.Email == "" {
			continue
		}
		if err := s.drive.Share(ctx, folderID, contact.Email); err != nil {
			s.logger.Error("failed to share company folder", "email", contact.Email, "error", err)
		}
	}
	client.DriveFolderID = folderID
	return folderID
}

func (s *Service) handlePlainChat(ctx context.Context, msg *line.InboundMessage, flow *Flow, decision FilterDecision, senderName string, now time.Time) error {
	companyName := ""
	if flow.Client != nil {
		companyName = flow.Client.CompanyName
	}

	draft, err := s.assistant.GenerateReply(ctx, ai.ReplyInput{
		Message:       decision.Text,
		RequesterName: senderName,
		OrgName:       companyName,
		OperatorNotes: s.operatorNotes(ctx),
	})
	if err != nil {
		return fmt.Errorf("intake: failed to draft reply: %w", err)
	}
	return s.deliver(ctx, msg, flow, decision, draft, nil, senderName, now)
}

// deliver prepends the once-per-day greeting and hands the draft to the
// approval gate, or to the delayed sender when no gate is configured.
func (s *Service) deliver(ctx context.Context, msg *line.InboundMessage, flow *Flow, decision FilterDecision, draft string, order *orders.Order, senderName string, now time.Time) error {
	if s.state != nil {
		if greet, err := s.state.ShouldGreet(ctx, msg.ConversationID, now); err == nil && greet {
			draft = greeting(flow, senderName) + "\n\n" + draft
		}
	}

	if s.pipeline != nil {
		in := approval.SubmitInput{
			TargetID:        msg.ConversationID,
			TargetIsGroup:   msg.GroupID != "",
			DraftText:       draft,
			RequesterName:   senderName,
			OriginalMessage: decision.Text,
			ViaTrigger:      decision.ViaTrigger,
		}
		if msg.GroupID != "" {
			in.MentionUserID = msg.UserID
		}
		if flow.Client != nil {
			in.CompanyName = flow.Client.CompanyName
		}
		if order != nil {
			in.OrderID = order.OrderID
			in.OrderCreatedAt = order.CreatedAt
			in.Deadline = order.Deadline
		}
		res, err := s.pipeline.Submit(ctx, in)
		if err != nil {
			return fmt.Errorf("intake: failed to submit draft: %w", err)
		}
		if res.SentDirectly {
			s.markAwaiting(ctx, msg.ConversationID, draft)
		}
		return nil
	}

	if err := s.delayed.Queue(ctx, msg.MessageID, msg.ConversationID, draft, s.responseDelay); err != nil {
		return fmt.Errorf("intake: failed to queue delayed reply: %w", err)
	}
	s.markAwaiting(ctx, msg.ConversationID, draft)
	return nil
}

// greeting builds the first-contact-of-the-day salutation: a company
// line for registered clients, the sender's name, then the fixed text.
func greeting(flow *Flow, senderName string) string {
	var b strings.Builder
	if flow != nil && flow.Client != nil && flow.Client.CompanyName != "" && flow.Client.CompanyName != clients.UnregisteredCompanyName {
		b.WriteString(flow.Client.CompanyName)
		b.WriteString("\n")
	}
	if senderName != "" && senderName != defaultSenderName {
		b.WriteString(senderName)
		b.WriteString("様\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(GreetingText)
	return b.String()
}

// respond sends an immediate direct reply, falling back to push when
// the reply token is spent.
func (s *Service) respond(ctx context.Context, msg *line.InboundMessage, text string) error {
	if msg.ReplyToken != "" {
		if err := s.messenger.Reply(ctx, msg.ReplyToken, text); err == nil {
			s.markAwaiting(ctx, msg.ConversationID, text)
			return nil
		}
	}
	if err := s.messenger.Push(ctx, msg.ConversationID, text); err != nil {
		return fmt.Errorf("intake: failed to send reply: %w", err)
	}
	s.markAwaiting(ctx, msg.ConversationID, text)
	return nil
}

func (s *Service) markAwaiting(ctx context.Context, conversationID, text string) {
	if s.state == nil {
		return
	}
	if err := s.state.MarkAwaitingReply(ctx, conversationID, text); err != nil {
		s.logger.Error("failed to mark awaiting reply", "conversation_id", conversationID, "error", err)
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
