package intake

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yojigen/ai-secretary/internal/ai"
	"github.com/yojigen/ai-secretary/internal/approval"
	"github.com/yojigen/ai-secretary/internal/channels/line"
	"github.com/yojigen/ai-secretary/internal/clients"
	"github.com/yojigen/ai-secretary/internal/enrichment"
	"github.com/yojigen/ai-secretary/internal/notify"
	"github.com/yojigen/ai-secretary/internal/orders"
)

type fakeMessenger struct {
	replies  []string
	pushes   []string
	profiles map[string]string
	content  []byte
}

func (f *fakeMessenger) Reply(ctx context.Context, replyToken string, texts ...string) error {
	f.replies = append(f.replies, strings.Join(texts, "\n"))
	return nil
}

func (f *fakeMessenger) Push(ctx context.Context, to string, texts ...string) error {
	f.pushes = append(f.pushes, strings.Join(texts, "\n"))
	return nil
}

func (f *fakeMessenger) GetProfile(ctx context.Context, userID string) (*line.Profile, error) {
	if name, ok := f.profiles[userID]; ok {
		return &line.Profile{UserID: userID, DisplayName: name}, nil
	}
	return nil, errors.New("profile not found")
}

func (f *fakeMessenger) GetMessageContent(ctx context.Context, messageID string) (io.ReadCloser, error) {
	if f.content == nil {
		return nil, errors.New("no content")
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

func (f *fakeMessenger) lastOutbound() string {
	if n := len(f.replies); n > 0 {
		return f.replies[n-1]
	}
	if n := len(f.pushes); n > 0 {
		return f.pushes[n-1]
	}
	return ""
}

type fakeAssistant struct {
	reply     string
	replyErr  error
	analysis  string
	lastInput ai.ReplyInput
}

func (f *fakeAssistant) GenerateReply(ctx context.Context, in ai.ReplyInput) (string, error) {
	f.lastInput = in
	if f.replyErr != nil {
		return "", f.replyErr
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "承知いたしました。確認のうえご連絡いたします。", nil
}

func (f *fakeAssistant) Summarize(ctx context.Context, text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) > maxRunes {
		return string(runes[:maxRunes])
	}
	return text
}

func (f *fakeAssistant) ExtractProjectName(ctx context.Context, text string) string {
	return "夏カタログ"
}

func (f *fakeAssistant) AnalyzeContent(ctx context.Context, mimeType string, data []byte) string {
	return f.analysis
}

type fakeGate struct {
	submitted     []approval.SubmitInput
	sentDirectly  bool
	commandReply  string
	commandTexts  []string
	handleCommand bool
}

func (f *fakeGate) Submit(ctx context.Context, in approval.SubmitInput) (*approval.SubmitResult, error) {
	f.submitted = append(f.submitted, in)
	return &approval.SubmitResult{PendingID: "abcd1234", SentDirectly: f.sentDirectly}, nil
}

func (f *fakeGate) HandleCommand(ctx context.Context, text string) (string, bool, error) {
	f.commandTexts = append(f.commandTexts, text)
	return f.commandReply, f.handleCommand, nil
}

type fakeNotes struct {
	notes []approval.Note
	err   error
}

func (f *fakeNotes) Active(ctx context.Context) ([]approval.Note, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.notes, nil
}

type fakeCompanyDrive struct {
	ensured []string
	shared  []string
}

func (f *fakeCompanyDrive) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	f.ensured = append(f.ensured, parentID+"/"+name)
	return "companyfolder1", nil
}

func (f *fakeCompanyDrive) Share(ctx context.Context, folderID, email string) error {
	f.shared = append(f.shared, folderID+"/"+email)
	return nil
}

type fakeTaskQueue struct {
	tasks []*enrichment.Task
	err   error
}

func (f *fakeTaskQueue) Enqueue(ctx context.Context, task *enrichment.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeRegistrations struct {
	recorded []*clients.Registration
}

func (f *fakeRegistrations) Record(ctx context.Context, reg *clients.Registration) error {
	f.recorded = append(f.recorded, reg)
	return nil
}

type fakeMappings struct {
	saved []string
}

func (f *fakeMappings) Save(ctx context.Context, conversationID, userName, userID string) error {
	f.saved = append(f.saved, conversationID+"/"+userName+"/"+userID)
	return nil
}

type fakeCalendar struct {
	events []string
}

func (f *fakeCalendar) CreateDeadlineEvent(ctx context.Context, companyName, orderIDPrefix string, deadline time.Time, description string) error {
	f.events = append(f.events, companyName+"/"+orderIDPrefix+"/"+FormatDeadline(deadline))
	return nil
}

type fakeNotifier struct {
	notes []notify.NewOrderNotification
}

func (f *fakeNotifier) NotifyNewOrder(ctx context.Context, note notify.NewOrderNotification) error {
	f.notes = append(f.notes, note)
	return nil
}

type fakeDelayedSender struct {
	queued    []string
	cancelled []string
}

func (f *fakeDelayedSender) Queue(ctx context.Context, messageID, targetID, text string, delay time.Duration) error {
	f.queued = append(f.queued, messageID+"="+text)
	return nil
}

func (f *fakeDelayedSender) Cancel(ctx context.Context, messageID string) error {
	f.cancelled = append(f.cancelled, messageID)
	return nil
}

type serviceEnv struct {
	service       *Service
	messenger     *fakeMessenger
	registry      *fakeRegistry
	orders        *fakeOrderStore
	gate          *fakeGate
	tasks         *fakeTaskQueue
	registrations *fakeRegistrations
	calendar      *fakeCalendar
	notifier      *fakeNotifier
	assistant     *fakeAssistant
	notes         *fakeNotes
	drive         *fakeCompanyDrive
	state         *StateStore
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	client := newTestRedis(t)
	state := NewStateStore(client, 10*time.Minute)
	buffers := NewBufferStore(client)

	messenger := &fakeMessenger{profiles: map[string]string{"U1": "田中"}}
	registry := registeredRegistry()
	store := &fakeOrderStore{}
	gate := &fakeGate{handleCommand: true}
	tasks := &fakeTaskQueue{}
	registrations := &fakeRegistrations{}
	calendar := &fakeCalendar{}
	notifier := &fakeNotifier{}
	assistant := &fakeAssistant{}
	notes := &fakeNotes{}
	driveFolders := &fakeCompanyDrive{}

	svc := NewService(ServiceParams{
		Messenger:     messenger,
		Filter:        NewTriggerFilter(buffers, state, nil, nil),
		Router:        NewRouter(registry, state, store, approvalGroup, 30*time.Minute, 60*time.Minute),
		Registry:      registry,
		Registrations: registrations,
		Mappings:      &fakeMappings{},
		State:         state,
		Orders:        store,
		Assistant:     assistant,
		Pipeline:      gate,
		Notes:         notes,
		Enqueuer:      tasks,
		Drive:         driveFolders,
		Calendar:      calendar,
		Notifiers:     []OrderNotifier{notifier},
	})

	return &serviceEnv{
		service:       svc,
		messenger:     messenger,
		registry:      registry,
		orders:        store,
		gate:          gate,
		tasks:         tasks,
		registrations: registrations,
		calendar:      calendar,
		notifier:      notifier,
		assistant:     assistant,
		notes:         notes,
		drive:         driveFolders,
		state:         state,
	}
}

func inbound(text string) *line.InboundMessage {
	return &line.InboundMessage{
		ConversationID: "G1",
		GroupID:        "G1",
		UserID:         "U1",
		ReplyToken:     "rt",
		MessageID:      "m1",
		MessageType:    "text",
		Text:           text,
	}
}

func TestHandleMessageNewOrder(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	text := "@ai 切り抜きをお願いします。納期は12月20日15:00です https://example.com/src.zip"
	require.NoError(t, env.service.HandleMessage(ctx, inbound(text)))

	require.Len(t, env.orders.created, 1)
	order := env.orders.created[0]
	assert.Equal(t, "株式会社スタジオA", order.Company)
	assert.Equal(t, ServiceCutout, order.ServiceType)
	assert.Equal(t, "夏カタログ", order.ProjectName)
	assert.Equal(t, "田中", order.CustomerName)
	assert.NotEmpty(t, order.Deadline)

	require.Len(t, env.tasks.tasks, 1)
	task := env.tasks.tasks[0]
	assert.Equal(t, enrichment.TaskProcessURLs, task.Type)
	assert.Equal(t, []string{"https://example.com/src.zip"}, task.URLs)
	assert.Equal(t, order.OrderID, task.OrderID)

	require.Len(t, env.calendar.events, 1)
	assert.Contains(t, env.calendar.events[0], "株式会社スタジオA")

	require.Len(t, env.notifier.notes, 1)
	assert.Equal(t, "株式会社スタジオA", env.notifier.notes[0].CompanyName)
	assert.False(t, env.notifier.notes[0].Unregistered)

	require.Len(t, env.gate.submitted, 1)
	sub := env.gate.submitted[0]
	assert.True(t, sub.ViaTrigger)
	assert.Equal(t, "田中", sub.RequesterName)
	assert.Equal(t, "U1", sub.MentionUserID)
	assert.Contains(t, sub.DraftText, "(依頼ID: "+order.IDPrefix()+")")
	assert.Contains(t, sub.DraftText, "納期: "+order.Deadline)
}

func TestHandleMessageDraftCarriesOperatorNotes(t *testing.T) {
	env := newServiceEnv(t)
	env.notes.notes = []approval.Note{{Content: "返信は敬語で統一"}}

	require.NoError(t, env.service.HandleMessage(context.Background(), inbound("@ai レタッチをお願いします")))

	require.Len(t, env.gate.submitted, 1)
	assert.Equal(t, []string{"返信は敬語で統一"}, env.assistant.lastInput.OperatorNotes)

	// Plain chat drafting consults the same memos.
	require.NoError(t, env.service.HandleMessage(context.Background(), inbound("@ai こんにちは")))
	assert.Equal(t, []string{"返信は敬語で統一"}, env.assistant.lastInput.OperatorNotes)
}

func TestHandleMessageCreatesCompanyFolder(t *testing.T) {
	env := newServiceEnv(t)
	env.registry.clients["G1"].Contacts = []clients.Contact{{Name: "田中", Email: "tanaka@example.com"}}

	require.NoError(t, env.service.HandleMessage(context.Background(), inbound("@ai 切り抜きをお願いします https://example.com/src.zip")))

	require.Len(t, env.drive.ensured, 1)
	assert.Equal(t, "/株式会社スタジオA", env.drive.ensured[0])
	assert.Equal(t, "companyfolder1", env.registry.folders["G1"])
	assert.Equal(t, []string{"companyfolder1/tanaka@example.com"}, env.drive.shared)

	require.Len(t, env.tasks.tasks, 1)
	assert.Equal(t, "companyfolder1", env.tasks.tasks[0].CompanyFolderID)
}

func TestHandleMessageReusesCompanyFolder(t *testing.T) {
	env := newServiceEnv(t)
	env.registry.clients["G1"].DriveFolderID = "existingfolder"

	require.NoError(t, env.service.HandleMessage(context.Background(), inbound("@ai 切り抜きをお願いします https://example.com/src.zip")))

	assert.Empty(t, env.drive.ensured)
	require.Len(t, env.tasks.tasks, 1)
	assert.Equal(t, "existingfolder", env.tasks.tasks[0].CompanyFolderID)
}

func TestHandleMessageFirstContactPrependsGreeting(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	require.NoError(t, env.service.HandleMessage(ctx, inbound("@ai レタッチをお願いします")))

	require.Len(t, env.gate.submitted, 1)
	assert.True(t, strings.HasPrefix(env.gate.submitted[0].DraftText, "株式会社スタジオA\n田中様\n\n"+GreetingText))

	// Same day, second contact: no greeting.
	require.NoError(t, env.service.HandleMessage(ctx, inbound("@ai 加工もお願いします")))
	require.Len(t, env.gate.submitted, 2)
	assert.False(t, strings.Contains(env.gate.submitted[1].DraftText, GreetingText))
}

func TestHandleMessageOperatorCommand(t *testing.T) {
	env := newServiceEnv(t)
	env.gate.commandReply = "✅ 送信しました。(ID: abcd1234)"

	msg := inbound("送信 abcd1234")
	msg.ConversationID = approvalGroup
	msg.GroupID = approvalGroup

	require.NoError(t, env.service.HandleMessage(context.Background(), msg))

	require.Len(t, env.gate.commandTexts, 1)
	assert.Equal(t, "送信 abcd1234", env.gate.commandTexts[0])
	assert.Equal(t, "✅ 送信しました。(ID: abcd1234)", env.messenger.lastOutbound())
}

func TestHandleMessageRegistrationDialogue(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	msg := inbound("@ai スタジオBの田中です。レタッチをお願いします")
	msg.ConversationID = "G2"
	msg.GroupID = "G2"

	require.NoError(t, env.service.HandleMessage(ctx, msg))
	assert.Contains(t, env.messenger.lastOutbound(), "会社名")
	assert.Empty(t, env.orders.created)

	answer := inbound("株式会社スタジオB")
	answer.ConversationID = "G2"
	answer.GroupID = "G2"
	answer.Text = "@ai 株式会社スタジオB"

	require.NoError(t, env.service.HandleMessage(ctx, answer))

	registered, err := env.registry.Get(ctx, "G2")
	require.NoError(t, err)
	assert.Equal(t, "株式会社スタジオB", registered.CompanyName)

	require.Len(t, env.registrations.recorded, 1)
	reg := env.registrations.recorded[0]
	assert.Len(t, reg.RegistrationID, 8)
	assert.Equal(t, "G2", reg.ConversationID)
	assert.Contains(t, env.messenger.lastOutbound(), "株式会社スタジオB")
	assert.Contains(t, env.messenger.lastOutbound(), reg.RegistrationID)

	// Dialogue flag is cleared.
	pending, err := env.state.PendingRegistration(ctx, "G2")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestHandleMessageRegistrationSuggestionAccepted(t *testing.T) {
	env := newServiceEnv(t)
	env.registry.similar = "株式会社スタジオC"
	ctx := context.Background()

	msg := inbound("@ai スタジオCの佐藤です")
	msg.ConversationID = "G3"
	msg.GroupID = "G3"
	require.NoError(t, env.service.HandleMessage(ctx, msg))
	assert.Contains(t, env.messenger.lastOutbound(), "株式会社スタジオC")

	yes := inbound("@ai はい")
	yes.ConversationID = "G3"
	yes.GroupID = "G3"
	require.NoError(t, env.service.HandleMessage(ctx, yes))

	registered, err := env.registry.Get(ctx, "G3")
	require.NoError(t, err)
	assert.Equal(t, "株式会社スタジオC", registered.CompanyName)
}

func TestHandleMessageDeadlineCorrection(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.recent = []orders.Order{{
		OrderID:   "dd67008b1234",
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}}

	require.NoError(t, env.service.HandleMessage(context.Background(), inbound("@ai 納期を12月25日に変更でお願いします")))

	require.Len(t, env.orders.deadlineUpdates, 1)
	assert.Contains(t, env.orders.deadlineUpdates[0], "dd67008b1234=")
	assert.Contains(t, env.messenger.lastOutbound(), "納期を")
	assert.Contains(t, env.messenger.lastOutbound(), "dd67008b")
	require.Len(t, env.calendar.events, 1)

	// No draft goes through the approval gate for corrections.
	assert.Empty(t, env.gate.submitted)
}

func TestHandleMessageAmbiguousCorrectionAsksBack(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.recent = []orders.Order{
		{OrderID: "dd67008b1234", ProjectName: "夏カタログ"},
		{OrderID: "aa11223344bb", ProjectName: "秋広告"},
	}

	require.NoError(t, env.service.HandleMessage(context.Background(), inbound("@ai 納期を12月25日に変更でお願いします")))

	assert.Empty(t, env.orders.deadlineUpdates)
	out := env.messenger.lastOutbound()
	assert.Contains(t, out, "dd67008b")
	assert.Contains(t, out, "aa112233")
	assert.Contains(t, out, "夏カタログ")
}

func TestHandleMessageAttachmentAddendum(t *testing.T) {
	env := newServiceEnv(t)
	env.orders.recent = []orders.Order{{
		OrderID:   "dd67008b1234",
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}}

	msg := inbound("@ai 追加です")
	msg.MessageType = "image"
	msg.FileSize = 1024

	require.NoError(t, env.service.HandleMessage(context.Background(), msg))

	require.Len(t, env.tasks.tasks, 1)
	task := env.tasks.tasks[0]
	assert.Equal(t, enrichment.TaskProcessAttachments, task.Type)
	assert.Equal(t, "dd67008b1234", task.OrderID)
	require.Len(t, task.Attachments, 1)
	assert.Equal(t, "m1", task.Attachments[0].MessageID)

	assert.Contains(t, env.messenger.lastOutbound(), "(依頼ID: dd67008b)")
	require.Len(t, env.orders.notes, 1)
}

func TestHandleMessageGroupWithoutTriggerIsSilent(t *testing.T) {
	env := newServiceEnv(t)

	require.NoError(t, env.service.HandleMessage(context.Background(), inbound("昼ごはんどうしますか")))

	assert.Empty(t, env.messenger.replies)
	assert.Empty(t, env.messenger.pushes)
	assert.Empty(t, env.gate.submitted)
	assert.Empty(t, env.orders.created)
}

func TestDeliverFallsBackToDelayedSender(t *testing.T) {
	client := newTestRedis(t)
	state := NewStateStore(client, 10*time.Minute)
	messenger := &fakeMessenger{profiles: map[string]string{"U1": "田中"}}
	registry := registeredRegistry()
	store := &fakeOrderStore{}
	delayed := &fakeDelayedSender{}

	svc := NewService(ServiceParams{
		Messenger:     messenger,
		Filter:        NewTriggerFilter(NewBufferStore(client), state, nil, nil),
		Router:        NewRouter(registry, state, store, approvalGroup, 30*time.Minute, 60*time.Minute),
		Registry:      registry,
		State:         state,
		Orders:        store,
		Assistant:     &fakeAssistant{reply: "かしこまりました。"},
		Delayed:       delayed,
		ResponseDelay: 2 * time.Minute,
	})

	require.NoError(t, svc.HandleMessage(context.Background(), inbound("@ai こんにちは")))

	require.Len(t, delayed.queued, 1)
	assert.Contains(t, delayed.queued[0], "m1=")

	require.NoError(t, svc.HandleUnsend(context.Background(), "m1"))
	assert.Equal(t, []string{"m1"}, delayed.cancelled)
}

func TestHandleMessageAnalyzesSmallAttachment(t *testing.T) {
	env := newServiceEnv(t)
	env.messenger.content = []byte("jpegdata")

	assistant := &fakeAssistant{analysis: "商品写真2点、背景は白"}
	env.service.assistant = assistant

	msg := inbound("@ai この写真の切り抜きをお願いします")
	msg.MessageType = "image"
	msg.FileSize = 2048

	require.NoError(t, env.service.HandleMessage(context.Background(), msg))

	require.Len(t, env.orders.created, 1)
	assert.Contains(t, env.orders.created[0].Message, "商品写真2点、背景は白")
}
