package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yojigen/ai-secretary/internal/clients"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

var jst = time.FixedZone("JST", 9*60*60)

// pushSender delivers text to a conversation.
type pushSender interface {
	Push(ctx context.Context, to string, texts ...string) error
}

// draftReviser rewrites a draft under an operator instruction.
type draftReviser interface {
	ReviseDraft(ctx context.Context, draft, instruction string, notes []string) (string, error)
}

// nameResolver maps a display name typed by an operator to the user id
// recorded for the target conversation.
type nameResolver interface {
	Resolve(ctx context.Context, conversationID, userName string) (string, error)
}

// Window is a time-of-day range in JST during which trigger-keyword
// replies skip review and send immediately.
type Window struct {
	Start string // "HH:MM", empty disables
	End   string
}

// Contains reports whether now (converted to JST) falls in the window.
// A start later than the end wraps past midnight.
func (w Window) Contains(now time.Time) bool {
	if w.Start == "" || w.End == "" {
		return false
	}
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", w.End)
	if err != nil {
		return false
	}
	local := now.In(jst)
	minute := local.Hour()*60 + local.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	if startMin <= endMin {
		return minute >= startMin && minute < endMin
	}
	return minute >= startMin || minute < endMin
}

// Pipeline is the human approval gate for outbound replies.
type Pipeline struct {
	drafts        *DraftStore
	notes         *NoteStore
	revisions     *RevisionStore
	registry      *clients.Store
	registrations *clients.RegistrationStore
	names         nameResolver
	sender        pushSender
	reviser       draftReviser
	reviewChannel string
	autoSend      Window
	logger        *logging.Logger
}

func NewPipeline(
	drafts *DraftStore,
	notes *NoteStore,
	revisions *RevisionStore,
	registry *clients.Store,
	registrations *clients.RegistrationStore,
	names nameResolver,
	sender pushSender,
	reviser draftReviser,
	reviewChannel string,
	autoSend Window,
	logger *logging.Logger,
) *Pipeline {
	if drafts == nil {
		panic("approval: draft store cannot be nil")
	}
	if sender == nil {
		panic("approval: push sender cannot be nil")
	}
	if reviewChannel == "" {
		panic("approval: review channel cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		drafts:        drafts,
		notes:         notes,
		revisions:     revisions,
		registry:      registry,
		registrations: registrations,
		names:         names,
		sender:        sender,
		reviser:       reviser,
		reviewChannel: reviewChannel,
		autoSend:      autoSend,
		logger:        logger,
	}
}

// SubmitInput carries a drafted reply into the approval gate.
type SubmitInput struct {
	TargetID        string
	TargetIsGroup   bool
	DraftText       string
	RequesterName   string
	CompanyName     string
	MentionUserID   string
	OriginalMessage string
	OrderID         string
	OrderCreatedAt  string
	Deadline        string
	FolderURL       string
	ViaTrigger      bool
}

// SubmitResult reports how a submission was routed.
type SubmitResult struct {
	PendingID    string
	SentDirectly bool
}

// Submit stores a draft and posts it for review. When the auto-send
// window is active and the message carried an explicit trigger keyword,
// the draft is sent immediately with no pending record.
func (p *Pipeline) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if in.TargetID == "" || in.DraftText == "" {
		return nil, errors.New("approval: target id and draft text required")
	}

	if in.ViaTrigger && p.autoSend.Contains(time.Now()) {
		if err := p.sender.Push(ctx, in.TargetID, in.DraftText); err != nil {
			return nil, fmt.Errorf("approval: auto-send failed: %w", err)
		}
		p.logger.Info("draft auto-sent", "target_id", in.TargetID)
		return &SubmitResult{SentDirectly: true}, nil
	}

	draft := &Draft{
		TargetID:        in.TargetID,
		TargetIsGroup:   in.TargetIsGroup,
		ResponseText:    in.DraftText,
		OriginalMessage: in.OriginalMessage,
		CustomerName:    in.RequesterName,
		CompanyName:     in.CompanyName,
		OrderID:         in.OrderID,
		OrderCreatedAt:  in.OrderCreatedAt,
		Deadline:        in.Deadline,
		FolderURL:       in.FolderURL,
	}
	if in.MentionUserID != "" {
		draft.MentionUserID = in.MentionUserID
		draft.MentionName = in.RequesterName
	}
	if err := p.drafts.Create(ctx, draft); err != nil {
		return nil, err
	}

	if err := p.postReview(ctx, draft, "新しい返信案"); err != nil {
		p.logger.Error("failed to post review request", "pending_id", draft.PendingID, "error", err)
	}
	return &SubmitResult{PendingID: draft.PendingID}, nil
}

func (p *Pipeline) postReview(ctx context.Context, draft *Draft, title string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "📨 %s (ID: %s)\n", title, draft.PendingID)
	if draft.CustomerName != "" {
		fmt.Fprintf(&b, "お客様: %s\n", draft.CustomerName)
	}
	if draft.CompanyName != "" {
		fmt.Fprintf(&b, "会社: %s\n", draft.CompanyName)
	}
	if draft.Deadline != "" {
		fmt.Fprintf(&b, "納期: %s\n", draft.Deadline)
	}
	if draft.OriginalMessage != "" {
		preview := truncateRunes(draft.OriginalMessage, maxPreviewRunes)
		b.WriteString("--- 元メッセージ ---\n")
		b.WriteString(preview)
		if preview != draft.OriginalMessage {
			b.WriteString("…(全文はDBを参照)")
		}
		b.WriteString("\n")
	}
	b.WriteString("--- 返信案 ---\n")
	b.WriteString(draft.ResponseText)
	fmt.Fprintf(&b, "\n\n送信 %s ／ 却下 %s\n修正 %s で本文を直接編集", draft.PendingID, draft.PendingID, draft.PendingID)

	return p.sender.Push(ctx, p.reviewChannel, b.String())
}

// Approve sends the draft to its target and marks it approved. A second
// approval of the same id reports not-found.
func (p *Pipeline) Approve(ctx context.Context, pendingID string) (string, error) {
	draft, err := p.drafts.GetActionable(ctx, pendingID)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}

	if err := p.drafts.Transition(ctx, draft, []string{StatusPending, StatusReopened}, StatusApproved); err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}

	text := draft.ResponseText
	if draft.TargetIsGroup && draft.MentionUserID != "" {
		name := draft.MentionName
		if name == "" {
			name = draft.CustomerName
		}
		text = "@" + name + "さん\n" + text
	}
	if err := p.sender.Push(ctx, draft.TargetID, text); err != nil {
		p.logger.Error("approved draft failed to send", "pending_id", pendingID, "error", err)
		return fmt.Sprintf("⚠️ 送信に失敗しました。(ID: %s)\nしばらくしてから再度お試しください。", pendingID), nil
	}

	p.logger.Info("draft approved and sent", "pending_id", pendingID, "target_id", draft.TargetID)
	return fmt.Sprintf("✅ 送信しました。(ID: %s)", pendingID), nil
}

// Reject discards the draft without sending.
func (p *Pipeline) Reject(ctx context.Context, pendingID string) (string, error) {
	draft, err := p.drafts.GetActionable(ctx, pendingID)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}
	if err := p.drafts.Transition(ctx, draft, []string{StatusPending, StatusReopened}, StatusRejected); err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}
	return fmt.Sprintf("🗑️ 却下しました。(ID: %s)", pendingID), nil
}

// Revise rewrites the draft under an operator instruction, records the
// revision for training export, and re-posts for review.
func (p *Pipeline) Revise(ctx context.Context, pendingID, instruction string) (string, error) {
	if p.reviser == nil {
		return "", errors.New("approval: reviser not configured")
	}
	draft, err := p.drafts.GetActionable(ctx, pendingID)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}

	var noteTexts []string
	if p.notes != nil {
		if active, err := p.notes.Active(ctx); err == nil {
			noteTexts = Contents(active)
		}
	}

	revised, err := p.reviser.ReviseDraft(ctx, draft.ResponseText, instruction, noteTexts)
	if err != nil {
		p.logger.Error("revise failed", "pending_id", pendingID, "error", err)
		return fmt.Sprintf("⚠️ 修正に失敗しました。(ID: %s)", pendingID), nil
	}

	original := draft.ResponseText
	if err := p.drafts.UpdateResponseText(ctx, draft, revised); err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}

	if p.revisions != nil {
		if err := p.revisions.Record(ctx, &Revision{
			PendingID:       pendingID,
			CustomerMessage: draft.OriginalMessage,
			OriginalText:    original,
			Instruction:     instruction,
			RevisedText:     revised,
		}); err != nil {
			p.logger.Error("failed to record revision", "pending_id", pendingID, "error", err)
		}
	}

	if err := p.postReview(ctx, draft, "修正後の返信案"); err != nil {
		p.logger.Error("failed to re-post revised draft", "pending_id", pendingID, "error", err)
	}
	return "", nil
}

// EditDirectly replaces the draft body with operator-supplied text. No
// AI call and no revision record.
func (p *Pipeline) EditDirectly(ctx context.Context, pendingID, newText string) (string, error) {
	draft, err := p.drafts.GetActionable(ctx, pendingID)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}
	if err := p.drafts.UpdateResponseText(ctx, draft, newText); err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}
	if err := p.postReview(ctx, draft, "修正後の返信案"); err != nil {
		p.logger.Error("failed to re-post edited draft", "pending_id", pendingID, "error", err)
	}
	return "", nil
}

// Reopen returns an approved draft to review. Valid only from approved.
func (p *Pipeline) Reopen(ctx context.Context, pendingID string) (string, error) {
	draft, err := p.drafts.Get(ctx, pendingID)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}
	if draft.Status != StatusApproved {
		return notFoundReply(pendingID), nil
	}
	if err := p.drafts.Transition(ctx, draft, []string{StatusApproved}, StatusReopened); err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}
	if err := p.postReview(ctx, draft, "再確認の返信案"); err != nil {
		p.logger.Error("failed to re-post reopened draft", "pending_id", pendingID, "error", err)
	}
	return fmt.Sprintf("↩️ 承認を取り消しました。(ID: %s)", pendingID), nil
}

// SetMention records who the approved reply should address. The name is
// resolved to a user id through the target conversation's name mappings.
func (p *Pipeline) SetMention(ctx context.Context, pendingID, userName string) (string, error) {
	if p.names == nil {
		return "", errors.New("approval: name resolver not configured")
	}
	draft, err := p.drafts.GetActionable(ctx, pendingID)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}
	userID, err := p.names.Resolve(ctx, draft.TargetID, userName)
	if err != nil {
		if errors.Is(err, clients.ErrMappingNotFound) {
			return fmt.Sprintf("「%s」さんが見つかりません。(ID: %s)", userName, pendingID), nil
		}
		return "", err
	}
	if err := p.drafts.SetMentionSubject(ctx, draft, userID, userName); err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return notFoundReply(pendingID), nil
		}
		return "", err
	}
	return fmt.Sprintf("📣 宛先を %s さんに設定しました。(ID: %s)", userName, pendingID), nil
}

// CancelRegistration deletes the organization binding created by a
// recent registration and marks its record cancelled.
func (p *Pipeline) CancelRegistration(ctx context.Context, registrationID string) (string, error) {
	if p.registrations == nil || p.registry == nil {
		return "", errors.New("approval: registration stores not configured")
	}
	reg, err := p.registrations.Get(ctx, registrationID)
	if err != nil {
		if errors.Is(err, clients.ErrRegistrationNotFound) {
			return fmt.Sprintf("指定された登録が見つかりません。(ID: %s)", registrationID), nil
		}
		return "", err
	}
	if reg.Status != "active" {
		return fmt.Sprintf("指定された登録が見つかりません。(ID: %s)", registrationID), nil
	}
	if err := p.registry.Delete(ctx, reg.ConversationID); err != nil {
		return "", err
	}
	if err := p.registrations.MarkCancelled(ctx, registrationID); err != nil {
		p.logger.Error("failed to mark registration cancelled", "registration_id", registrationID, "error", err)
	}
	return fmt.Sprintf("🚫 「%s」の登録をキャンセルしました。", reg.CompanyName), nil
}

// HandleCommand interprets review-channel text via the command grammar
// and runs the matching operation. The returned reply, when non-empty,
// goes back to the review channel. handled is false when the text is
// not a command at all.
func (p *Pipeline) HandleCommand(ctx context.Context, text string) (string, bool, error) {
	cmd, usage := ParseCommand(text)
	if cmd == nil {
		if usage != "" {
			return usage, true, nil
		}
		return "", false, nil
	}

	switch cmd.Kind {
	case KindApprove:
		reply, err := p.Approve(ctx, cmd.ID)
		return reply, true, err
	case KindReject:
		reply, err := p.Reject(ctx, cmd.ID)
		return reply, true, err
	case KindEditDirectly:
		reply, err := p.EditDirectly(ctx, cmd.ID, cmd.Text)
		return reply, true, err
	case KindRevise:
		reply, err := p.Revise(ctx, cmd.ID, cmd.Text)
		return reply, true, err
	case KindSetMention:
		reply, err := p.SetMention(ctx, cmd.ID, cmd.Text)
		return reply, true, err
	case KindCancelRegistration:
		reply, err := p.CancelRegistration(ctx, cmd.ID)
		return reply, true, err
	case KindAddNote:
		if p.notes == nil {
			return "", true, errors.New("approval: note store not configured")
		}
		if err := p.notes.Add(ctx, cmd.Text); err != nil {
			return "", true, err
		}
		return "📝 メモを追加しました。", true, nil
	case KindListNotes:
		if p.notes == nil {
			return "", true, errors.New("approval: note store not configured")
		}
		notes, err := p.notes.Active(ctx)
		if err != nil {
			return "", true, err
		}
		return FormatList(notes), true, nil
	case KindDeleteNote:
		if p.notes == nil {
			return "", true, errors.New("approval: note store not configured")
		}
		note, err := p.notes.Delete(ctx, cmd.NoteIndex)
		if err != nil {
			if errors.Is(err, ErrNoteNotFound) {
				return fmt.Sprintf("メモ %d は存在しません。", cmd.NoteIndex), true, nil
			}
			return "", true, err
		}
		return fmt.Sprintf("🗑️ メモを削除しました: %s", note.Content), true, nil
	}
	return "", false, nil
}

func notFoundReply(pendingID string) string {
	return fmt.Sprintf("指定されたIDの返信案が見つかりません。(ID: %s)", pendingID)
}
