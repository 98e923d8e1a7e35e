package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yojigen/ai-secretary/pkg/logging"
)

const systemPrompt = `あなたは合同会社四次元のAI秘書です。
四次元は写真のレタッチ・切り抜き・合成などの画像加工を請け負う会社です。
クライアントからの依頼やお問い合わせに、丁寧なビジネス日本語で簡潔に応答してください。
納期や作業内容の確認など、必要な情報があれば質問してください。
絵文字は使わないでください。`

const defaultMaxTokens = 1024

// ContentAnalyzer describes multimodal analysis of small binary payloads.
// GeminiClient satisfies this; the Bedrock fallback intentionally does not,
// so content analysis is skipped when Gemini is down.
type ContentAnalyzer interface {
	AnalyzeContent(ctx context.Context, prompt, mimeType string, data []byte) (string, error)
}

// Assistant wraps an LLMClient with the prompts this system actually uses:
// drafting customer replies, rewriting drafts under operator instructions,
// summarizing, extracting project names, and yes/no classification.
type Assistant struct {
	llm      LLMClient
	analyzer ContentAnalyzer
	timeout  time.Duration
	logger   *logging.Logger
}

// NewAssistant creates an Assistant. analyzer may be nil.
func NewAssistant(llm LLMClient, analyzer ContentAnalyzer, timeout time.Duration, logger *logging.Logger) *Assistant {
	if llm == nil {
		panic("ai: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &Assistant{llm: llm, analyzer: analyzer, timeout: timeout, logger: logger}
}

// ReplyInput carries everything the draft prompt needs.
type ReplyInput struct {
	Message       string
	RequesterName string
	OrgName       string
	History       []ChatMessage
	OperatorNotes []string
}

// GenerateReply drafts a customer-facing reply to the given message.
func (a *Assistant) GenerateReply(ctx context.Context, in ReplyInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	system := []string{systemPrompt}
	if len(in.OperatorNotes) > 0 {
		system = append(system, "社内メモ（応答の参考にすること）:\n- "+strings.Join(in.OperatorNotes, "\n- "))
	}
	if in.OrgName != "" {
		system = append(system, fmt.Sprintf("相手は %s の %s さんです。", in.OrgName, in.RequesterName))
	}

	messages := append([]ChatMessage{}, in.History...)
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: in.Message})

	resp, err := a.llm.Complete(ctx, LLMRequest{
		System:      system,
		Messages:    messages,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("ai: generate reply: %w", err)
	}
	return resp.Text, nil
}

// ReviseDraft rewrites a pending draft under an operator instruction.
func (a *Assistant) ReviseDraft(ctx context.Context, draft, instruction string, notes []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	system := []string{systemPrompt,
		"以下は送信前のドラフトです。指示に従って書き直し、修正後の本文のみを出力してください。"}
	if len(notes) > 0 {
		system = append(system, "社内メモ:\n- "+strings.Join(notes, "\n- "))
	}

	prompt := fmt.Sprintf("ドラフト:\n%s\n\n修正指示:\n%s", draft, instruction)
	resp, err := a.llm.Complete(ctx, LLMRequest{
		System:      system,
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("ai: revise draft: %w", err)
	}
	return resp.Text, nil
}

// Summarize condenses text to at most maxRunes runes. On any failure it
// falls back to a plain truncation so callers always get something usable.
func (a *Assistant) Summarize(ctx context.Context, text string, maxRunes int) string {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := fmt.Sprintf("次のメッセージを%d文字以内で要約してください。要約のみを出力してください。\n\n%s", maxRunes, text)
	resp, err := a.llm.Complete(ctx, LLMRequest{
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		if err != nil {
			a.logger.Warn("summarize failed, using truncation", "error", err)
		}
		return truncateRunes(text, maxRunes)
	}
	return truncateRunes(resp.Text, maxRunes)
}

// ExtractProjectName pulls a short project/shoot name out of a request
// message. Returns "" when nothing is extractable.
func (a *Assistant) ExtractProjectName(ctx context.Context, text string) string {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := "次の依頼メッセージから案件名（撮影名・商品名など）を15文字以内で抽出してください。" +
		"抽出できない場合は「なし」とだけ出力してください。\n\n" + text
	resp, err := a.llm.Complete(ctx, LLMRequest{
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
		MaxTokens:   64,
		Temperature: 0.2,
	})
	if err != nil {
		a.logger.Warn("project name extraction failed", "error", err)
		return ""
	}
	name := strings.TrimSpace(resp.Text)
	if name == "" || name == "なし" {
		return ""
	}
	return truncateRunes(name, 30)
}

// ClassifyYesNo asks a yes/no question about a message. Fails open: any
// error or unparseable answer returns true so a customer message is never
// silently dropped.
func (a *Assistant) ClassifyYesNo(ctx context.Context, question string) bool {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.llm.Complete(ctx, LLMRequest{
		Messages: []ChatMessage{{
			Role:    ChatRoleUser,
			Content: question + "\n\n「はい」または「いいえ」のみで答えてください。",
		}},
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		a.logger.Warn("yes/no classification failed, defaulting to yes", "error", err)
		return true
	}

	answer := strings.TrimSpace(resp.Text)
	switch {
	case strings.HasPrefix(answer, "いいえ"), strings.HasPrefix(strings.ToLower(answer), "no"):
		return false
	case strings.HasPrefix(answer, "はい"), strings.HasPrefix(strings.ToLower(answer), "yes"):
		return true
	default:
		return true
	}
}

// AnalyzeContent describes a small image or PDF payload. Returns "" when no
// analyzer is configured or analysis fails.
func (a *Assistant) AnalyzeContent(ctx context.Context, mimeType string, data []byte) string {
	if a.analyzer == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.analyzer.AnalyzeContent(ctx,
		"この画像・資料の内容を1〜2文の日本語で説明してください。", mimeType, data)
	if err != nil {
		a.logger.Warn("content analysis failed", "error", err, "mime_type", mimeType)
		return ""
	}
	return strings.TrimSpace(out)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
