package approval

import (
	"strconv"
	"strings"
)

// CommandKind enumerates the operator commands accepted in the review
// channel.
type CommandKind int

const (
	KindApprove CommandKind = iota
	KindReject
	KindEditDirectly
	KindRevise
	KindCancelRegistration
	KindSetMention
	KindAddNote
	KindListNotes
	KindDeleteNote
)

// Command is a parsed operator command.
type Command struct {
	Kind      CommandKind
	ID        string
	Text      string
	NoteIndex int
}

const (
	usageEdit       = "使い方: 修正 <ID>\n<新しい本文>"
	usageRevise     = "使い方: プロンプト修正 <ID>：<修正指示>"
	usageApprove    = "使い方: 送信 <ID>"
	usageReject     = "使い方: 却下 <ID>"
	usageCancelReg  = "使い方: 登録キャンセル <ID>"
	usageMention    = "使い方: 宛先 <ID> <名前>"
	usageDeleteNote = "使い方: メモ削除 <番号>"
)

var leadingBrackets = "「」『』【】［］()（）[]"

// ParseCommand interprets review-channel text. It returns the parsed
// command, or a usage hint when a known verb is malformed. Both nil and
// empty means the text is not a command and should be ignored.
func ParseCommand(text string) (*Command, string) {
	text = strings.TrimSpace(text)
	text = strings.TrimLeft(text, leadingBrackets)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ""
	}

	head := text
	var body string
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		head = strings.TrimSpace(text[:i])
		body = strings.TrimSpace(text[i+1:])
	}
	head = normalizeSpaces(head)

	switch {
	case head == "メモ一覧":
		return &Command{Kind: KindListNotes}, ""

	case strings.HasPrefix(head, "メモ削除"):
		arg := strings.TrimSpace(strings.TrimPrefix(head, "メモ削除"))
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return nil, usageDeleteNote
		}
		return &Command{Kind: KindDeleteNote, NoteIndex: n}, ""

	case strings.HasPrefix(head, "メモ"):
		content := strings.TrimSpace(strings.TrimPrefix(head, "メモ"))
		if body != "" {
			if content != "" {
				content += "\n"
			}
			content += body
		}
		if content == "" {
			return nil, ""
		}
		return &Command{Kind: KindAddNote, Text: content}, ""

	case strings.HasPrefix(head, "送信"):
		id := strings.TrimSpace(strings.TrimPrefix(head, "送信"))
		if id == "" {
			return nil, usageApprove
		}
		return &Command{Kind: KindApprove, ID: id}, ""

	case strings.HasPrefix(head, "却下"):
		id := strings.TrimSpace(strings.TrimPrefix(head, "却下"))
		if id == "" {
			return nil, usageReject
		}
		return &Command{Kind: KindReject, ID: id}, ""

	case strings.HasPrefix(head, "宛先"):
		rest := strings.TrimSpace(strings.TrimPrefix(head, "宛先"))
		id, name, ok := strings.Cut(rest, " ")
		if !ok || id == "" || strings.TrimSpace(name) == "" {
			return nil, usageMention
		}
		return &Command{Kind: KindSetMention, ID: id, Text: strings.TrimSpace(name)}, ""

	case strings.HasPrefix(head, "登録キャンセル"):
		id := strings.TrimSpace(strings.TrimPrefix(head, "登録キャンセル"))
		if id == "" {
			return nil, usageCancelReg
		}
		return &Command{Kind: KindCancelRegistration, ID: id}, ""

	case strings.HasPrefix(head, "プロンプト修正"):
		rest := strings.TrimSpace(strings.TrimPrefix(head, "プロンプト修正"))
		id, instruction, ok := splitColon(rest)
		if !ok || id == "" || instruction == "" {
			return nil, usageRevise
		}
		return &Command{Kind: KindRevise, ID: id, Text: instruction}, ""

	case strings.HasPrefix(head, "修正"):
		id := strings.TrimSpace(strings.TrimPrefix(head, "修正"))
		if id == "" || body == "" {
			return nil, usageEdit
		}
		return &Command{Kind: KindEditDirectly, ID: id, Text: body}, ""
	}

	return nil, ""
}

// splitColon splits on the first fullwidth or halfwidth colon.
func splitColon(s string) (string, string, bool) {
	for i, r := range s {
		if r == '：' || r == ':' {
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+len(string(r)):]), true
		}
	}
	return "", "", false
}

func normalizeSpaces(s string) string {
	s = strings.ReplaceAll(s, "　", " ")
	return strings.Join(strings.Fields(s), " ")
}
