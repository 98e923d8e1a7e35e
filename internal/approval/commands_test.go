package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandApprove(t *testing.T) {
	cmd, usage := ParseCommand("送信 abcd1234")
	require.NotNil(t, cmd)
	assert.Empty(t, usage)
	assert.Equal(t, KindApprove, cmd.Kind)
	assert.Equal(t, "abcd1234", cmd.ID)
}

func TestParseCommandStripsLeadingBrackets(t *testing.T) {
	cmd, _ := ParseCommand("【送信 abcd1234")
	require.NotNil(t, cmd)
	assert.Equal(t, KindApprove, cmd.Kind)
	assert.Equal(t, "abcd1234", cmd.ID)
}

func TestParseCommandFullwidthSpace(t *testing.T) {
	cmd, _ := ParseCommand("却下　abcd1234")
	require.NotNil(t, cmd)
	assert.Equal(t, KindReject, cmd.Kind)
	assert.Equal(t, "abcd1234", cmd.ID)
}

func TestParseCommandEditDirectly(t *testing.T) {
	cmd, usage := ParseCommand("修正 abcd1234\nこちらが新しい本文です。\n二行目。")
	require.NotNil(t, cmd)
	assert.Empty(t, usage)
	assert.Equal(t, KindEditDirectly, cmd.Kind)
	assert.Equal(t, "abcd1234", cmd.ID)
	assert.Equal(t, "こちらが新しい本文です。\n二行目。", cmd.Text)
}

func TestParseCommandEditWithoutBodyHints(t *testing.T) {
	cmd, usage := ParseCommand("修正 abcd1234")
	assert.Nil(t, cmd)
	assert.Equal(t, usageEdit, usage)
}

func TestParseCommandRevise(t *testing.T) {
	for _, text := range []string{
		"プロンプト修正 abcd1234：もっと丁寧に",
		"プロンプト修正 abcd1234:もっと丁寧に",
	} {
		cmd, usage := ParseCommand(text)
		require.NotNil(t, cmd, text)
		assert.Empty(t, usage)
		assert.Equal(t, KindRevise, cmd.Kind)
		assert.Equal(t, "abcd1234", cmd.ID)
		assert.Equal(t, "もっと丁寧に", cmd.Text)
	}
}

func TestParseCommandReviseWithoutColonHints(t *testing.T) {
	cmd, usage := ParseCommand("プロンプト修正 abcd1234 もっと丁寧に")
	assert.Nil(t, cmd)
	assert.Equal(t, usageRevise, usage)
}

func TestParseCommandCancelRegistration(t *testing.T) {
	cmd, _ := ParseCommand("登録キャンセル wxyz9876")
	require.NotNil(t, cmd)
	assert.Equal(t, KindCancelRegistration, cmd.Kind)
	assert.Equal(t, "wxyz9876", cmd.ID)
}

func TestParseCommandSetMention(t *testing.T) {
	cmd, usage := ParseCommand("宛先 abcd1234 佐藤")
	require.NotNil(t, cmd)
	assert.Empty(t, usage)
	assert.Equal(t, KindSetMention, cmd.Kind)
	assert.Equal(t, "abcd1234", cmd.ID)
	assert.Equal(t, "佐藤", cmd.Text)
}

func TestParseCommandSetMentionWithoutNameHints(t *testing.T) {
	cmd, usage := ParseCommand("宛先 abcd1234")
	assert.Nil(t, cmd)
	assert.Equal(t, usageMention, usage)
}

func TestParseCommandNotes(t *testing.T) {
	cmd, _ := ParseCommand("メモ 返信は敬語で統一")
	require.NotNil(t, cmd)
	assert.Equal(t, KindAddNote, cmd.Kind)
	assert.Equal(t, "返信は敬語で統一", cmd.Text)

	cmd, _ = ParseCommand("メモ一覧")
	require.NotNil(t, cmd)
	assert.Equal(t, KindListNotes, cmd.Kind)

	cmd, _ = ParseCommand("メモ削除 2")
	require.NotNil(t, cmd)
	assert.Equal(t, KindDeleteNote, cmd.Kind)
	assert.Equal(t, 2, cmd.NoteIndex)
}

func TestParseCommandDeleteNoteInvalidIndex(t *testing.T) {
	cmd, usage := ParseCommand("メモ削除 abc")
	assert.Nil(t, cmd)
	assert.Equal(t, usageDeleteNote, usage)
}

func TestParseCommandUnknownIgnored(t *testing.T) {
	for _, text := range []string{
		"おはようございます",
		"了解です",
		"",
	} {
		cmd, usage := ParseCommand(text)
		assert.Nil(t, cmd, text)
		assert.Empty(t, usage, text)
	}
}
