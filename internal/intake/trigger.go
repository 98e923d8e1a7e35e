package intake

import "strings"

// Trigger tokens that mark a group message as addressed to the assistant.
// Both halfwidth and fullwidth at-signs appear in the wild.
var triggerTokens = []string{"@ai", "@AI", "@依頼", "＠ai", "＠AI", "＠依頼"}

// ContainsTrigger reports whether text carries any trigger token.
func ContainsTrigger(text string) bool {
	for _, token := range triggerTokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// StripTriggers removes all trigger tokens from text.
func StripTriggers(text string) string {
	for _, token := range triggerTokens {
		text = strings.ReplaceAll(text, token, "")
	}
	return strings.TrimSpace(text)
}
