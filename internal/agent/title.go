package agent

import (
	"strings"
	"unicode"
)

const (
	// DefaultConversationTitle marks a conversation whose title has not
	// been derived yet.
	DefaultConversationTitle = "New Conversation"

	titleMaxWords = 6
	titleMaxChars = 60
)

// DeriveTitle builds a conversation title from the first user message: the
// first six words, first letter capitalized, truncated to 60 characters on
// a word boundary where possible. Returns the default title for blank
// input.
func DeriveTitle(firstUserMessage string) string {
	words := strings.Fields(firstUserMessage)
	if len(words) == 0 {
		return DefaultConversationTitle
	}
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	title := strings.Join(words, " ")

	runes := []rune(title)
	runes[0] = unicode.ToUpper(runes[0])
	title = string(runes)

	if len(title) > titleMaxChars {
		cut := title[:titleMaxChars]
		if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
			cut = cut[:idx]
		}
		title = cut
	}
	return title
}
