// Package token counts prompt tokens with the cl100k_base tiktoken encoding,
// degrading to a character heuristic when the encoding cannot be loaded.
package token

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"orchid/internal/engine/ports"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func load() *tiktoken.Tiktoken {
	once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	return encoding
}

// Count returns the token count of one text fragment.
func Count(text string) int {
	if enc := load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimate(text)
}

// perMessageOverhead covers the role and separator tokens the chat format
// adds around each message.
const perMessageOverhead = 4

// CountMessages returns the approximate token footprint of a conversation.
func CountMessages(messages []ports.Message) int {
	total := 0
	for _, msg := range messages {
		total += Count(msg.Content) + perMessageOverhead
	}
	return total
}

// TrimMessages drops the oldest non-system messages until the conversation
// fits budget. The system message and the most recent message always survive.
func TrimMessages(messages []ports.Message, budget int) []ports.Message {
	if budget <= 0 || CountMessages(messages) <= budget {
		return messages
	}

	var system []ports.Message
	rest := messages
	if len(messages) > 0 && messages[0].Role == "system" {
		system = messages[:1]
		rest = messages[1:]
	}

	for len(rest) > 1 {
		trimmed := append(append([]ports.Message{}, system...), rest...)
		if CountMessages(trimmed) <= budget {
			return trimmed
		}
		rest = rest[1:]
	}
	return append(append([]ports.Message{}, system...), rest...)
}

// estimate is the fallback heuristic: max(runes/4, words), never zero for
// non-empty text.
func estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	n := runes / 4
	if n < words {
		n = words
	}
	if n == 0 {
		n = 1
	}
	return n
}
