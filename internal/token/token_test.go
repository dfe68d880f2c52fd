package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchid/internal/engine/ports"
)

func TestCountIsPositiveForText(t *testing.T) {
	assert.Zero(t, Count(""))
	assert.Positive(t, Count("hello"))
	assert.Greater(t, Count("a considerably longer sentence with many words in it"), Count("hi"))
}

func TestCountMessagesIncludesOverhead(t *testing.T) {
	messages := []ports.Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "what is the weather"},
	}
	total := CountMessages(messages)
	assert.GreaterOrEqual(t, total, Count("be helpful")+Count("what is the weather")+2*perMessageOverhead)
}

func TestTrimMessagesNoopUnderBudget(t *testing.T) {
	messages := []ports.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
	}
	assert.Equal(t, messages, TrimMessages(messages, 1<<20))
	assert.Equal(t, messages, TrimMessages(messages, 0))
	assert.Equal(t, messages, TrimMessages(messages, -1))
}

func TestTrimMessagesKeepsSystemAndLatest(t *testing.T) {
	long := func(n int) string {
		s := ""
		for i := 0; i < n; i++ {
			s += "lorem ipsum dolor sit amet "
		}
		return s
	}
	messages := []ports.Message{
		{Role: "system", Content: "you are a planner"},
		{Role: "user", Content: long(40)},
		{Role: "assistant", Content: long(40)},
		{Role: "user", Content: long(40)},
		{Role: "user", Content: "latest question"},
	}

	budget := CountMessages(messages[:1]) + CountMessages(messages[len(messages)-1:]) + perMessageOverhead
	trimmed := TrimMessages(messages, budget)

	require.NotEmpty(t, trimmed)
	assert.Equal(t, "system", trimmed[0].Role)
	assert.Equal(t, "you are a planner", trimmed[0].Content)
	assert.Equal(t, "latest question", trimmed[len(trimmed)-1].Content)
	assert.Less(t, len(trimmed), len(messages))
}

func TestTrimMessagesWithoutSystemKeepsLatest(t *testing.T) {
	messages := []ports.Message{
		{Role: "user", Content: "first turn that is reasonably long so it costs tokens"},
		{Role: "assistant", Content: "second turn that is also reasonably long in content"},
		{Role: "user", Content: "final"},
	}
	trimmed := TrimMessages(messages, CountMessages(messages[2:])+perMessageOverhead)
	require.Len(t, trimmed, 1)
	assert.Equal(t, "final", trimmed[0].Content)
}

func TestEstimateFallback(t *testing.T) {
	assert.Zero(t, estimate(""))
	assert.Zero(t, estimate("   \n\t"))
	assert.Equal(t, 1, estimate("x"))
	// Word count dominates for short words.
	assert.GreaterOrEqual(t, estimate("a b c d e f"), 6)
	// Rune count dominates for one long token.
	assert.GreaterOrEqual(t, estimate("abcdefghijklmnopqrstuvwxyz"), 6)
}
