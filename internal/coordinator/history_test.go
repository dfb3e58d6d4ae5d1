package coordinator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chatcore/internal/agent"
)

func TestTruncateByCountPreservesSystemMessages(t *testing.T) {
	messages := []agent.HistoryMessage{
		{Role: "system", Content: "you are a helpful assistant"},
	}
	for i := 0; i < 40; i++ {
		messages = append(messages, agent.HistoryMessage{Role: "user", Content: "turn"})
	}

	out := truncateByCount(messages, 10)

	require.Len(t, out, 10)
	assert.Equal(t, "system", out[0].Role)
	for _, m := range out[1:] {
		assert.Equal(t, "user", m.Role)
	}
}

func TestTruncateByCountNoOpUnderLimit(t *testing.T) {
	messages := []agent.HistoryMessage{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	}
	out := truncateByCount(messages, 10)
	assert.Equal(t, messages, out)
}

func TestTruncateByTokensDropsOldestNonSystemFirst(t *testing.T) {
	long := strings.Repeat("word ", 2000)
	messages := []agent.HistoryMessage{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: long},
		{Role: "assistant", Content: "short reply"},
	}

	out := truncateByTokens(messages, 100)

	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "short reply", out[1].Content)
}

func TestPrepareHistoryComposesBothLimits(t *testing.T) {
	messages := []agent.HistoryMessage{{Role: "system", Content: "rules"}}
	for i := 0; i < 50; i++ {
		messages = append(messages, agent.HistoryMessage{Role: "user", Content: "hi"})
	}

	out := prepareHistory(messages)
	assert.LessOrEqual(t, len(out), maxHistoryMessages)
	assert.Equal(t, "system", out[0].Role)
}

func TestInferTitleCollapsesWhitespaceAndTruncates(t *testing.T) {
	title := inferTitle("  hello   there,\n  world  ")
	assert.Equal(t, "hello there, world", title)

	long := strings.Repeat("x", 200)
	assert.Len(t, inferTitle(long), 80)
}

func TestEstimateTokensGrowsWithWordsAndPunctuation(t *testing.T) {
	base := estimateTokens("hello world")
	withPunct := estimateTokens("hello, world!")
	assert.Greater(t, withPunct, base)
}
