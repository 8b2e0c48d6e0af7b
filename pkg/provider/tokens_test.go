package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("1234"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}

func TestContextSizeForModel(t *testing.T) {
	assert.Equal(t, 8192, ContextSizeForModel("gpt-4"))
	assert.Equal(t, 128000, ContextSizeForModel("gpt-4o"))
	// substring match
	assert.Equal(t, 8192, ContextSizeForModel("Mistral-7B-Instruct"))
	// unknown model falls back
	assert.Equal(t, 4096, ContextSizeForModel("some-exotic-model"))
}

func TestTruncateToBudgetKeepsNewestTurns(t *testing.T) {
	turns := []Turn{
		{Role: "user", Content: strings.Repeat("a", 400)},
		{Role: "assistant", Content: strings.Repeat("b", 400)},
		{Role: "user", Content: strings.Repeat("c", 400)},
	}

	// 400 chars is 100 tokens + 20 overhead per turn. The budget below
	// leaves room for two turns after the 100 reserve buffer.
	budget := Budget{ContextSize: 340, MaxResponseTokens: 0}
	kept := TruncateToBudget(turns, "", budget, nil)

	require.Len(t, kept, 2)
	assert.Equal(t, "assistant", kept[0].Role)
	assert.Equal(t, "user", kept[1].Role)
}

func TestTruncateToBudgetReservesSystemPrompt(t *testing.T) {
	turns := []Turn{
		{Role: "user", Content: strings.Repeat("a", 400)},
		{Role: "user", Content: strings.Repeat("b", 400)},
	}

	// without the system prompt both turns fit; with it only one does
	system := strings.Repeat("s", 480)
	budget := Budget{ContextSize: 400, MaxResponseTokens: 0}

	require.Len(t, TruncateToBudget(turns, "", budget, nil), 2)
	require.Len(t, TruncateToBudget(turns, system, budget, nil), 1)
}

func TestTruncateToBudgetTooSmallKeepsLastTurn(t *testing.T) {
	turns := []Turn{
		{Role: "user", Content: "first"},
		{Role: "user", Content: "last"},
	}

	kept := TruncateToBudget(turns, "", Budget{ContextSize: 10, MaxResponseTokens: 100}, nil)
	require.Len(t, kept, 1)
	assert.Equal(t, "last", kept[0].Content)
}

func TestTruncateToBudgetEmpty(t *testing.T) {
	assert.Empty(t, TruncateToBudget(nil, "", Budget{ContextSize: 4096}, nil))
}

func TestTokenCounterFallsBack(t *testing.T) {
	counter := NewTokenCounter("definitely-not-a-model")
	assert.Equal(t, EstimateTokens("hello world!"), counter.Count("hello world!"))
}
