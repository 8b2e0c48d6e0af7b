package provider

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a tiktoken codec when one resolves for the
// model, and falls back to a length estimate otherwise. The estimate
// (1 token for 4 characters) matches what most chat models average out to.
type TokenCounter struct {
	codec tokenizer.Codec
}

func NewTokenCounter(model string) *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		log.Debug().Str("model", model).Msg("no tokenizer codec for model, using length estimate")
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

func (tc *TokenCounter) Count(text string) int {
	if tc.codec != nil {
		ids, _, err := tc.codec.Encode(text)
		if err == nil {
			return len(ids)
		}
		log.Warn().Err(err).Msg("tokenizer encode failed, using length estimate")
	}
	return EstimateTokens(text)
}

// EstimateTokens approximates the token count as len/4.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// modelContextDefaults maps known model names to their context window size.
var modelContextDefaults = map[string]int{
	"gpt-3.5-turbo":     4096,
	"gpt-3.5-turbo-16k": 16384,
	"gpt-4":             8192,
	"gpt-4-32k":         32768,
	"gpt-4-turbo":       128000,
	"gpt-4o":            128000,

	"claude-3-haiku-20240307":    200000,
	"claude-3-sonnet-20240229":   200000,
	"claude-3-opus-20240229":     200000,
	"claude-3-5-sonnet-20241022": 200000,

	"gemini-pro":       32768,
	"gemini-1.5-pro":   1000000,
	"gemini-1.5-flash": 1000000,

	"deepseek-chat":  32768,
	"deepseek-coder": 16384,

	"llama-3.1-8b-instant":    8192,
	"llama-3.1-70b-versatile": 8192,
	"mixtral-8x7b-32768":      32768,

	"local-model":     4096,
	"llama-2-7b-chat": 4096,
	"codellama":       16384,
	"mistral":         8192,
}

const defaultContextSize = 4096

// ContextSizeForModel returns the context window for a model, trying an
// exact match, then substring matches, then the 4096 default.
func ContextSizeForModel(model string) int {
	if size, ok := modelContextDefaults[model]; ok {
		return size
	}

	modelLower := strings.ToLower(model)
	for key, size := range modelContextDefaults {
		if strings.Contains(modelLower, key) || strings.Contains(key, modelLower) {
			return size
		}
	}

	return defaultContextSize
}

// Budget bounds the prompt sent to a provider.
type Budget struct {
	ContextSize       int
	MaxResponseTokens int
}

// perTurnOverhead accounts for role markers and formatting around each turn.
const perTurnOverhead = 20

// truncationBuffer is extra headroom reserved on top of the response and
// system prompt.
const truncationBuffer = 100

// TruncateToBudget drops the oldest turns until the transcript fits the
// budget. Tokens for the response, the system prompt and a fixed buffer are
// reserved first; turns are kept whole, newest first. When even the newest
// turn does not fit, it is sent alone rather than dropping everything.
func TruncateToBudget(turns []Turn, systemPrompt string, budget Budget, counter *TokenCounter) []Turn {
	if counter == nil {
		counter = &TokenCounter{}
	}

	reserved := budget.MaxResponseTokens + counter.Count(systemPrompt) + truncationBuffer
	available := budget.ContextSize - reserved

	if available <= 0 {
		if len(turns) == 0 {
			return nil
		}
		return turns[len(turns)-1:]
	}

	currentTokens := 0
	cutoff := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		turnTokens := counter.Count(turns[i].Content) + perTurnOverhead
		if currentTokens+turnTokens > available {
			break
		}
		currentTokens += turnTokens
		cutoff = i
	}

	if cutoff == len(turns) && len(turns) > 0 {
		return turns[len(turns)-1:]
	}

	if cutoff > 0 {
		log.Debug().
			Int("dropped_turns", cutoff).
			Int("kept_turns", len(turns)-cutoff).
			Int("available_tokens", available).
			Msg("transcript truncated to fit context window")
	}

	return turns[cutoff:]
}
