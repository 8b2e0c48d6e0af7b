package provider

import (
	"context"
	"strings"
)

// Turn is one entry of the transcript sent to a provider. Role is one of
// "system", "user" or "assistant".
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenCallback receives each streamed token. done is true exactly once, on
// the final invocation, with an empty token. Returning an error aborts the
// stream.
type TokenCallback func(token string, done bool) error

// Provider generates completions for a transcript. Implementations must
// honor ctx cancellation in GetStreamingResponse; GetResponse is a single
// blocking call and is only interrupted through the ctx deadline.
type Provider interface {
	// GetResponse returns the complete response text in one call.
	GetResponse(ctx context.Context, history []Turn, systemPrompt string) (string, error)

	// GetStreamingResponse streams the response token by token through
	// callback. The accumulated text is the caller's business.
	GetStreamingResponse(ctx context.Context, history []Turn, systemPrompt string, callback TokenCallback) error
}

// GetSinglePrompt flattens a transcript into one prompt string, for
// providers and debug output that want plain text.
func GetSinglePrompt(turns []Turn) string {
	var sb strings.Builder
	for _, turn := range turns {
		sb.WriteString(turn.Role)
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
