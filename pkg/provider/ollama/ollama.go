package ollama

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/loom-chat/loom/pkg/provider"
	"github.com/loom-chat/loom/pkg/provider/settings"
)

// Provider talks to a local ollama daemon through its chat API. Ollama only
// exposes a callback-based streaming interface; the non-streaming call
// collects the stream into one string.
type Provider struct {
	settings *settings.ProviderSettings
	client   *api.Client
}

func New(s *settings.ProviderSettings) (*Provider, error) {
	base := s.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ollama base url %s", base)
	}

	return &Provider{
		settings: s,
		client:   api.NewClient(u, http.DefaultClient),
	}, nil
}

func (p *Provider) makeRequest(history []provider.Turn, systemPrompt string, stream bool) *api.ChatRequest {
	formatted := provider.FormatHistory(provider.InstructionFormat(p.settings.InstructionFormat), history)

	messages := make([]api.Message, 0, len(formatted)+1)
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	for _, turn := range formatted {
		messages = append(messages, api.Message{Role: turn.Role, Content: turn.Content})
	}

	options := map[string]interface{}{}
	if p.settings.Temperature != nil {
		options["temperature"] = *p.settings.Temperature
	}
	if p.settings.TopP != nil {
		options["top_p"] = *p.settings.TopP
	}
	if p.settings.MaxResponseTokens != nil {
		options["num_predict"] = *p.settings.MaxResponseTokens
	}
	if p.settings.ContextSize > 0 {
		options["num_ctx"] = p.settings.ContextSize
	}

	return &api.ChatRequest{
		Model:    p.settings.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
}

func (p *Provider) GetResponse(ctx context.Context, history []provider.Turn, systemPrompt string) (string, error) {
	req := p.makeRequest(history, systemPrompt, false)
	log.Debug().Str("model", req.Model).Int("num_messages", len(req.Messages)).Msg("ollama completion request")

	message := ""
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		message += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", provider.Classify(err)
	}

	return message, nil
}

func (p *Provider) GetStreamingResponse(ctx context.Context, history []provider.Turn, systemPrompt string, callback provider.TokenCallback) error {
	req := p.makeRequest(history, systemPrompt, true)
	log.Debug().Str("model", req.Model).Int("num_messages", len(req.Messages)).Msg("ollama streaming request")

	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Done {
			return nil
		}
		return callback(resp.Message.Content, false)
	})
	if err != nil {
		return provider.Classify(err)
	}

	return callback("", true)
}

var _ provider.Provider = (*Provider)(nil)
