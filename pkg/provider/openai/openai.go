package openai

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/loom-chat/loom/pkg/provider"
	"github.com/loom-chat/loom/pkg/provider/settings"
)

// Provider talks to the OpenAI chat completion API, or any compatible
// endpoint when the settings carry a custom base URL.
type Provider struct {
	settings *settings.ProviderSettings
	client   *go_openai.Client
}

func New(s *settings.ProviderSettings) *Provider {
	config := go_openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		config.BaseURL = s.BaseURL
	}

	return &Provider{
		settings: s,
		client:   go_openai.NewClientWithConfig(config),
	}
}

func (p *Provider) makeRequest(history []provider.Turn, systemPrompt string) go_openai.ChatCompletionRequest {
	formatted := provider.FormatHistory(provider.InstructionFormat(p.settings.InstructionFormat), history)

	messages := make([]go_openai.ChatCompletionMessage, 0, len(formatted)+1)
	if systemPrompt != "" {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, turn := range formatted {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	req := go_openai.ChatCompletionRequest{
		Model:    p.settings.Model,
		Messages: messages,
	}
	if p.settings.Temperature != nil {
		req.Temperature = float32(*p.settings.Temperature)
	}
	if p.settings.TopP != nil {
		req.TopP = float32(*p.settings.TopP)
	}
	if p.settings.MaxResponseTokens != nil {
		req.MaxTokens = *p.settings.MaxResponseTokens
	}
	if p.settings.FrequencyPenalty != nil {
		req.FrequencyPenalty = float32(*p.settings.FrequencyPenalty)
	}
	if p.settings.PresencePenalty != nil {
		req.PresencePenalty = float32(*p.settings.PresencePenalty)
	}

	return req
}

func (p *Provider) GetResponse(ctx context.Context, history []provider.Turn, systemPrompt string) (string, error) {
	req := p.makeRequest(history, systemPrompt)
	log.Debug().Str("model", req.Model).Int("num_messages", len(req.Messages)).Msg("OpenAI completion request")

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", provider.Classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", provider.NewError(provider.ErrorKindRejected, errors.New("response contained no choices"))
	}

	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) GetStreamingResponse(ctx context.Context, history []provider.Turn, systemPrompt string, callback provider.TokenCallback) error {
	req := p.makeRequest(history, systemPrompt)
	req.Stream = true
	log.Debug().Str("model", req.Model).Int("num_messages", len(req.Messages)).Msg("OpenAI streaming request")

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("OpenAI streaming request failed")
		return provider.Classify(err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close stream")
		}
	}()

	chunkCount := 0
	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("chunks_received", chunkCount).Msg("OpenAI streaming cancelled by context")
			return provider.Classify(ctx.Err())

		default:
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				log.Debug().Int("chunks_received", chunkCount).Msg("OpenAI stream completed")
				goto streamingComplete
			}
			if err != nil {
				log.Error().Err(err).Int("chunks_received", chunkCount).Msg("OpenAI stream receive failed")
				return provider.Classify(err)
			}
			chunkCount++

			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if err := callback(delta, false); err != nil {
				return err
			}
		}
	}

streamingComplete:
	return callback("", true)
}

var _ provider.Provider = (*Provider)(nil)
