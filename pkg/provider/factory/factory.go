package factory

import (
	"github.com/pkg/errors"

	"github.com/loom-chat/loom/pkg/provider"
	"github.com/loom-chat/loom/pkg/provider/ollama"
	"github.com/loom-chat/loom/pkg/provider/openai"
	"github.com/loom-chat/loom/pkg/provider/settings"
)

// NewProviderFromSettings builds the concrete backend a configuration asks
// for.
func NewProviderFromSettings(s *settings.ProviderSettings) (provider.Provider, error) {
	switch s.Provider {
	case settings.KindOpenAI:
		return openai.New(s), nil
	case settings.KindOllama:
		return ollama.New(s)
	case settings.KindEcho:
		return provider.NewEchoProvider(), nil
	default:
		return nil, errors.Errorf("unknown provider kind %q", s.Provider)
	}
}
