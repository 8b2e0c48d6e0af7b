package settings

import (
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Kind names the backend a configuration talks to.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindOllama Kind = "ollama"
	KindEcho   Kind = "echo"
)

// ProviderSettings is one named backend configuration, loaded from YAML.
// OpenAI-compatible endpoints (DeepSeek, Groq, local servers) use
// KindOpenAI with a custom BaseURL.
type ProviderSettings struct {
	Name     string `yaml:"name"`
	Provider Kind   `yaml:"provider"`
	BaseURL  string `yaml:"base_url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model"`

	Temperature       *float64 `yaml:"temperature,omitempty"`
	MaxResponseTokens *int     `yaml:"max_response_tokens,omitempty"`
	TopP              *float64 `yaml:"top_p,omitempty"`
	FrequencyPenalty  *float64 `yaml:"frequency_penalty,omitempty"`
	PresencePenalty   *float64 `yaml:"presence_penalty,omitempty"`

	// ContextSize of 0 means auto-detect from the model name.
	ContextSize int           `yaml:"context_size,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Streaming   bool          `yaml:"streaming"`
	Enabled     bool          `yaml:"enabled"`

	SystemMessageTemplate string `yaml:"system_message_template,omitempty"`
	InstructionFormat     string `yaml:"instruction_format,omitempty"`
}

func NewProviderSettings() *ProviderSettings {
	maxTokens := 512
	temperature := 0.8
	return &ProviderSettings{
		Provider:          KindEcho,
		Temperature:       &temperature,
		MaxResponseTokens: &maxTokens,
		Timeout:           120 * time.Second,
		Streaming:         true,
		Enabled:           true,
	}
}

func (s *ProviderSettings) Clone() *ProviderSettings {
	return clone.Clone(s).(*ProviderSettings)
}

func (s *ProviderSettings) Validate() error {
	if s.Name == "" {
		return errors.New("provider settings need a name")
	}
	switch s.Provider {
	case KindOpenAI, KindOllama, KindEcho:
	default:
		return errors.Errorf("unknown provider kind %q in %s", s.Provider, s.Name)
	}
	if s.Provider != KindEcho && s.Model == "" {
		return errors.Errorf("provider settings %s need a model", s.Name)
	}
	return nil
}

// ParseSettings loads one configuration from YAML, applied on top of the
// defaults.
func ParseSettings(data []byte) (*ProviderSettings, error) {
	s := NewProviderSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "parsing provider settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ProviderSettings) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}
