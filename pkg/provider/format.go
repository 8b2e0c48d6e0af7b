package provider

import (
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// InstructionFormat selects how user turns are wrapped before being sent to
// instruction-tuned models that expect a specific chat template.
type InstructionFormat string

const (
	FormatDefault InstructionFormat = "default"
	FormatAlpaca  InstructionFormat = "alpaca"
	FormatChatML  InstructionFormat = "chatml"
	FormatVicuna  InstructionFormat = "vicuna"
	FormatLlama   InstructionFormat = "llama"
)

// FormatHistory applies the instruction format wrapping to a transcript.
// The default format returns the turns untouched.
func FormatHistory(format InstructionFormat, turns []Turn) []Turn {
	switch format {
	case FormatAlpaca:
		return mapUserTurns(turns, func(content string) string {
			return "### Instruction:\n" + content + "\n\n### Response:"
		})
	case FormatChatML:
		formatted := make([]Turn, 0, len(turns))
		for _, turn := range turns {
			role := turn.Role
			wrapped := "<|im_start|>assistant\n" + turn.Content + "<|im_end|>"
			if role == "user" {
				wrapped = "<|im_start|>user\n" + turn.Content + "<|im_end|>"
			}
			formatted = append(formatted, Turn{Role: role, Content: wrapped})
		}
		return formatted
	case FormatVicuna:
		return mapUserTurns(turns, func(content string) string {
			return "USER: " + content + "\nASSISTANT:"
		})
	case FormatLlama:
		return mapUserTurns(turns, func(content string) string {
			return "[INST] " + content + " [/INST]"
		})
	default:
		return turns
	}
}

func mapUserTurns(turns []Turn, wrap func(string) string) []Turn {
	formatted := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		content := turn.Content
		if turn.Role == "user" {
			content = wrap(content)
		}
		formatted = append(formatted, Turn{Role: turn.Role, Content: content})
	}
	return formatted
}

// DefaultSystemTemplate is the system prompt used when a configuration does
// not provide its own.
const DefaultSystemTemplate = "You are {{.CharacterName}}. {{.Personality}}"

// SystemPromptData feeds the system message template.
type SystemPromptData struct {
	CharacterName string
	Personality   string
}

// FormatSystemPrompt renders the system message template and appends the
// optional user context.
func FormatSystemPrompt(tmpl string, data SystemPromptData, userContext string) (string, error) {
	if tmpl == "" {
		tmpl = DefaultSystemTemplate
	}

	parsed, err := template.New("system").Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "parsing system message template")
	}

	var sb strings.Builder
	if err := parsed.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "rendering system message template")
	}

	prompt := sb.String()
	if userContext != "" {
		prompt += "\n\nUser Context: " + userContext
	}
	return prompt, nil
}
