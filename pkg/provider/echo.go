package provider

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// EchoProvider repeats the last user turn back, token by token. It exists
// for tests and for running the CLI without a backend.
type EchoProvider struct {
	TimePerCharacter time.Duration
}

func NewEchoProvider() *EchoProvider {
	return &EchoProvider{
		TimePerCharacter: 100 * time.Millisecond,
	}
}

func (e *EchoProvider) GetResponse(ctx context.Context, history []Turn, systemPrompt string) (string, error) {
	text, err := e.lastUserText(history)
	if err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", Classify(ctx.Err())
	case <-time.After(e.TimePerCharacter * time.Duration(len(text))):
	}

	return text, nil
}

func (e *EchoProvider) GetStreamingResponse(ctx context.Context, history []Turn, systemPrompt string, callback TokenCallback) error {
	text, err := e.lastUserText(history)
	if err != nil {
		return err
	}

	for _, c := range text {
		select {
		case <-ctx.Done():
			return Classify(ctx.Err())
		case <-time.After(e.TimePerCharacter):
			if err := callback(string(c), false); err != nil {
				return err
			}
		}
	}

	return callback("", true)
}

func (e *EchoProvider) lastUserText(history []Turn) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content, nil
		}
	}
	return "", NewError(ErrorKindRejected, errors.New("no user turn in transcript"))
}

var _ Provider = (*EchoProvider)(nil)
