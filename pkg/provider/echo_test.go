package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastEcho() *EchoProvider {
	e := NewEchoProvider()
	e.TimePerCharacter = time.Microsecond
	return e
}

func TestEchoGetResponse(t *testing.T) {
	resp, err := fastEcho().GetResponse(context.Background(), []Turn{
		{Role: "user", Content: "hello"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp)
}

func TestEchoStreamsEveryCharacter(t *testing.T) {
	var tokens []string
	sawDone := false

	err := fastEcho().GetStreamingResponse(context.Background(), []Turn{
		{Role: "user", Content: "abc"},
		{Role: "assistant", Content: "ignored"},
	}, "", func(token string, done bool) error {
		if done {
			sawDone = true
			return nil
		}
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tokens)
	assert.True(t, sawDone)
}

func TestEchoStreamingCancellation(t *testing.T) {
	e := NewEchoProvider()
	e.TimePerCharacter = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	err := e.GetStreamingResponse(ctx, []Turn{
		{Role: "user", Content: "a long message to stream"},
	}, "", func(token string, done bool) error {
		count++
		if count == 2 {
			cancel()
		}
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, ErrorKindCancelled, KindOf(err))
	assert.Less(t, count, 10)
}

func TestEchoRequiresUserTurn(t *testing.T) {
	_, err := fastEcho().GetResponse(context.Background(), []Turn{
		{Role: "assistant", Content: "nothing to echo"},
	}, "")
	require.Error(t, err)
	assert.Equal(t, ErrorKindRejected, KindOf(err))
}
