package provider

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"cancelled", context.Canceled, ErrorKindCancelled},
		{"deadline", context.DeadlineExceeded, ErrorKindTimeout},
		{"wrapped deadline", errors.Wrap(context.DeadlineExceeded, "calling api"), ErrorKindTimeout},
		{"auth", errors.New("unexpected status code: 401 Unauthorized"), ErrorKindRejected},
		{"bad api key", errors.New("invalid api key provided"), ErrorKindRejected},
		{"connection", errors.New("connection refused"), ErrorKindNetwork},
		{"dns", errors.New("dial tcp: no such host"), ErrorKindNetwork},
		{"unknown", errors.New("something odd"), ErrorKindNetwork},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestKindOfKeepsExistingKind(t *testing.T) {
	err := NewError(ErrorKindRejected, errors.New("connection refused"))
	assert.Equal(t, ErrorKindRejected, KindOf(err))
	assert.Equal(t, ErrorKindRejected, KindOf(errors.Wrap(err, "outer")))
}

func TestClassify(t *testing.T) {
	require.NoError(t, Classify(nil))

	err := Classify(context.Canceled)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ErrorKindCancelled, perr.Kind)
	assert.True(t, errors.Is(err, context.Canceled))

	// classifying twice does not double-wrap
	again := Classify(err)
	assert.Equal(t, err, again)
}
