package provider

import (
	"context"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind classifies a provider failure so that callers can decide whether
// to surface, retry or silently drop it.
type ErrorKind string

const (
	// ErrorKindTimeout covers deadline expiry, both ours and the server's.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindNetwork covers connection failures and transport errors.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindRejected covers requests the provider refused: bad
	// credentials, invalid model, quota, malformed input.
	ErrorKindRejected ErrorKind = "rejected"
	// ErrorKindCancelled marks a cooperative cancellation, not a failure.
	ErrorKindCancelled ErrorKind = "cancelled"
)

// Error wraps a provider failure with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf classifies err. Already-classified errors keep their kind.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorKindTimeout
		}
		return ErrorKindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrorKindTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "no such host"):
		return ErrorKindNetwork
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key") ||
		strings.Contains(msg, "status code: 4"):
		return ErrorKindRejected
	}

	return ErrorKindNetwork
}

// Classify wraps err as a provider Error using KindOf, unless it already is
// one.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	return NewError(KindOf(err), err)
}
