package session

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/loom-chat/loom/pkg/conversation"
	"github.com/loom-chat/loom/pkg/provider/settings"
)

// State tracks where a generation session is in its lifecycle. Terminal
// states are observable by the UI but count as accepting for submission
// gating, so a session never needs an explicit reset.
type State int

const (
	StateIdle State = iota
	StateQueued
	StateStreaming
	StateNonStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateStreaming:
		return "streaming"
	case StateNonStreaming:
		return "non-streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a generation has finished, one way or another.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// AcceptsRequests reports whether a new request may be submitted.
func (s State) AcceptsRequests() bool {
	return s == StateIdle || s.Terminal()
}

// ErrBusy is returned by Submit while a request is in flight.
var ErrBusy = errors.New("a generation request is already in flight")

// ThinkingPlaceholder is committed as the assistant message when a
// generation is cancelled before any token arrived. A cancelled request
// still produces exactly one message.
const ThinkingPlaceholder = "Thinking..."

// Request is one unit of work for the generation worker. AnchorID is the
// node the response attaches under; when UserText is non-empty the worker
// first appends it as a user message under the anchor and generates below
// that instead.
type Request struct {
	ID       uuid.UUID
	AnchorID conversation.NodeID
	UserText string
	Settings *settings.ProviderSettings
}

// Character is who the assistant plays, fed into the system prompt
// template.
type Character struct {
	Name        string
	Personality string
	UserContext string
}
