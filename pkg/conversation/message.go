package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NodeID identifies a single message in a conversation tree.
type NodeID uuid.UUID

// NullNode is the zero NodeID; root messages carry it as their parent.
var NullNode = NodeID(uuid.Nil)

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func (id NodeID) IsNull() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText lets NodeID serve both as a JSON value and as a JSON map key.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

func (id *NodeID) UnmarshalText(data []byte) error {
	parsed, err := uuid.Parse(string(data))
	if err != nil {
		return errors.Wrap(err, "invalid node id")
	}
	*id = NodeID(parsed)
	return nil
}

// Role is the closed set of speakers a message can belong to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole validates a role string coming from persisted data.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	case RoleSystem:
		return RoleSystem, nil
	}
	return "", errors.Errorf("unknown role %q", s)
}

// Message is a single node in the conversation tree.
//
// Content is immutable once the message has been inserted; editing a message
// creates a new sibling instead. Children holds the ordered ids of all
// branches created under this message, of which at most one is active.
type Message struct {
	ID           NodeID    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Time         time.Time `json:"timestamp"`
	ParentID     NodeID    `json:"parent_id"`
	Children     []NodeID  `json:"children_ids"`
	SiblingIndex int       `json:"sibling_index"`
	Active       bool      `json:"is_active"`
}

type MessageOption func(*Message)

func WithID(id NodeID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func NewMessage(role Role, content string, options ...MessageOption) *Message {
	ret := &Message{
		ID:       NewNodeID(),
		Role:     role,
		Content:  content,
		Time:     time.Now(),
		ParentID: NullNode,
		Children: []NodeID{},
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (m *Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

// Conversation is a linear sequence of messages, typically an active path.
type Conversation []*Message

// GetSinglePrompt flattens a conversation into one prompt string.
func (messages Conversation) GetSinglePrompt() string {
	if len(messages) == 0 {
		return ""
	}

	if len(messages) == 1 {
		return messages[0].Content
	}

	var sb strings.Builder
	for _, message := range messages {
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", message.Role, message.Content))
	}

	return sb.String()
}
