package conversation

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// messageWire is the persisted shape of a Message. ParentID is a pointer so
// that roots serialize as an explicit null rather than a zero uuid.
type messageWire struct {
	ID           NodeID    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Time         time.Time `json:"timestamp"`
	ParentID     *NodeID   `json:"parent_id"`
	Children     []NodeID  `json:"children_ids"`
	SiblingIndex int       `json:"sibling_index"`
	Active       bool      `json:"is_active"`
}

func (m *Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{
		ID:           m.ID,
		Role:         m.Role,
		Content:      m.Content,
		Time:         m.Time,
		Children:     m.Children,
		SiblingIndex: m.SiblingIndex,
		Active:       m.Active,
	}
	if wire.Children == nil {
		wire.Children = []NodeID{}
	}
	if !m.ParentID.IsNull() {
		parentID := m.ParentID
		wire.ParentID = &parentID
	}
	return json.Marshal(wire)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	role, err := ParseRole(string(wire.Role))
	if err != nil {
		return err
	}

	m.ID = wire.ID
	m.Role = role
	m.Content = wire.Content
	m.Time = wire.Time
	m.ParentID = NullNode
	if wire.ParentID != nil {
		m.ParentID = *wire.ParentID
	}
	m.Children = wire.Children
	if m.Children == nil {
		m.Children = []NodeID{}
	}
	m.SiblingIndex = wire.SiblingIndex
	m.Active = wire.Active
	return nil
}

type treeWire struct {
	Messages map[NodeID]*Message `json:"messages"`
	Roots    []NodeID            `json:"roots"`
}

func (ct *ConversationTree) MarshalJSON() ([]byte, error) {
	roots := ct.Roots
	if roots == nil {
		roots = []NodeID{}
	}
	return json.Marshal(treeWire{
		Messages: ct.Nodes,
		Roots:    roots,
	})
}

// UnmarshalJSON accepts both the tree format and the legacy flat transcript
// (a JSON array of {role, content, timestamp} objects, predating branching).
// Legacy messages get fresh ids and are chained into one linear active
// branch, first element as root.
func (ct *ConversationTree) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return ct.unmarshalLegacy(trimmed)
	}

	var wire treeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	ct.Nodes = wire.Messages
	if ct.Nodes == nil {
		ct.Nodes = make(map[NodeID]*Message)
	}
	ct.Roots = wire.Roots

	return errors.Wrap(ct.Validate(), "loaded tree is inconsistent")
}

// legacyMessage is the pre-branching transcript entry: no ids, no parents.
type legacyMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// legacyTimeFormat is the timestamp layout written by old transcript files.
const legacyTimeFormat = "2006-01-02 15:04:05"

func (ct *ConversationTree) unmarshalLegacy(data []byte) error {
	var entries []legacyMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	ct.Nodes = make(map[NodeID]*Message)
	ct.Roots = nil

	parentID := NullNode
	for i, entry := range entries {
		role, err := ParseRole(entry.Role)
		if err != nil {
			return errors.Wrapf(err, "legacy entry %d", i)
		}

		t, err := time.Parse(legacyTimeFormat, entry.Timestamp)
		if err != nil {
			t, err = time.Parse(time.RFC3339, entry.Timestamp)
		}
		if err != nil {
			t = time.Time{}
		}

		msg := NewMessage(role, entry.Content, WithTime(t))
		if _, err := ct.AddMessage(msg, parentID); err != nil {
			return errors.Wrapf(err, "legacy entry %d", i)
		}
		parentID = msg.ID
	}

	return nil
}

func (ct *ConversationTree) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(ct, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

func LoadFromFile(filename string) (*ConversationTree, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	ct := NewConversationTree()
	if err := json.Unmarshal(data, ct); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", filename)
	}
	return ct, nil
}
