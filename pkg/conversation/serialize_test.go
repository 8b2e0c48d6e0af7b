package conversation

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeRoundTrip(t *testing.T) {
	ct, ids := buildLinearTree(t, "Hi", "Hello", "How are you?")
	_, err := ct.EditMessage(ids[0], "Hi there")
	require.NoError(t, err)

	data, err := json.Marshal(ct)
	require.NoError(t, err)

	loaded := NewConversationTree()
	require.NoError(t, json.Unmarshal(data, loaded))

	require.Equal(t, ct.Roots, loaded.Roots)
	require.Equal(t, len(ct.Nodes), len(loaded.Nodes))
	for id, msg := range ct.Nodes {
		got, ok := loaded.GetMessage(id)
		require.True(t, ok)
		require.Equal(t, msg.Content, got.Content)
		require.Equal(t, msg.Role, got.Role)
		require.Equal(t, msg.ParentID, got.ParentID)
		require.Equal(t, msg.Children, got.Children)
		require.Equal(t, msg.SiblingIndex, got.SiblingIndex)
		require.Equal(t, msg.Active, got.Active)
	}
	require.NoError(t, loaded.Validate())
}

func TestMessageJSONNullParent(t *testing.T) {
	ct, ids := buildLinearTree(t, "Hi")
	root, _ := ct.GetMessage(ids[0])

	data, err := json.Marshal(root)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "parent_id")
	require.Nil(t, raw["parent_id"])
}

func TestUnmarshalRejectsBadRole(t *testing.T) {
	data := []byte(`{
		"id": "3d0e2fbd-8f1f-41da-8c3f-9f7de7b7d1a1",
		"role": "narrator",
		"content": "x",
		"timestamp": "2024-01-01T00:00:00Z",
		"parent_id": null,
		"children_ids": [],
		"sibling_index": 0,
		"is_active": true
	}`)
	var msg Message
	require.Error(t, json.Unmarshal(data, &msg))
}

func TestUnmarshalRejectsInconsistentTree(t *testing.T) {
	// child points at a parent that does not exist
	data := []byte(`{
		"messages": {
			"3d0e2fbd-8f1f-41da-8c3f-9f7de7b7d1a1": {
				"id": "3d0e2fbd-8f1f-41da-8c3f-9f7de7b7d1a1",
				"role": "user",
				"content": "x",
				"timestamp": "2024-01-01T00:00:00Z",
				"parent_id": "aaaaaaaa-0000-0000-0000-000000000000",
				"children_ids": [],
				"sibling_index": 0,
				"is_active": true
			}
		},
		"roots": []
	}`)
	var ct ConversationTree
	require.Error(t, json.Unmarshal(data, &ct))
}

func TestUnmarshalLegacyFlatArray(t *testing.T) {
	data := []byte(`[
		{"role": "user", "content": "Hi", "timestamp": "2024-03-01 10:00:00"},
		{"role": "assistant", "content": "Hello", "timestamp": "2024-03-01 10:00:05"},
		{"role": "user", "content": "Bye"}
	]`)

	var ct ConversationTree
	require.NoError(t, json.Unmarshal(data, &ct))

	path := ct.ActivePath()
	require.Len(t, path, 3)
	require.Equal(t, RoleUser, path[0].Role)
	require.Equal(t, "Hi", path[0].Content)
	require.Equal(t, "Hello", path[1].Content)
	require.Equal(t, 2024, path[0].Time.Year())
	require.True(t, path[2].Time.IsZero())

	// linear chain, every message on the active branch
	require.Len(t, ct.Nodes, 3)
	require.Len(t, ct.Roots, 1)
	require.NoError(t, ct.Validate())
}

func TestSaveAndLoadFile(t *testing.T) {
	ct, _ := buildLinearTree(t, "Hi", "Hello")

	path := filepath.Join(t.TempDir(), "conversation.json")
	require.NoError(t, ct.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, ct.Roots, loaded.Roots)
	require.Len(t, loaded.ActivePath(), 2)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
