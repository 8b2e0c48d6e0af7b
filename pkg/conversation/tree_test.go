package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildLinearTree(t *testing.T, contents ...string) (*ConversationTree, []NodeID) {
	t.Helper()

	ct := NewConversationTree()
	var ids []NodeID
	parent := NullNode
	role := RoleUser
	for _, content := range contents {
		msg := NewMessage(role, content)
		id, err := ct.AddMessage(msg, parent)
		require.NoError(t, err)
		ids = append(ids, id)
		parent = id
		if role == RoleUser {
			role = RoleAssistant
		} else {
			role = RoleUser
		}
	}
	return ct, ids
}

func TestAddMessageCreatesActiveRoot(t *testing.T) {
	ct := NewConversationTree()

	id, err := ct.AddMessage(NewMessage(RoleUser, "Hi"), NullNode)
	require.NoError(t, err)

	msg, ok := ct.GetMessage(id)
	require.True(t, ok)
	require.True(t, msg.Active)
	require.True(t, msg.ParentID.IsNull())
	require.Equal(t, []NodeID{id}, ct.Roots)
	require.NoError(t, ct.Validate())
}

func TestAddMessageDeactivatesPreviousSiblingSubtree(t *testing.T) {
	ct, ids := buildLinearTree(t, "Hi", "Hello", "How are you?")

	// second reply under the first user message displaces the whole old branch
	retry := NewMessage(RoleAssistant, "Hey there")
	retryID, err := ct.AddMessage(retry, ids[0])
	require.NoError(t, err)

	old, _ := ct.GetMessage(ids[1])
	require.False(t, old.Active)
	oldChild, _ := ct.GetMessage(ids[2])
	require.False(t, oldChild.Active)

	path := ct.ActivePath()
	require.Len(t, path, 2)
	require.Equal(t, retryID, path[1].ID)
	require.NoError(t, ct.Validate())
}

func TestAddMessageRejectsUnknownParent(t *testing.T) {
	ct := NewConversationTree()
	_, err := ct.AddMessage(NewMessage(RoleUser, "orphan"), NewNodeID())
	require.Error(t, err)
}

func TestGetSiblingsIncludesSelf(t *testing.T) {
	ct, ids := buildLinearTree(t, "Hi", "Hello")

	siblings := ct.GetSiblings(ids[1])
	require.Equal(t, []NodeID{ids[1]}, siblings)

	_, err := ct.AddMessage(NewMessage(RoleAssistant, "Hey"), ids[0])
	require.NoError(t, err)
	require.Len(t, ct.GetSiblings(ids[1]), 2)
}

func TestEditMessageCreatesSiblingAndDeactivatesOriginal(t *testing.T) {
	ct, ids := buildLinearTree(t, "Hi", "Hello")
	siblingsBefore := len(ct.GetSiblings(ids[0]))

	newID, err := ct.EditMessage(ids[0], "Hi there")
	require.NoError(t, err)

	original, _ := ct.GetMessage(ids[0])
	require.Equal(t, "Hi", original.Content, "edit must not touch the original content")
	require.False(t, original.Active)

	reply, _ := ct.GetMessage(ids[1])
	require.False(t, reply.Active, "the original's subtree must be fully inactive")

	require.Len(t, ct.GetSiblings(newID), siblingsBefore+1)

	path := ct.ActivePath()
	require.Len(t, path, 1)
	require.Equal(t, newID, path[0].ID)
	require.Equal(t, "Hi there", path[0].Content)
	require.NoError(t, ct.Validate())
}

func TestEditMessageInsertsDirectlyAfterOriginal(t *testing.T) {
	ct := NewConversationTree()
	parent, err := ct.AddMessage(NewMessage(RoleUser, "Hi"), NullNode)
	require.NoError(t, err)

	a, err := ct.AddMessage(NewMessage(RoleAssistant, "a"), parent)
	require.NoError(t, err)
	b, err := ct.AddMessage(NewMessage(RoleAssistant, "b"), parent)
	require.NoError(t, err)

	edited, err := ct.EditMessage(a, "a2")
	require.NoError(t, err)

	require.Equal(t, []NodeID{a, edited, b}, ct.GetSiblings(a))
	for i, id := range ct.GetSiblings(a) {
		msg, _ := ct.GetMessage(id)
		require.Equal(t, i, msg.SiblingIndex)
	}
}

func TestDeleteMessageRemovesExactlySubtree(t *testing.T) {
	ct, ids := buildLinearTree(t, "Hi", "Hello", "How are you?", "Fine")

	// side branch that must survive
	side, err := ct.AddMessage(NewMessage(RoleAssistant, "Hey"), ids[0])
	require.NoError(t, err)

	sizeBefore := len(ct.Nodes)
	require.NoError(t, ct.DeleteMessage(ids[1]))

	// ids[1] had two descendants
	require.Equal(t, sizeBefore-3, len(ct.Nodes))
	_, ok := ct.GetMessage(ids[2])
	require.False(t, ok)
	_, ok = ct.GetMessage(side)
	require.True(t, ok)
	require.NoError(t, ct.Validate())
}

func TestDeleteMessageDoesNotReactivateSibling(t *testing.T) {
	ct := NewConversationTree()
	parent, err := ct.AddMessage(NewMessage(RoleUser, "Hi"), NullNode)
	require.NoError(t, err)

	_, err = ct.AddMessage(NewMessage(RoleAssistant, "a"), parent)
	require.NoError(t, err)
	b, err := ct.AddMessage(NewMessage(RoleAssistant, "b"), parent)
	require.NoError(t, err)

	require.NoError(t, ct.DeleteMessage(b))

	// the surviving sibling stays inactive until the caller navigates
	path := ct.ActivePath()
	require.Len(t, path, 1)
	require.Equal(t, parent, path[0].ID)
	require.NoError(t, ct.Validate())
}

func TestNavigateSiblingSwitchesBranches(t *testing.T) {
	ct, ids := buildLinearTree(t, "Hi", "Hello", "How are you?")

	edited, err := ct.EditMessage(ids[1], "Hello!")
	require.NoError(t, err)

	// back to the original branch; its subtree flags were cleared, so the
	// first-child chain is reactivated
	back, err := ct.NavigateSibling(edited, -1)
	require.NoError(t, err)
	require.Equal(t, ids[1], back)

	path := ct.ActivePath()
	require.Len(t, path, 3)
	require.Equal(t, ids[2], path[2].ID)
	require.NoError(t, ct.Validate())
}

func TestNavigateSiblingOutOfRange(t *testing.T) {
	ct, ids := buildLinearTree(t, "Hi")
	_, err := ct.NavigateSibling(ids[0], 1)
	require.Error(t, err)
	_, err = ct.NavigateSibling(ids[0], -1)
	require.Error(t, err)
}

func TestActivePathLinksParents(t *testing.T) {
	ct, _ := buildLinearTree(t, "Hi", "Hello", "How are you?", "Fine", "Good")

	path := ct.ActivePath()
	require.Len(t, path, 5)
	require.True(t, path[0].ParentID.IsNull())
	for i := 1; i < len(path); i++ {
		require.Equal(t, path[i-1].ID, path[i].ParentID)
	}
}

func TestActivePathEmptyTree(t *testing.T) {
	ct := NewConversationTree()
	require.Empty(t, ct.ActivePath())
	_, ok := ct.ActiveLeaf()
	require.False(t, ok)
}

func TestAnchorForRetry(t *testing.T) {
	ct, ids := buildLinearTree(t, "Hi", "Hello")

	anchor, err := ct.AnchorForRetry(ids[1])
	require.NoError(t, err)
	require.Equal(t, ids[0], anchor)

	_, err = ct.AnchorForRetry(ids[0])
	require.Error(t, err, "retrying a user message makes no sense")
}

func TestMultipleRootsSingleActive(t *testing.T) {
	ct := NewConversationTree()
	first, err := ct.AddMessage(NewMessage(RoleUser, "first"), NullNode)
	require.NoError(t, err)
	second, err := ct.AddMessage(NewMessage(RoleUser, "second"), NullNode)
	require.NoError(t, err)

	firstMsg, _ := ct.GetMessage(first)
	require.False(t, firstMsg.Active)

	path := ct.ActivePath()
	require.Len(t, path, 1)
	require.Equal(t, second, path[0].ID)
	require.NoError(t, ct.Validate())
}

func TestDeepTreeOperationsStayIterative(t *testing.T) {
	// deep enough to blow a recursive implementation's stack
	const depth = 200000

	ct := NewConversationTree()
	parent := NullNode
	var firstID, lastID NodeID
	for i := 0; i < depth; i++ {
		msg := NewMessage(RoleUser, "m")
		id, err := ct.AddMessage(msg, parent)
		require.NoError(t, err)
		if i == 0 {
			firstID = id
		}
		lastID = id
		parent = id
	}

	require.Len(t, ct.ActivePath(), depth)
	_ = lastID

	require.NoError(t, ct.DeleteMessage(firstID))
	require.Empty(t, ct.Nodes)
}
