package conversation

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ConversationTree stores every message ever created in a conversation,
// including deactivated branches.
//
// Messages are connected through parent ids; each node keeps an ordered list
// of its children ids. Among any set of siblings (children of one parent, or
// the roots list) at most one message is active, and a message can only be
// active if its parent is active. The active messages therefore form exactly
// one contiguous root-to-leaf path, which is the transcript shown to the user
// and sent to the generation provider.
//
// All subtree walks are iterative with an explicit stack; edit histories can
// grow deep enough that recursion is not an option.
type ConversationTree struct {
	Nodes map[NodeID]*Message
	Roots []NodeID
}

func NewConversationTree() *ConversationTree {
	return &ConversationTree{
		Nodes: make(map[NodeID]*Message),
	}
}

var ErrNodeNotFound = errors.New("node not found")

// AddMessage inserts msg under parentID, or as a root when parentID is
// NullNode. Any previously active sibling has its whole subtree deactivated;
// the new message becomes the active branch at this level.
func (ct *ConversationTree) AddMessage(msg *Message, parentID NodeID) (NodeID, error) {
	if _, exists := ct.Nodes[msg.ID]; exists {
		return NullNode, errors.Errorf("message %s already in tree", msg.ID)
	}

	var siblings []NodeID
	if parentID.IsNull() {
		siblings = ct.Roots
	} else {
		parent, exists := ct.Nodes[parentID]
		if !exists {
			return NullNode, errors.Wrapf(ErrNodeNotFound, "parent %s", parentID)
		}
		siblings = parent.Children
	}

	for _, siblingID := range siblings {
		if sibling, ok := ct.Nodes[siblingID]; ok && sibling.Active {
			ct.deactivateBranch(siblingID)
		}
	}

	msg.ParentID = parentID
	msg.Active = true
	if msg.Children == nil {
		msg.Children = []NodeID{}
	}
	ct.Nodes[msg.ID] = msg

	if parentID.IsNull() {
		msg.SiblingIndex = len(ct.Roots)
		ct.Roots = append(ct.Roots, msg.ID)
	} else {
		parent := ct.Nodes[parentID]
		msg.SiblingIndex = len(parent.Children)
		parent.Children = append(parent.Children, msg.ID)
	}

	log.Trace().
		Str("message_id", msg.ID.String()).
		Str("parent_id", parentID.String()).
		Str("role", string(msg.Role)).
		Int("tree_size", len(ct.Nodes)).
		Msg("message added to tree")

	return msg.ID, nil
}

// GetMessage looks up a message by id.
func (ct *ConversationTree) GetMessage(id NodeID) (*Message, bool) {
	msg, exists := ct.Nodes[id]
	return msg, exists
}

// GetSiblings returns the ordered ids of all children of id's parent,
// including id itself. For a root message it returns the roots list.
func (ct *ConversationTree) GetSiblings(id NodeID) []NodeID {
	node, exists := ct.Nodes[id]
	if !exists {
		return nil
	}

	if node.ParentID.IsNull() {
		return append([]NodeID{}, ct.Roots...)
	}

	parent, exists := ct.Nodes[node.ParentID]
	if !exists {
		return nil
	}
	return append([]NodeID{}, parent.Children...)
}

// EditMessage creates a new sibling of id holding newContent, inserted
// directly after the original in the parent's child list. The original node
// and its whole subtree are deactivated but stay in the tree; the new
// sibling becomes the active branch. Triggering any downstream regeneration
// is the caller's responsibility.
func (ct *ConversationTree) EditMessage(id NodeID, newContent string) (NodeID, error) {
	original, exists := ct.Nodes[id]
	if !exists {
		return NullNode, errors.Wrapf(ErrNodeNotFound, "edit %s", id)
	}

	replacement := NewMessage(original.Role, newContent)
	replacement.ParentID = original.ParentID
	replacement.Active = true

	ct.deactivateBranch(id)
	ct.Nodes[replacement.ID] = replacement

	if original.ParentID.IsNull() {
		ct.Roots = insertAfter(ct.Roots, id, replacement.ID)
		ct.renumberRoots()
	} else {
		parent := ct.Nodes[original.ParentID]
		parent.Children = insertAfter(parent.Children, id, replacement.ID)
		ct.renumberChildren(parent)
	}

	log.Debug().
		Str("original_id", id.String()).
		Str("replacement_id", replacement.ID.String()).
		Msg("message edited, new branch created")

	return replacement.ID, nil
}

// DeleteMessage removes id and its entire descendant subtree from the tree.
// No sibling is reactivated; if the deleted branch was active, the parent is
// left without an active child until the caller navigates explicitly.
func (ct *ConversationTree) DeleteMessage(id NodeID) error {
	node, exists := ct.Nodes[id]
	if !exists {
		return errors.Wrapf(ErrNodeNotFound, "delete %s", id)
	}

	if node.ParentID.IsNull() {
		ct.Roots = remove(ct.Roots, id)
		ct.renumberRoots()
	} else if parent, ok := ct.Nodes[node.ParentID]; ok {
		parent.Children = remove(parent.Children, id)
		ct.renumberChildren(parent)
	}

	removed := 0
	stack := []NodeID{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		msg, ok := ct.Nodes[current]
		if !ok {
			continue
		}
		stack = append(stack, msg.Children...)
		delete(ct.Nodes, current)
		removed++
	}

	log.Debug().
		Str("message_id", id.String()).
		Int("removed", removed).
		Int("remaining", len(ct.Nodes)).
		Msg("branch deleted")

	return nil
}

// NavigateSibling moves the active branch at id's level by delta positions
// (negative for earlier siblings). The current branch is deactivated and the
// target sibling activated together with its first-child descendant chain.
// It returns the id of the newly active sibling.
func (ct *ConversationTree) NavigateSibling(id NodeID, delta int) (NodeID, error) {
	node, exists := ct.Nodes[id]
	if !exists {
		return NullNode, errors.Wrapf(ErrNodeNotFound, "navigate %s", id)
	}

	siblings := ct.GetSiblings(id)
	target := node.SiblingIndex + delta
	if target < 0 || target >= len(siblings) {
		return NullNode, errors.Errorf("sibling index %d out of range [0, %d)", target, len(siblings))
	}
	targetID := siblings[target]
	if targetID == id {
		return id, nil
	}

	ct.deactivateBranch(id)
	ct.activateChain(targetID)

	return targetID, nil
}

// ActivePath returns the active conversation: the active root followed by
// each node's active child, stopping at the first node without one.
func (ct *ConversationTree) ActivePath() Conversation {
	var path Conversation

	current := NullNode
	for _, rootID := range ct.Roots {
		if root, ok := ct.Nodes[rootID]; ok && root.Active {
			current = rootID
			break
		}
	}

	for !current.IsNull() {
		node, ok := ct.Nodes[current]
		if !ok {
			break
		}
		path = append(path, node)

		current = NullNode
		for _, childID := range node.Children {
			if child, ok := ct.Nodes[childID]; ok && child.Active {
				current = childID
				break
			}
		}
	}

	return path
}

// ActiveLeaf returns the last message of the active path, used as the anchor
// for new submissions.
func (ct *ConversationTree) ActiveLeaf() (NodeID, bool) {
	path := ct.ActivePath()
	if len(path) == 0 {
		return NullNode, false
	}
	return path[len(path)-1].ID, true
}

// AnchorForRetry resolves the node under which a regenerated reply should be
// attached: the parent of the assistant message being retried.
func (ct *ConversationTree) AnchorForRetry(id NodeID) (NodeID, error) {
	node, exists := ct.Nodes[id]
	if !exists {
		return NullNode, errors.Wrapf(ErrNodeNotFound, "retry %s", id)
	}
	if node.Role != RoleAssistant {
		return NullNode, errors.Errorf("retry target %s is %s, not assistant", id, node.Role)
	}
	return node.ParentID, nil
}

// deactivateBranch clears the active flag on id and every descendant.
func (ct *ConversationTree) deactivateBranch(id NodeID) {
	stack := []NodeID{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, ok := ct.Nodes[current]
		if !ok {
			continue
		}
		node.Active = false
		stack = append(stack, node.Children...)
	}
}

// activateChain activates id and then walks downwards, activating the
// previously active child where one exists and the first child otherwise.
func (ct *ConversationTree) activateChain(id NodeID) {
	current := id
	for !current.IsNull() {
		node, ok := ct.Nodes[current]
		if !ok {
			return
		}
		node.Active = true

		next := NullNode
		for _, childID := range node.Children {
			if child, ok := ct.Nodes[childID]; ok && child.Active {
				next = childID
				break
			}
		}
		if next.IsNull() && len(node.Children) > 0 {
			next = node.Children[0]
		}
		current = next
	}
}

// Validate checks the structural invariants of the tree. A failure here is a
// programmer error, not a user-facing condition.
func (ct *ConversationTree) Validate() error {
	for id, node := range ct.Nodes {
		if node.ID != id {
			return errors.Errorf("node %s stored under key %s", node.ID, id)
		}

		if node.ParentID.IsNull() {
			if !contains(ct.Roots, id) {
				return errors.Errorf("root %s missing from roots list", id)
			}
		} else {
			parent, ok := ct.Nodes[node.ParentID]
			if !ok {
				return errors.Errorf("node %s references missing parent %s", id, node.ParentID)
			}
			if !contains(parent.Children, id) {
				return errors.Errorf("parent %s does not list child %s", parent.ID, id)
			}
			if node.Active && !parent.Active {
				return errors.Errorf("node %s active under inactive parent %s", id, parent.ID)
			}
		}

		for _, childID := range node.Children {
			child, ok := ct.Nodes[childID]
			if !ok {
				return errors.Errorf("node %s references missing child %s", id, childID)
			}
			if child.ParentID != id {
				return errors.Errorf("child %s does not point back to %s", childID, id)
			}
		}

		if err := ct.validateSiblingOrder(node.Children); err != nil {
			return err
		}
	}

	return ct.validateSiblingOrder(ct.Roots)
}

func (ct *ConversationTree) validateSiblingOrder(siblings []NodeID) error {
	activeCount := 0
	for i, id := range siblings {
		node, ok := ct.Nodes[id]
		if !ok {
			return errors.Errorf("sibling list references missing node %s", id)
		}
		if node.SiblingIndex != i {
			return errors.Errorf("node %s has sibling index %d, expected %d", id, node.SiblingIndex, i)
		}
		if node.Active {
			activeCount++
		}
	}
	if activeCount > 1 {
		return errors.Errorf("%d active siblings in one set", activeCount)
	}
	return nil
}

func (ct *ConversationTree) renumberChildren(parent *Message) {
	for i, childID := range parent.Children {
		if child, ok := ct.Nodes[childID]; ok {
			child.SiblingIndex = i
		}
	}
}

func (ct *ConversationTree) renumberRoots() {
	for i, rootID := range ct.Roots {
		if root, ok := ct.Nodes[rootID]; ok {
			root.SiblingIndex = i
		}
	}
}

func insertAfter(ids []NodeID, after NodeID, id NodeID) []NodeID {
	out := make([]NodeID, 0, len(ids)+1)
	inserted := false
	for _, existing := range ids {
		out = append(out, existing)
		if existing == after {
			out = append(out, id)
			inserted = true
		}
	}
	if !inserted {
		out = append(out, id)
	}
	return out
}

func remove(ids []NodeID, id NodeID) []NodeID {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func contains(ids []NodeID, id NodeID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
