package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/loom-chat/loom/pkg/conversation"
	"github.com/loom-chat/loom/pkg/events"
	"github.com/loom-chat/loom/pkg/provider"
	"github.com/loom-chat/loom/pkg/provider/settings"
)

// Controller is the single entry point a UI talks to. It gates tree
// mutations on the session state, feeds the worker, and exposes the event
// stream through a channel sink.
type Controller struct {
	tree     *conversation.ConversationTree
	settings *settings.ProviderSettings
	worker   *Worker
	sink     *events.ChannelSink

	eg        *errgroup.Group
	cancelRun context.CancelFunc
}

const eventBufferSize = 256

func NewController(tree *conversation.ConversationTree, prov provider.Provider, s *settings.ProviderSettings, options ...WorkerOption) *Controller {
	sink := events.NewChannelSink(eventBufferSize)
	options = append(options, WithSinks(sink))

	return &Controller{
		tree:     tree,
		settings: s,
		worker:   NewWorker(tree, prov, options...),
		sink:     sink,
	}
}

// Start launches the worker goroutine. Close must be called to join it.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancelRun = context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	c.eg = eg

	eg.Go(func() error {
		return c.worker.Run(ctx)
	})
}

// Close stops the worker and closes the event stream.
func (c *Controller) Close() error {
	if c.cancelRun != nil {
		c.cancelRun()
	}
	var err error
	if c.eg != nil {
		err = c.eg.Wait()
	}
	c.sink.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Controller) State() State {
	return c.worker.State()
}

// Events is the stream of generation events, closed by Close.
func (c *Controller) Events() <-chan events.Event {
	return c.sink.Events()
}

// Tree exposes the conversation. Callers may only mutate it through the
// gated methods below, or directly while State().AcceptsRequests() holds.
func (c *Controller) Tree() *conversation.ConversationTree {
	return c.tree
}

// Submit queues a user message for generation under the current active
// leaf. ErrBusy while a request is in flight.
func (c *Controller) Submit(text string) error {
	if !c.worker.State().AcceptsRequests() {
		return ErrBusy
	}

	anchor := conversation.NullNode
	if leaf, ok := c.tree.ActiveLeaf(); ok {
		anchor = leaf
	}

	return c.worker.Enqueue(&Request{
		ID:       uuid.New(),
		AnchorID: anchor,
		UserText: text,
		Settings: c.settings,
	})
}

// Retry regenerates an assistant message: the new response is created as a
// sibling under the same parent, leaving the original on an inactive
// branch.
func (c *Controller) Retry(assistantID conversation.NodeID) error {
	if !c.worker.State().AcceptsRequests() {
		return ErrBusy
	}

	anchor, err := c.tree.AnchorForRetry(assistantID)
	if err != nil {
		return err
	}

	return c.worker.Enqueue(&Request{
		ID:       uuid.New(),
		AnchorID: anchor,
		Settings: c.settings,
	})
}

// EditMessage creates an edited sibling of id. Editing a user message also
// queues a regeneration below the new version; editing an assistant message
// only switches the branch.
func (c *Controller) EditMessage(id conversation.NodeID, newContent string) (conversation.NodeID, error) {
	if !c.worker.State().AcceptsRequests() {
		return conversation.NullNode, ErrBusy
	}

	original, ok := c.tree.GetMessage(id)
	if !ok {
		return conversation.NullNode, errors.Wrapf(conversation.ErrNodeNotFound, "message %s", id)
	}
	role := original.Role

	newID, err := c.tree.EditMessage(id, newContent)
	if err != nil {
		return conversation.NullNode, err
	}

	if role == conversation.RoleUser {
		err = c.worker.Enqueue(&Request{
			ID:       uuid.New(),
			AnchorID: newID,
			Settings: c.settings,
		})
		if err != nil {
			return newID, err
		}
	}

	return newID, nil
}

// NavigateSibling switches the active branch, gated on the session state.
func (c *Controller) NavigateSibling(id conversation.NodeID, delta int) (conversation.NodeID, error) {
	if !c.worker.State().AcceptsRequests() {
		return conversation.NullNode, ErrBusy
	}
	return c.tree.NavigateSibling(id, delta)
}

// DeleteMessage removes a message and its subtree, gated on the session
// state. Surviving siblings stay inactive until navigated to.
func (c *Controller) DeleteMessage(id conversation.NodeID) error {
	if !c.worker.State().AcceptsRequests() {
		return ErrBusy
	}
	return c.tree.DeleteMessage(id)
}

// Stop cancels the in-flight generation. Accumulated text is committed by
// the worker.
func (c *Controller) Stop() {
	c.worker.Stop()
}
