package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/loom-chat/loom/pkg/conversation"
	"github.com/loom-chat/loom/pkg/events"
	"github.com/loom-chat/loom/pkg/provider"
)

// errStopped aborts the streaming callback when Stop was requested. It never
// escapes the worker.
var errStopped = errors.New("generation stopped")

const defaultPollInterval = 250 * time.Millisecond

// Worker runs the generation loop for one conversation. All tree mutations
// happen on the worker goroutine while a request is in flight; callers may
// only touch the tree while the session accepts requests.
type Worker struct {
	tree      *conversation.ConversationTree
	provider  provider.Provider
	character Character

	sessionID      string
	conversationID string
	sinks          []events.EventSink

	queue        chan *Request
	pollInterval time.Duration

	mu      sync.Mutex
	state   State
	stopped bool
	cancel  context.CancelFunc
}

type WorkerOption func(*Worker)

func WithSinks(sinks ...events.EventSink) WorkerOption {
	return func(w *Worker) {
		w.sinks = append(w.sinks, sinks...)
	}
}

func WithCharacter(c Character) WorkerOption {
	return func(w *Worker) {
		w.character = c
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.pollInterval = d
	}
}

func WithConversationID(id string) WorkerOption {
	return func(w *Worker) {
		w.conversationID = id
	}
}

func NewWorker(tree *conversation.ConversationTree, prov provider.Provider, options ...WorkerOption) *Worker {
	w := &Worker{
		tree:           tree,
		provider:       prov,
		sessionID:      uuid.NewString(),
		conversationID: uuid.NewString(),
		queue:          make(chan *Request, 1),
		pollInterval:   defaultPollInterval,
		state:          StateIdle,
	}
	for _, o := range options {
		o(w)
	}
	return w
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	log.Debug().Str("session_id", w.sessionID).Str("state", s.String()).Msg("session state changed")
}

// Enqueue hands a request to the worker. It fails with ErrBusy while a
// previous request has not reached a terminal state.
func (w *Worker) Enqueue(req *Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.AcceptsRequests() {
		return ErrBusy
	}

	select {
	case w.queue <- req:
		w.state = StateQueued
		w.stopped = false
		return nil
	default:
		return ErrBusy
	}
}

// Stop requests cooperative cancellation of the in-flight generation. It
// returns immediately; the worker commits whatever was accumulated.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()

	log.Debug().Str("session_id", w.sessionID).Msg("stop requested")
	if cancel != nil {
		cancel()
	}
}

func (w *Worker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Run processes requests until ctx is cancelled. The timed poll keeps the
// loop responsive to shutdown even when nothing is queued.
func (w *Worker) Run(ctx context.Context) error {
	log.Debug().Str("session_id", w.sessionID).Msg("generation worker started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("session_id", w.sessionID).Msg("generation worker stopping")
			return ctx.Err()
		case req := <-w.queue:
			w.process(ctx, req)
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *Worker) process(ctx context.Context, req *Request) {
	started := time.Now()

	s := req.Settings
	metadata := events.EventMetadata{
		ID:             uuid.New(),
		SessionID:      w.sessionID,
		ConversationID: w.conversationID,
		GenerationInfo: events.GenerationInfo{
			Model:       s.Model,
			Temperature: s.Temperature,
			TopP:        s.TopP,
			MaxTokens:   s.MaxResponseTokens,
		},
	}

	anchor := req.AnchorID
	if req.UserText != "" {
		userMsg := conversation.NewMessage(conversation.RoleUser, req.UserText)
		id, err := w.tree.AddMessage(userMsg, anchor)
		if err != nil {
			w.failRequest(ctx, metadata, started, errors.Wrap(err, "adding user message"))
			return
		}
		anchor = id
		w.publishMessageAdded(ctx, metadata, userMsg)
	}

	systemPrompt, err := provider.FormatSystemPrompt(s.SystemMessageTemplate, provider.SystemPromptData{
		CharacterName: w.character.Name,
		Personality:   w.character.Personality,
	}, w.character.UserContext)
	if err != nil {
		w.failRequest(ctx, metadata, started, err)
		return
	}

	contextSize := s.ContextSize
	if contextSize <= 0 {
		contextSize = provider.ContextSizeForModel(s.Model)
	}
	maxTokens := 0
	if s.MaxResponseTokens != nil {
		maxTokens = *s.MaxResponseTokens
	}
	transcript := provider.TruncateToBudget(
		w.transcript(anchor),
		systemPrompt,
		provider.Budget{ContextSize: contextSize, MaxResponseTokens: maxTokens},
		provider.NewTokenCounter(s.Model),
	)

	w.publishEvent(ctx, events.NewStartEvent(metadata))

	if w.isStopped() {
		// stopped before the provider was even called
		w.finishCancelled(ctx, metadata, started, anchor, "")
		return
	}

	genCtx := ctx
	if s.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		genCtx, cancelTimeout = context.WithTimeout(genCtx, s.Timeout)
		defer cancelTimeout()
	}
	genCtx, cancel := context.WithCancel(genCtx)
	defer cancel()
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.cancel = nil
		w.mu.Unlock()
	}()

	if s.Streaming {
		w.processStreaming(ctx, genCtx, metadata, started, anchor, transcript, systemPrompt)
	} else {
		w.processBlocking(ctx, genCtx, metadata, started, anchor, transcript, systemPrompt)
	}
}

func (w *Worker) processStreaming(ctx, genCtx context.Context, metadata events.EventMetadata, started time.Time, anchor conversation.NodeID, transcript []provider.Turn, systemPrompt string) {
	w.setState(StateStreaming)

	completion := ""
	err := w.provider.GetStreamingResponse(genCtx, transcript, systemPrompt, func(token string, done bool) error {
		if done {
			return nil
		}
		if w.isStopped() {
			return errStopped
		}
		completion += token
		w.publishEvent(ctx, events.NewPartialCompletionEvent(metadata, token, completion))
		return nil
	})

	switch {
	case err == nil:
		w.finishCompleted(ctx, metadata, started, anchor, completion)
	case errors.Is(err, errStopped) || provider.KindOf(err) == provider.ErrorKindCancelled:
		w.finishCancelled(ctx, metadata, started, anchor, completion)
	default:
		w.failRequest(ctx, metadata, started, err)
	}
}

// processBlocking performs a non-streaming call. Cancellation is only
// observed once the call returns; text that did come back is still
// committed.
func (w *Worker) processBlocking(ctx, genCtx context.Context, metadata events.EventMetadata, started time.Time, anchor conversation.NodeID, transcript []provider.Turn, systemPrompt string) {
	w.setState(StateNonStreaming)

	text, err := w.provider.GetResponse(genCtx, transcript, systemPrompt)
	if err != nil {
		if provider.KindOf(err) == provider.ErrorKindCancelled {
			w.finishCancelled(ctx, metadata, started, anchor, "")
		} else {
			w.failRequest(ctx, metadata, started, err)
		}
		return
	}

	if w.isStopped() {
		w.finishCancelled(ctx, metadata, started, anchor, text)
		return
	}
	w.finishCompleted(ctx, metadata, started, anchor, text)
}

func (w *Worker) finishCompleted(ctx context.Context, metadata events.EventMetadata, started time.Time, anchor conversation.NodeID, text string) {
	metadata.DurationMs = durationMs(started)
	committed := text
	if committed == "" {
		committed = ThinkingPlaceholder
	}

	msg, err := w.commitAssistant(ctx, metadata, anchor, committed)
	if err != nil {
		w.failRequest(ctx, metadata, started, err)
		return
	}

	w.publishEvent(ctx, events.NewFinalEvent(metadata, committed))
	w.setState(StateCompleted)
	log.Debug().
		Str("session_id", w.sessionID).
		Str("message_id", msg.ID.String()).
		Int("length", len(committed)).
		Msg("generation completed")
}

func (w *Worker) finishCancelled(ctx context.Context, metadata events.EventMetadata, started time.Time, anchor conversation.NodeID, accumulated string) {
	metadata.DurationMs = durationMs(started)
	committed := accumulated
	if committed == "" {
		committed = ThinkingPlaceholder
	}

	msg, err := w.commitAssistant(ctx, metadata, anchor, committed)
	if err != nil {
		w.failRequest(ctx, metadata, started, err)
		return
	}

	w.publishEvent(ctx, events.NewInterruptEvent(metadata, accumulated))
	w.setState(StateCancelled)
	log.Debug().
		Str("session_id", w.sessionID).
		Str("message_id", msg.ID.String()).
		Int("accumulated_length", len(accumulated)).
		Msg("generation cancelled")
}

// failRequest ends a request without committing a message.
func (w *Worker) failRequest(ctx context.Context, metadata events.EventMetadata, started time.Time, err error) {
	metadata.DurationMs = durationMs(started)
	kind := provider.KindOf(err)
	w.publishEvent(ctx, events.NewErrorEventWithKind(metadata, err, string(kind)))
	w.setState(StateFailed)
	log.Warn().
		Err(err).
		Str("session_id", w.sessionID).
		Str("kind", string(kind)).
		Msg("generation failed")
}

func (w *Worker) commitAssistant(ctx context.Context, metadata events.EventMetadata, anchor conversation.NodeID, text string) (*conversation.Message, error) {
	msg := conversation.NewMessage(conversation.RoleAssistant, text)
	if _, err := w.tree.AddMessage(msg, anchor); err != nil {
		return nil, errors.Wrap(err, "committing assistant message")
	}
	w.publishMessageAdded(ctx, metadata, msg)
	return msg, nil
}

// transcript renders the active path as provider turns, cut after upTo.
// A regeneration anchored above the active leaf must not see the reply it
// replaces or anything after it.
func (w *Worker) transcript(upTo conversation.NodeID) []provider.Turn {
	path := w.tree.ActivePath()
	turns := make([]provider.Turn, 0, len(path))
	for _, msg := range path {
		turns = append(turns, provider.Turn{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
		if msg.ID == upTo {
			break
		}
	}
	return turns
}

func (w *Worker) publishMessageAdded(ctx context.Context, metadata events.EventMetadata, msg *conversation.Message) {
	parentID := ""
	if !msg.ParentID.IsNull() {
		parentID = msg.ParentID.String()
	}
	w.publishEvent(ctx, events.NewMessageAddedEvent(metadata, msg.ID.String(), parentID, string(msg.Role), msg.Content))
}

// publishEvent publishes to the configured sinks and any sinks carried in
// the context.
func (w *Worker) publishEvent(ctx context.Context, event events.Event) {
	for _, sink := range w.sinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish event to sink")
		}
	}
	events.PublishEventToContext(ctx, event)
}

func durationMs(started time.Time) *int64 {
	ms := time.Since(started).Milliseconds()
	return &ms
}
