package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// EventSink is a destination for generation events. Implementations publish
// to different backends like watermill, channels, or nothing at all.
type EventSink interface {
	PublishEvent(event Event) error
}

// NullSink discards all events. Useful for tests or when event publishing is
// not desired.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(event Event) error {
	return nil
}

var _ EventSink = (*NullSink)(nil)

// WatermillSink publishes events to a watermill Publisher so they can be
// distributed through the message bus to multiple subscribers.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	err = w.publisher.Publish(w.topic, msg)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)

// ChannelSink delivers events to a Go channel, for consumers that want to
// range over a session's events directly. Events are dropped when the channel
// is full rather than blocking the generation loop.
type ChannelSink struct {
	ch chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		ch: make(chan Event, buffer),
	}
}

func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}

func (c *ChannelSink) PublishEvent(event Event) error {
	select {
	case c.ch <- event:
	default:
		log.Warn().Str("event_type", string(event.Type())).Msg("channel sink full, dropping event")
	}
	return nil
}

// Close closes the underlying channel. Publish must not be called afterwards.
func (c *ChannelSink) Close() {
	close(c.ch)
}

var _ EventSink = (*ChannelSink)(nil)
