package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog/log"
)

// EventSink receives events from the conversation engine.
type EventSink interface {
	// PublishEvent publishes an event to the sink.
	// Returns an error if the event could not be published.
	PublishEvent(event Event) error
}

// PublishBlind publishes to sink and only logs failures. A nil sink is allowed.
func PublishBlind(sink EventSink, event Event) {
	if sink == nil {
		return
	}
	if err := sink.PublishEvent(event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish")
	}
}

// NullSink discards all events.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(Event) error {
	return nil
}

var _ EventSink = (*NullSink)(nil)

// RecordingSink keeps every published event in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (r *RecordingSink) PublishEvent(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *RecordingSink) OfType(t EventType) []Event {
	var ret []Event
	for _, e := range r.Events() {
		if e.Type() == t {
			ret = append(ret, e)
		}
	}
	return ret
}

func (r *RecordingSink) Notifications() []*EventNotification {
	var ret []*EventNotification
	for _, e := range r.OfType(EventTypeNotification) {
		if n, ok := e.(*EventNotification); ok {
			ret = append(ret, n)
		}
	}
	return ret
}

func (r *RecordingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ EventSink = (*RecordingSink)(nil)

// FanoutSink forwards every event to all of its sinks and returns the first
// error encountered.
type FanoutSink []EventSink

func (f FanoutSink) PublishEvent(event Event) error {
	var first error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.PublishEvent(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ EventSink = FanoutSink(nil)

const (
	sequenceNumberMetadataKey = "sequence_number"
	correlationIDMetadataKey  = "correlation_id"
)

// WatermillSink publishes events as JSON watermill messages. Every message
// carries a sequence number, in publishing order, and the conversation id as
// correlation id.
type WatermillSink struct {
	publisher message.Publisher
	topic     string

	mu             sync.Mutex
	sequenceNumber uint64
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

	// lock so that sequence numbers follow publish order
	w.mu.Lock()
	defer w.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(sequenceNumberMetadataKey, fmt.Sprintf("%d", w.sequenceNumber))
	w.sequenceNumber++

	correlationID := event.Metadata().ConversationID
	if correlationID == "" {
		// generated ids are prefixed so they stand out from real conversation ids
		correlationID = "gen_" + shortuuid.New()
	}
	msg.Metadata.Set(correlationIDMetadataKey, correlationID)

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)
