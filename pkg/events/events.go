package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStatus is emitted on every transport status transition.
	EventTypeStatus EventType = "status"
	// EventTypeMessagesChanged is emitted after every mutation of the canonical log.
	EventTypeMessagesChanged EventType = "messages-changed"
	// EventTypeHistoryStale tells listeners that conversation metadata (titles,
	// conversation lists) may be out of date.
	EventTypeHistoryStale EventType = "history-stale"
	// EventTypeLocation is emitted once, when a brand-new conversation finishes
	// its first exchange.
	EventTypeLocation EventType = "location"
	// EventTypeNotification is a user-visible message, usually an error.
	EventTypeNotification EventType = "notification"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventMetadata struct {
	ID             uuid.UUID `json:"event_id" yaml:"event_id" mapstructure:"event_id"`
	ConversationID string    `json:"conversation_id" yaml:"conversation_id" mapstructure:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty" yaml:"message_id,omitempty" mapstructure:"message_id"`
	Time           time.Time `json:"time" yaml:"time" mapstructure:"time"`
	// Extra carries caller specific values
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

func NewMetadata(conversationID string, messageID string) EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID,
		MessageID:      messageID,
		Time:           time.Now(),
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event_id", em.ID.String())
	e.Str("conversation_id", em.ConversationID)
	if em.MessageID != "" {
		e.Str("message_id", em.MessageID)
	}
	if len(em.Extra) > 0 {
		e.Interface("extra", em.Extra)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw payload if the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventStatus struct {
	EventImpl
	Status   string `json:"status"`
	Previous string `json:"previous"`
	Error    string `json:"error,omitempty"`
}

func NewStatusEvent(metadata EventMetadata, previous, status string, err error) *EventStatus {
	ret := &EventStatus{
		EventImpl: EventImpl{Type_: EventTypeStatus, Metadata_: metadata},
		Status:    status,
		Previous:  previous,
	}
	if err != nil {
		ret.Error = err.Error()
	}
	return ret
}

var _ Event = &EventStatus{}

type EventMessagesChanged struct {
	EventImpl
	Mutation string `json:"mutation"`
	Version  int64  `json:"version"`
}

func NewMessagesChangedEvent(metadata EventMetadata, mutation string, version int64) *EventMessagesChanged {
	return &EventMessagesChanged{
		EventImpl: EventImpl{Type_: EventTypeMessagesChanged, Metadata_: metadata},
		Mutation:  mutation,
		Version:   version,
	}
}

var _ Event = &EventMessagesChanged{}

type EventHistoryStale struct {
	EventImpl
}

func NewHistoryStaleEvent(metadata EventMetadata) *EventHistoryStale {
	return &EventHistoryStale{
		EventImpl: EventImpl{Type_: EventTypeHistoryStale, Metadata_: metadata},
	}
}

var _ Event = &EventHistoryStale{}

type EventLocation struct {
	EventImpl
	Path string `json:"path"`
}

func NewLocationEvent(metadata EventMetadata, path string) *EventLocation {
	return &EventLocation{
		EventImpl: EventImpl{Type_: EventTypeLocation, Metadata_: metadata},
		Path:      path,
	}
}

var _ Event = &EventLocation{}

type NotificationLevel string

const (
	NotificationLevelError   NotificationLevel = "error"
	NotificationLevelWarning NotificationLevel = "warning"
	NotificationLevelInfo    NotificationLevel = "info"
)

// EventNotification is the single user-visible report of a failed attempt.
// Kind is a stable machine-readable tag such as "transport_failure".
type EventNotification struct {
	EventImpl
	Level NotificationLevel `json:"level"`
	Kind  string            `json:"kind"`
	Text  string            `json:"text"`
}

func NewNotificationEvent(metadata EventMetadata, level NotificationLevel, kind string, text string) *EventNotification {
	return &EventNotification{
		EventImpl: EventImpl{Type_: EventTypeNotification, Metadata_: metadata},
		Level:     level,
		Kind:      kind,
		Text:      text,
	}
}

// NewErrorNotification builds an error level notification from err.
func NewErrorNotification(metadata EventMetadata, kind string, err error) *EventNotification {
	return NewNotificationEvent(metadata, NotificationLevelError, kind, err.Error())
}

var _ Event = &EventNotification{}

// NewEventFromJson decodes a payload published by a sink back into its
// concrete event type.
func NewEventFromJson(b []byte) (Event, error) {
	var e EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	e.payload = b

	var ret Event
	switch e.Type_ {
	case EventTypeStatus:
		ret = &EventStatus{}
	case EventTypeMessagesChanged:
		ret = &EventMessagesChanged{}
	case EventTypeHistoryStale:
		ret = &EventHistoryStale{}
	case EventTypeLocation:
		ret = &EventLocation{}
	case EventTypeNotification:
		ret = &EventNotification{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", e.Type_)
	}
	if err := json.Unmarshal(b, ret); err != nil {
		return nil, err
	}
	if s, ok := ret.(interface{ setPayload([]byte) }); ok {
		s.setPayload(b)
	}
	return ret, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
