package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// DefaultTopic is the topic conversation events are published on.
const DefaultTopic = "chat"

// EventHandler receives decoded conversation events from a Router.
type EventHandler interface {
	HandleStatus(ctx context.Context, e *EventStatus) error
	HandleMessagesChanged(ctx context.Context, e *EventMessagesChanged) error
	HandleHistoryStale(ctx context.Context, e *EventHistoryStale) error
	HandleLocation(ctx context.Context, e *EventLocation) error
	HandleNotification(ctx context.Context, e *EventNotification) error
}

// Router is the process-wide event bus: an in-process gochannel pubsub and a
// watermill router dispatching to registered handlers.
type Router struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type RouterOption func(*Router)

func WithLogger(logger watermill.LoggerAdapter) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithPublisher(publisher message.Publisher) RouterOption {
	return func(r *Router) {
		r.Publisher = publisher
	}
}

func WithSubscriber(subscriber message.Subscriber) RouterOption {
	return func(r *Router) {
		r.Subscriber = subscriber
	}
}

func WithVerbose(verbose bool) RouterOption {
	return func(r *Router) {
		r.verbose = verbose
		r.logger = NewWatermillLogger(log.Logger)
	}
}

func NewRouter(options ...RouterOption) (*Router, error) {
	ret := &Router{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	if ret.Publisher == nil || ret.Subscriber == nil {
		goPubSub := gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, ret.logger)
		if ret.Publisher == nil {
			ret.Publisher = goPubSub
		}
		if ret.Subscriber == nil {
			ret.Subscriber = goPubSub
		}
	}

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

// Sink returns a sink publishing onto topic of this router.
func (r *Router) Sink(topic string) *WatermillSink {
	return NewWatermillSink(r.Publisher, topic)
}

func (r *Router) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	r.router.AddNoPublisherHandler(name, topic, r.Subscriber, f)
}

// DispatchHandler decodes messages and dispatches them to handler. Payloads
// that cannot be decoded are logged and acknowledged.
func DispatchHandler(handler EventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		logFields := watermill.LogFields{"message_id": msg.UUID}

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			logFields["payload"] = string(msg.Payload)
			log.Error().Interface("logFields", logFields).Err(err).Msg("Failed to parse event from message payload")
			return nil
		}

		ctx := msg.Context()
		var handlerErr error
		switch ev := e.(type) {
		case *EventStatus:
			handlerErr = handler.HandleStatus(ctx, ev)
		case *EventMessagesChanged:
			handlerErr = handler.HandleMessagesChanged(ctx, ev)
		case *EventHistoryStale:
			handlerErr = handler.HandleHistoryStale(ctx, ev)
		case *EventLocation:
			handlerErr = handler.HandleLocation(ctx, ev)
		case *EventNotification:
			handlerErr = handler.HandleNotification(ctx, ev)
		default:
			log.Warn().Interface("logFields", logFields).Str("event_type", string(e.Type())).Msg("Unhandled event type")
		}

		if handlerErr != nil {
			log.Error().Interface("logFields", logFields).Err(handlerErr).Msg("Error processing event")
			return handlerErr
		}
		return nil
	}
}

// DumpRawEvents returns a handler printing every payload as indented JSON.
// Unless the router is verbose, event metadata is reduced to the conversation id.
func (r *Router) DumpRawEvents(w io.Writer) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var s map[string]interface{}
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		if !r.verbose {
			if meta, ok := s["meta"].(map[string]interface{}); ok {
				s["conversation_id"] = meta["conversation_id"]
			}
			delete(s, "meta")
		}
		b, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
}

func (r *Router) Close() error {
	log.Debug().Msg("Closing publisher")
	if err := r.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}
	log.Debug().Msg("Closing router")
	if err := r.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	log.Debug().Msg("Router closed")
	return nil
}

func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) IsRunning() bool {
	return r.router.IsRunning()
}

func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}
