package transport

import (
	"encoding/json"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// Trigger is the declared intent of an outbound request.
type Trigger string

const (
	// TriggerSubmitUserMessage sends the newest user message. The server
	// treats prior history as already durable.
	TriggerSubmitUserMessage Trigger = "submit-user-message"
	// TriggerRegenerateAssistantMessage asks the server to regenerate every
	// assistant message causally after MessageID.
	TriggerRegenerateAssistantMessage Trigger = "regenerate-assistant-message"
)

// Request is the body of an outbound exchange.
type Request struct {
	Trigger Trigger `json:"trigger" jsonschema:"required,enum=submit-user-message,enum=regenerate-assistant-message"`
	ChatID  string  `json:"chatId" jsonschema:"required"`
	// MessageID is the newest user message on submit, the regeneration target
	// on regenerate.
	MessageID string `json:"messageId" jsonschema:"required"`
	// Message is the newest user message on submit. On regenerate it is only
	// set when the target is a user message.
	Message *conversation.Message `json:"message,omitempty"`
	// Messages carries the full remaining log when a client replays history.
	Messages conversation.Conversation `json:"messages,omitempty"`
}

func NewSubmitRequest(chatID string, msg *conversation.Message) *Request {
	ret := &Request{
		Trigger: TriggerSubmitUserMessage,
		ChatID:  chatID,
		Message: msg,
	}
	if msg != nil {
		ret.MessageID = msg.ID
	}
	return ret
}

// NewReplayRequest is a submit request that also carries history.
func NewReplayRequest(chatID string, history conversation.Conversation) *Request {
	var last *conversation.Message
	if len(history) > 0 {
		last = history[len(history)-1]
	}
	ret := NewSubmitRequest(chatID, last)
	ret.Messages = history
	return ret
}

// NewRegenerateRequest targets messageID. edited is nil unless the target is
// a user message.
func NewRegenerateRequest(chatID string, messageID string, edited *conversation.Message) *Request {
	return &Request{
		Trigger:   TriggerRegenerateAssistantMessage,
		ChatID:    chatID,
		MessageID: messageID,
		Message:   edited,
	}
}

func (r *Request) Validate() error {
	if r == nil {
		return errors.New("request is nil")
	}
	if r.ChatID == "" {
		return errors.New("request has no chat id")
	}
	if r.MessageID == "" {
		return errors.New("request has no message id")
	}
	switch r.Trigger {
	case TriggerSubmitUserMessage:
		if r.Message == nil {
			return errors.New("submit request carries no message")
		}
		if r.Message.Role != conversation.RoleUser {
			return errors.Errorf("submit request carries a %s message", r.Message.Role)
		}
		if r.Message.ID != r.MessageID {
			return errors.Errorf("submit request message id %q does not match %q", r.Message.ID, r.MessageID)
		}
	case TriggerRegenerateAssistantMessage:
		if r.Message != nil {
			if r.Message.Role != conversation.RoleUser {
				return errors.New("regenerate request may only carry an edited user message")
			}
			if r.Message.ID != r.MessageID {
				return errors.Errorf("regenerate request message id %q does not match %q", r.Message.ID, r.MessageID)
			}
		}
	default:
		return errors.Errorf("unknown trigger %q", r.Trigger)
	}
	if r.Message != nil {
		if err := r.Message.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RequestSchema returns the JSON schema of Request.
func RequestSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(&Request{})
	return json.MarshalIndent(schema, "", "  ")
}
