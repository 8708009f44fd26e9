package transport

import (
	"encoding/json"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type DeltaType string

const (
	DeltaTypeStart              DeltaType = "start"
	DeltaTypeTextStart          DeltaType = "text-start"
	DeltaTypeTextDelta          DeltaType = "text-delta"
	DeltaTypeTextEnd            DeltaType = "text-end"
	DeltaTypeReasoningDelta     DeltaType = "reasoning-delta"
	DeltaTypeToolInputStart     DeltaType = "tool-input-start"
	DeltaTypeToolInputDelta     DeltaType = "tool-input-delta"
	DeltaTypeToolInputAvailable DeltaType = "tool-input-available"
	DeltaTypeToolOutput         DeltaType = "tool-output-available"
	DeltaTypeToolOutputError    DeltaType = "tool-output-error"
	DeltaTypeSourceURL          DeltaType = "source-url"
	DeltaTypeSourceDocument     DeltaType = "source-document"
	DeltaTypeFile               DeltaType = "file"
	DeltaTypeData               DeltaType = "data"
	DeltaTypeFinish             DeltaType = "finish"
	DeltaTypeError              DeltaType = "error"
	// DeltaTypeMessage carries a complete assistant message, for servers that
	// answer with a single payload.
	DeltaTypeMessage DeltaType = "message"
)

// Delta is one incremental fragment of assistant output.
type Delta struct {
	Type DeltaType `json:"type"`

	// start
	MessageID string `json:"messageId,omitempty"`
	// text and reasoning block id
	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`

	SourceID  string `json:"sourceId,omitempty"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Filename  string `json:"filename,omitempty"`

	DataName string          `json:"dataName,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	Message *conversation.Message `json:"message,omitempty"`
}

func (d Delta) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(d.Type))
	if d.MessageID != "" {
		e.Str("message_id", d.MessageID)
	}
	if d.ID != "" {
		e.Str("id", d.ID)
	}
	if d.ToolCallID != "" {
		e.Str("tool_call_id", d.ToolCallID)
	}
	if d.ToolName != "" {
		e.Str("tool_name", d.ToolName)
	}
	if d.ErrorText != "" {
		e.Str("error_text", d.ErrorText)
	}
}

var _ zerolog.LogObjectMarshaler = Delta{}

// ParseDelta decodes one delta. Complete messages are validated as message
// records.
func ParseDelta(b []byte) (*Delta, error) {
	var raw struct {
		Delta
		Message json.RawMessage `json:"message,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "could not decode delta")
	}
	if raw.Delta.Type == "" {
		return nil, errors.New("delta has no type")
	}
	d := raw.Delta
	if len(raw.Message) > 0 && string(raw.Message) != "null" {
		msg, err := conversation.ParseMessageJSON(raw.Message)
		if err != nil {
			return nil, err
		}
		d.Message = msg
	}
	if d.Type == DeltaTypeMessage && d.Message == nil {
		return nil, errors.New("message delta carries no message")
	}
	return &d, nil
}

// Chunk is what a Client delivers: a delta or a terminal error.
type Chunk struct {
	Delta *Delta
	Err   error
}
