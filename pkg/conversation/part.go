package conversation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type PartType string

const (
	PartTypeText           PartType = "text"
	PartTypeReasoning      PartType = "reasoning"
	PartTypeFile           PartType = "file"
	PartTypeSourceURL      PartType = "source-url"
	PartTypeSourceDocument PartType = "source-document"
	PartTypeToolInvocation PartType = "tool-invocation"
	PartTypeData           PartType = "data"
)

type ToolState string

const (
	ToolStateInputStreaming  ToolState = "input-streaming"
	ToolStateInputAvailable  ToolState = "input-available"
	ToolStateOutputAvailable ToolState = "output-available"
	ToolStateOutputError     ToolState = "output-error"
)

func (s ToolState) Valid() bool {
	switch s {
	case ToolStateInputStreaming, ToolStateInputAvailable, ToolStateOutputAvailable, ToolStateOutputError:
		return true
	}
	return false
}

// Part is one typed, ordered element of a message.
//
// Which fields are mandatory depends only on Type. Pointer fields distinguish
// an absent value from an empty one.
type Part struct {
	Type  PartType `json:"type" yaml:"type"`
	Index int      `json:"index" yaml:"index"`

	// text, reasoning
	Text *string `json:"text,omitempty" yaml:"text,omitempty"`

	// file, source-url, source-document
	MediaType *string `json:"mediaType,omitempty" yaml:"mediaType,omitempty"`
	Filename  *string `json:"filename,omitempty" yaml:"filename,omitempty"`
	URL       *string `json:"url,omitempty" yaml:"url,omitempty"`
	SourceID  *string `json:"sourceId,omitempty" yaml:"sourceId,omitempty"`
	Title     *string `json:"title,omitempty" yaml:"title,omitempty"`

	// tool-invocation
	ToolCallID *string         `json:"toolCallId,omitempty" yaml:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty" yaml:"toolName,omitempty"`
	State      *ToolState      `json:"state,omitempty" yaml:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty" yaml:"-"`
	Output     json.RawMessage `json:"output,omitempty" yaml:"-"`
	ErrorText  string          `json:"errorText,omitempty" yaml:"errorText,omitempty"`

	// data
	DataName string          `json:"dataName,omitempty" yaml:"dataName,omitempty"`
	Data     json.RawMessage `json:"data,omitempty" yaml:"-"`
}

var ErrMalformedPart = errors.New("malformed part")

// MalformedPartError reports a part whose type-mandatory fields are missing.
type MalformedPartError struct {
	Type    PartType
	Missing []string
	Reason  string
}

func (e *MalformedPartError) Error() string {
	if e == nil {
		return ErrMalformedPart.Error()
	}
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s %q: missing %s", ErrMalformedPart, e.Type, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s %q: %s", ErrMalformedPart, e.Type, e.Reason)
}

func (e *MalformedPartError) Is(target error) bool { return target == ErrMalformedPart }

// requiredFields lists the mandatory field group of every part type.
var requiredFields = map[PartType][]string{
	PartTypeText:           {"text"},
	PartTypeReasoning:      {"text"},
	PartTypeFile:           {"mediaType", "filename", "url"},
	PartTypeSourceURL:      {"sourceId", "url"},
	PartTypeSourceDocument: {"sourceId", "mediaType", "title"},
	PartTypeToolInvocation: {"toolCallId", "state"},
	PartTypeData:           {"data"},
}

func (p *Part) has(field string) bool {
	switch field {
	case "text":
		return p.Text != nil
	case "mediaType":
		return p.MediaType != nil && *p.MediaType != ""
	case "filename":
		return p.Filename != nil && *p.Filename != ""
	case "url":
		return p.URL != nil && *p.URL != ""
	case "sourceId":
		return p.SourceID != nil && *p.SourceID != ""
	case "title":
		return p.Title != nil
	case "toolCallId":
		return p.ToolCallID != nil && *p.ToolCallID != ""
	case "state":
		return p.State != nil && *p.State != ""
	case "data":
		return len(p.Data) > 0
	}
	return false
}

// Validate enforces the required field group of the part's type.
func (p Part) Validate() error {
	fields, ok := requiredFields[p.Type]
	if !ok {
		return &MalformedPartError{Type: p.Type, Reason: "unknown part type"}
	}
	var missing []string
	for _, f := range fields {
		if !p.has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &MalformedPartError{Type: p.Type, Missing: missing}
	}
	if p.Type == PartTypeToolInvocation && !p.State.Valid() {
		return &MalformedPartError{Type: p.Type, Reason: fmt.Sprintf("invalid tool state %q", *p.State)}
	}
	return nil
}

// NewPart validates a fully populated part.
func NewPart(p Part) (Part, error) {
	if err := p.Validate(); err != nil {
		return Part{}, err
	}
	return p, nil
}

func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: &text}
}

func NewReasoningPart(text string) Part {
	return Part{Type: PartTypeReasoning, Text: &text}
}

func NewFilePart(mediaType, filename, url string) (Part, error) {
	return NewPart(Part{
		Type:      PartTypeFile,
		MediaType: optional(mediaType),
		Filename:  optional(filename),
		URL:       optional(url),
	})
}

func NewSourceURLPart(sourceID, url, title string) (Part, error) {
	p := Part{Type: PartTypeSourceURL, SourceID: optional(sourceID), URL: optional(url)}
	if title != "" {
		p.Title = &title
	}
	return NewPart(p)
}

func NewSourceDocumentPart(sourceID, mediaType, title, filename string) (Part, error) {
	return NewPart(Part{
		Type:      PartTypeSourceDocument,
		SourceID:  optional(sourceID),
		MediaType: optional(mediaType),
		Title:     &title,
		Filename:  optional(filename),
	})
}

func NewToolInvocationPart(toolCallID, toolName string, state ToolState, input json.RawMessage) (Part, error) {
	p := Part{
		Type:       PartTypeToolInvocation,
		ToolCallID: optional(toolCallID),
		ToolName:   toolName,
		Input:      input,
	}
	if state != "" {
		p.State = &state
	}
	return NewPart(p)
}

func NewDataPart(name string, data json.RawMessage) (Part, error) {
	return NewPart(Part{Type: PartTypeData, DataName: name, Data: data})
}

// TextValue returns the text body, or "" if there is none.
func (p Part) TextValue() string {
	if p.Text == nil {
		return ""
	}
	return *p.Text
}

// ToolStateValue returns the tool state, or "" if there is none.
func (p Part) ToolStateValue() ToolState {
	if p.State == nil {
		return ""
	}
	return *p.State
}

// AppendText extends the text body of a text or reasoning part.
func (p *Part) AppendText(delta string) {
	s := p.TextValue() + delta
	p.Text = &s
}

// SetToolState moves a tool-invocation part to a new state.
func (p *Part) SetToolState(state ToolState) {
	p.State = &state
}

// Clone returns a copy of the part that shares no memory with the original.
func (p Part) Clone() Part {
	out := p
	out.Text = cloneString(p.Text)
	out.MediaType = cloneString(p.MediaType)
	out.Filename = cloneString(p.Filename)
	out.URL = cloneString(p.URL)
	out.SourceID = cloneString(p.SourceID)
	out.Title = cloneString(p.Title)
	out.ToolCallID = cloneString(p.ToolCallID)
	if p.State != nil {
		s := *p.State
		out.State = &s
	}
	out.Input = cloneRaw(p.Input)
	out.Output = cloneRaw(p.Output)
	out.Data = cloneRaw(p.Data)
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}
