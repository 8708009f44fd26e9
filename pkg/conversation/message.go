package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is a single entry of the canonical conversation log.
//
// A message is identified by its ID and never reordered once created. Its
// parts are only ever appended to (streamed content, tool results) or
// replaced wholesale by an edit.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	Parts     []Part    `json:"parts" yaml:"parts"`

	// Content is the plain-content field carried by older records that predate parts.
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = t
	}
}

func WithContent(content string) MessageOption {
	return func(m *Message) {
		m.Content = content
	}
}

// NewMessage creates a message with a fresh id and the current time. Part
// indices are renumbered to match their position.
func NewMessage(role Role, parts []Part, options ...MessageOption) *Message {
	ret := &Message{
		ID:        uuid.NewString(),
		Role:      role,
		CreatedAt: time.Now(),
	}
	for _, p := range parts {
		ret.AppendPart(p)
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// NewUserTextMessage creates a user message whose sole part is a text part.
func NewUserTextMessage(text string, options ...MessageOption) *Message {
	return NewMessage(RoleUser, []Part{NewTextPart(text)}, options...)
}

// AppendPart appends p and assigns it the next sequence index.
func (m *Message) AppendPart(p Part) int {
	p.Index = len(m.Parts)
	m.Parts = append(m.Parts, p)
	return p.Index
}

// Text returns the text content of the message: the text parts if there are
// any, the plain content field otherwise.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	if t := TextOf(m.Parts); t != "" {
		return t
	}
	return m.Content
}

// FindToolInvocation returns the index of the tool-invocation part with the
// given call id, or -1.
func (m *Message) FindToolInvocation(toolCallID string) int {
	if m == nil {
		return -1
	}
	for i := range m.Parts {
		p := &m.Parts[i]
		if p.Type == PartTypeToolInvocation && p.ToolCallID != nil && *p.ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}

// Validate checks every part of the message against its type's required fields.
func (m *Message) Validate() error {
	for _, p := range m.Parts {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if len(m.Parts) > 0 {
		out.Parts = make([]Part, len(m.Parts))
		for i := range m.Parts {
			out.Parts[i] = m.Parts[i].Clone()
		}
	}
	return &out
}

func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(m.Role))
	sb.WriteString("]: ")
	sb.WriteString(strings.TrimRight(m.Text(), "\n"))
	return sb.String()
}

// Conversation is an ordered list of messages.
type Conversation []*Message

// Clone deep-copies every message of the conversation.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	for i, m := range c {
		out[i] = m.Clone()
	}
	return out
}

// IndexOf returns the position of the message with the given id, or -1.
func (c Conversation) IndexOf(id string) int {
	for i, m := range c {
		if m.ID == id {
			return i
		}
	}
	return -1
}
