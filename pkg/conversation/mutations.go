package conversation

import (
	"github.com/pkg/errors"
)

var ErrMessageNotFound = errors.New("message not found")

// Mutation represents a deterministic change to the log. Apply receives the
// current messages and returns the new ones.
type Mutation interface {
	Apply(messages Conversation) (Conversation, error)
	Name() string
}

type appendMessageMutation struct {
	msg *Message
}

func (m appendMessageMutation) Apply(messages Conversation) (Conversation, error) {
	if m.msg == nil {
		return nil, errors.New("message is nil")
	}
	if messages.IndexOf(m.msg.ID) >= 0 {
		return nil, errors.Errorf("message %q already in log", m.msg.ID)
	}
	if err := m.msg.Validate(); err != nil {
		return nil, err
	}
	return append(messages, m.msg.Clone()), nil
}

func (m appendMessageMutation) Name() string { return "append_message" }

// MutateAppendMessage appends a message to the end of the log.
func MutateAppendMessage(msg *Message) Mutation {
	return appendMessageMutation{msg: msg}
}

type updateMessageMutation struct {
	id string
	fn func(*Message) error
}

func (m updateMessageMutation) Apply(messages Conversation) (Conversation, error) {
	idx := messages.IndexOf(m.id)
	if idx < 0 {
		return nil, errors.Wrapf(ErrMessageNotFound, "message %q", m.id)
	}
	updated := messages[idx].Clone()
	if err := m.fn(updated); err != nil {
		return nil, err
	}
	if updated.ID != m.id {
		return nil, errors.Errorf("update changed message id %q to %q", m.id, updated.ID)
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	out := make(Conversation, len(messages))
	copy(out, messages)
	out[idx] = updated
	return out, nil
}

func (m updateMessageMutation) Name() string { return "update_message" }

// MutateUpdateMessage edits a message in place. fn works on a copy, which
// replaces the original only if fn succeeds and the parts still validate.
func MutateUpdateMessage(id string, fn func(*Message) error) Mutation {
	return updateMessageMutation{id: id, fn: fn}
}

// MutateReplaceText replaces all parts of a message with a single text part,
// keeping its id and timestamp.
func MutateReplaceText(id string, text string) Mutation {
	return updateMessageMutation{id: id, fn: func(msg *Message) error {
		msg.Parts = nil
		msg.Content = ""
		msg.AppendPart(NewTextPart(text))
		return nil
	}}
}

type replaceFromMutation struct {
	id          string
	replacement *Message
}

func (m replaceFromMutation) Apply(messages Conversation) (Conversation, error) {
	idx := messages.IndexOf(m.id)
	if idx < 0 {
		return nil, errors.Wrapf(ErrMessageNotFound, "message %q", m.id)
	}
	if m.replacement == nil {
		return nil, errors.New("replacement message is nil")
	}
	if err := m.replacement.Validate(); err != nil {
		return nil, err
	}
	out := make(Conversation, 0, idx+1)
	out = append(out, messages[:idx]...)
	return append(out, m.replacement.Clone()), nil
}

func (m replaceFromMutation) Name() string { return "replace_from" }

// MutateReplaceFrom drops the message with the given id and everything after
// it, then appends replacement. The whole change is one mutation.
func MutateReplaceFrom(id string, replacement *Message) Mutation {
	return replaceFromMutation{id: id, replacement: replacement}
}

type truncateMutation struct {
	id        string
	inclusive bool
}

func (m truncateMutation) Apply(messages Conversation) (Conversation, error) {
	idx := messages.IndexOf(m.id)
	if idx < 0 {
		return nil, errors.Wrapf(ErrMessageNotFound, "message %q", m.id)
	}
	if m.inclusive {
		idx++
	}
	out := make(Conversation, idx)
	copy(out, messages[:idx])
	return out, nil
}

func (m truncateMutation) Name() string {
	if m.inclusive {
		return "truncate_after"
	}
	return "truncate_before"
}

// MutateTruncateBefore keeps only the messages preceding the given one.
func MutateTruncateBefore(id string) Mutation {
	return truncateMutation{id: id}
}

// MutateTruncateAfter keeps the given message and everything before it.
func MutateTruncateAfter(id string) Mutation {
	return truncateMutation{id: id, inclusive: true}
}

type resetMutation struct {
	messages Conversation
}

func (m resetMutation) Apply(_ Conversation) (Conversation, error) {
	for _, msg := range m.messages {
		if err := msg.Validate(); err != nil {
			return nil, err
		}
	}
	return m.messages.Clone(), nil
}

func (m resetMutation) Name() string { return "reset" }

// MutateReset replaces the entire log, e.g. after reloading it from the store.
func MutateReset(messages Conversation) Mutation {
	return resetMutation{messages: messages}
}
