// Package sections derives the presentation grouping of a conversation log.
package sections

import (
	"github.com/go-go-golems/chatstate/pkg/conversation"
)

// Section is one user turn together with the assistant messages that follow
// it up to the next user message. Sections are derived and own no state.
type Section struct {
	ID         string
	User       *conversation.Message
	Assistants []*conversation.Message
}

// BuildSections partitions messages into sections in a single left-to-right
// pass. Messages before the first user message and messages of any role other
// than user or assistant are left out of the view.
//
// The result shares message pointers with the input.
func BuildSections(messages []*conversation.Message) []Section {
	var (
		result []Section
		open   *Section
	)
	for _, m := range messages {
		if m == nil {
			continue
		}
		switch m.Role {
		case conversation.RoleUser:
			if open != nil {
				result = append(result, *open)
			}
			open = &Section{ID: m.ID, User: m}
		case conversation.RoleAssistant:
			if open != nil {
				open.Assistants = append(open.Assistants, m)
			}
		case conversation.RoleSystem:
		}
	}
	if open != nil {
		result = append(result, *open)
	}
	return result
}

// Find returns the section containing the message with the given id.
func Find(sections []Section, messageID string) (Section, bool) {
	for _, s := range sections {
		if s.ID == messageID {
			return s, true
		}
		for _, a := range s.Assistants {
			if a.ID == messageID {
				return s, true
			}
		}
	}
	return Section{}, false
}
