package conversation

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// State is the canonical, process-local message log of one conversation.
//
// All changes go through Apply so that observers see a monotonically
// increasing Version. The durable store owns historical truth; State is a
// cache that reconciliation may truncate to match it.
type State struct {
	ID string

	mu        sync.RWMutex
	messages  Conversation
	version   int64
	observers []Observer
}

// Change describes one applied mutation.
type Change struct {
	ConversationID string
	Mutation       string
	Version        int64
}

// Observer is notified after every successful mutation, outside the state lock.
type Observer func(Change)

// NewState creates a log hydrated from a snapshot. The snapshot is copied.
func NewState(id string, snapshot Conversation) *State {
	return &State{
		ID:       id,
		messages: snapshot.Clone(),
	}
}

// AddObserver registers fn for change notifications.
func (s *State) AddObserver(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Apply applies a single mutation and increments the version.
func (s *State) Apply(m Mutation) error {
	if s == nil {
		return errors.New("conversation state is nil")
	}
	if m == nil {
		return errors.New("mutation is nil")
	}

	s.mu.Lock()
	next, err := m.Apply(s.messages)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrapf(err, "mutation %s failed", m.Name())
	}
	s.messages = next
	s.version++
	change := Change{ConversationID: s.ID, Mutation: m.Name(), Version: s.version}
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	log.Trace().
		Str("conversation_id", s.ID).
		Str("mutation", m.Name()).
		Int64("version", change.Version).
		Msg("applied conversation mutation")

	for _, o := range observers {
		o(change)
	}
	return nil
}

// ApplyAll applies multiple mutations sequentially, stopping at the first error.
func (s *State) ApplyAll(muts ...Mutation) error {
	for _, m := range muts {
		if err := s.Apply(m); err != nil {
			return err
		}
	}
	return nil
}

// Version returns the number of mutations applied so far.
func (s *State) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of messages in the log.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns a deep copy of the log.
func (s *State) Messages() Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages.Clone()
}

// Get returns a copy of the message with the given id and its index.
func (s *State) Get(id string) (*Message, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.messages.IndexOf(id)
	if idx < 0 {
		return nil, -1, false
	}
	return s.messages[idx].Clone(), idx, true
}

// At returns a copy of the message at index i.
func (s *State) At(i int) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.messages) {
		return nil, false
	}
	return s.messages[i].Clone(), true
}

// Last returns a copy of the last message of the log.
func (s *State) Last() (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return nil, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// FindToolInvocation returns a copy of the latest message holding a
// tool-invocation part with the given call id, and the part index.
func (s *State) FindToolInvocation(toolCallID string) (*Message, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if idx := s.messages[i].FindToolInvocation(toolCallID); idx >= 0 {
			return s.messages[i].Clone(), idx, true
		}
	}
	return nil, -1, false
}
