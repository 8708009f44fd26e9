package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/pkg/errors"
)

type memoryRecord struct {
	msg *conversation.Message
	seq uint64
}

// InMemoryStore is a process-local TranscriptStore.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]memoryRecord
	seq           uint64
	closed        bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: map[string][]memoryRecord{},
	}
}

func (s *InMemoryStore) AppendTranscript(_ context.Context, conversationID string, msg *conversation.Message) error {
	if msg == nil {
		return errors.New("message is nil")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	records := s.conversations[conversationID]
	for i := range records {
		if records[i].msg.ID == msg.ID {
			records[i].msg = msg.Clone()
			sortRecords(records)
			return nil
		}
	}
	s.seq++
	records = append(records, memoryRecord{msg: msg.Clone(), seq: s.seq})
	sortRecords(records)
	s.conversations[conversationID] = records
	return nil
}

func (s *InMemoryStore) DeleteTrailingRecords(_ context.Context, conversationID string, after time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	pivot := timeKey(after)
	records := s.conversations[conversationID]
	kept := records[:0]
	for _, r := range records {
		if timeKey(r.msg.CreatedAt) <= pivot {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(s.conversations, conversationID)
		return nil
	}
	s.conversations[conversationID] = kept
	return nil
}

func (s *InMemoryStore) LoadTranscript(_ context.Context, conversationID string) (conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	records := s.conversations[conversationID]
	ret := make(conversation.Conversation, 0, len(records))
	for _, r := range records {
		ret = append(ret, r.msg.Clone())
	}
	return ret, nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}

	ret := make([]ConversationSummary, 0, len(ids))
	for _, id := range ids {
		msgs, err := s.LoadTranscript(ctx, id)
		if err != nil {
			return nil, err
		}
		ret = append(ret, summarize(id, msgs))
	}
	sortSummaries(ret)
	return ret, nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ TranscriptStore = (*InMemoryStore)(nil)

func sortRecords(records []memoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ki, kj := timeKey(records[i].msg.CreatedAt), timeKey(records[j].msg.CreatedAt)
		if ki != kj {
			return ki < kj
		}
		return records[i].seq < records[j].seq
	})
}

func summarize(id string, msgs conversation.Conversation) ConversationSummary {
	ret := ConversationSummary{
		ID:      id,
		Title:   titleOf(msgs),
		Records: len(msgs),
	}
	if len(msgs) > 0 {
		ret.UpdatedAt = msgs[len(msgs)-1].CreatedAt
	}
	return ret
}

// sortSummaries orders by most recently updated first.
func sortSummaries(s []ConversationSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].UpdatedAt.After(s[j].UpdatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
