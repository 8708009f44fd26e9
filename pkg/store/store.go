// Package store holds the durable transcript store consumed by the
// conversation engine. Only two write contracts matter to the engine:
// appending a transcript entry and deleting trailing records.
package store

import (
	"context"
	"math"
	"time"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/pkg/errors"
)

var ErrStoreClosed = errors.New("transcript store closed")

// Writer is the store contract consumed by the conversation engine.
type Writer interface {
	// AppendTranscript stores msg for the conversation. It is idempotent by
	// message id: appending the same id again replaces the stored record.
	AppendTranscript(ctx context.Context, conversationID string, msg *conversation.Message) error
	// DeleteTrailingRecords deletes every record of the conversation created
	// strictly after the given time.
	DeleteTrailingRecords(ctx context.Context, conversationID string, after time.Time) error
}

type Reader interface {
	// LoadTranscript returns the stored records ordered by creation time.
	LoadTranscript(ctx context.Context, conversationID string) (conversation.Conversation, error)
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
}

type TranscriptStore interface {
	Reader
	Writer
	Close() error
}

type ConversationSummary struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Records   int       `json:"records" yaml:"records"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

const maxTitleLength = 60

// titleOf derives a conversation title from its first user message.
func titleOf(msgs conversation.Conversation) string {
	for _, m := range msgs {
		if m.Role != conversation.RoleUser {
			continue
		}
		t := []rune(m.Text())
		if len(t) > maxTitleLength {
			return string(t[:maxTitleLength]) + "..."
		}
		return string(t)
	}
	return ""
}

// timeKey maps a timestamp to the integer the stores order and compare on.
// Zero and pre-epoch overflowing times sort before every real record.
func timeKey(t time.Time) int64 {
	if t.IsZero() || t.Year() < 1678 {
		return math.MinInt64
	}
	if t.Year() > 2261 {
		return math.MaxInt64
	}
	return t.UnixNano()
}
