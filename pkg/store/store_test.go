package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(id string, role conversation.Role, text string, minute int) *conversation.Message {
	return conversation.NewMessage(role, []conversation.Part{conversation.NewTextPart(text)},
		conversation.WithID(id), conversation.WithTime(base.Add(time.Duration(minute)*time.Minute)))
}

func ids(c conversation.Conversation) []string {
	out := []string{}
	for _, m := range c {
		out = append(out, m.ID)
	}
	return out
}

func newSQLite(t *testing.T) TranscriptStore {
	dsn, err := DSNForFile(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMemory(t *testing.T) TranscriptStore {
	return NewInMemoryStore()
}

var factories = map[string]func(t *testing.T) TranscriptStore{
	"memory": newMemory,
	"sqlite": newSQLite,
}

func seed(t *testing.T, s Writer) {
	ctx := context.Background()
	for _, m := range []*conversation.Message{
		at("u1", conversation.RoleUser, "one", 0),
		at("a1", conversation.RoleAssistant, "reply one", 1),
		at("u2", conversation.RoleUser, "two", 2),
		at("a2", conversation.RoleAssistant, "reply two", 3),
	} {
		require.NoError(t, s.AppendTranscript(ctx, "conv-1", m))
	}
}

func TestAppendIsIdempotentByID(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			seed(t, s)

			updated := at("a2", conversation.RoleAssistant, "reply two, revised", 3)
			require.NoError(t, s.AppendTranscript(ctx, "conv-1", updated))
			require.NoError(t, s.AppendTranscript(ctx, "conv-1", updated))

			got, err := s.LoadTranscript(ctx, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"u1", "a1", "u2", "a2"}, ids(got))
			assert.Equal(t, "reply two, revised", got[3].Text())
		})
	}
}

func TestDeleteTrailingRecordsIsStrict(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			seed(t, s)

			// the record at the pivot itself survives
			require.NoError(t, s.DeleteTrailingRecords(ctx, "conv-1", base.Add(2*time.Minute)))
			got, err := s.LoadTranscript(ctx, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"u1", "a1", "u2"}, ids(got))
		})
	}
}

func TestDeleteTrailingRecordsBounds(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			seed(t, s)

			require.NoError(t, s.DeleteTrailingRecords(ctx, "conv-1", base.Add(time.Hour)))
			got, err := s.LoadTranscript(ctx, "conv-1")
			require.NoError(t, err)
			assert.Len(t, got, 4)

			require.NoError(t, s.DeleteTrailingRecords(ctx, "conv-1", time.Unix(0, 0)))
			got, err = s.LoadTranscript(ctx, "conv-1")
			require.NoError(t, err)
			assert.Empty(t, got)

			// other conversations and unknown ids are unaffected
			require.NoError(t, s.DeleteTrailingRecords(ctx, "missing", time.Unix(0, 0)))
		})
	}
}

func TestDeleteTrailingRecordsOnlyTouchesOneConversation(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			seed(t, s)
			require.NoError(t, s.AppendTranscript(ctx, "conv-2", at("x1", conversation.RoleUser, "other", 5)))

			require.NoError(t, s.DeleteTrailingRecords(ctx, "conv-1", time.Unix(0, 0)))
			got, err := s.LoadTranscript(ctx, "conv-2")
			require.NoError(t, err)
			assert.Equal(t, []string{"x1"}, ids(got))
		})
	}
}

func TestListConversations(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			seed(t, s)
			long := strings.Repeat("a", 80)
			require.NoError(t, s.AppendTranscript(ctx, "conv-2", at("x1", conversation.RoleUser, long, 10)))

			got, err := s.ListConversations(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "conv-2", got[0].ID)
			assert.Equal(t, strings.Repeat("a", 60)+"...", got[0].Title)
			assert.Equal(t, "conv-1", got[1].ID)
			assert.Equal(t, "one", got[1].Title)
			assert.Equal(t, 4, got[1].Records)
		})
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.Close())
			err := s.AppendTranscript(ctx, "conv-1", at("u1", conversation.RoleUser, "one", 0))
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = s.LoadTranscript(ctx, "conv-1")
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestAppendRejectsMalformedParts(t *testing.T) {
	s := NewInMemoryStore()
	m := at("u1", conversation.RoleUser, "one", 0)
	m.Parts = append(m.Parts, conversation.Part{Type: conversation.PartTypeFile, Index: 1})
	err := s.AppendTranscript(context.Background(), "conv-1", m)
	assert.ErrorIs(t, err, conversation.ErrMalformedPart)
}

func TestLoadFixtureAndSeed(t *testing.T) {
	fixture := `
conversations:
  conv-1:
    - id: u1
      role: user
      createdAt: 2024-05-01T12:00:00Z
      parts:
        - type: text
          text: hello
    - id: a1
      role: assistant
      createdAt: 2024-05-01T12:00:05Z
      parts:
        - type: tool-invocation
          toolCallId: call-1
          toolName: weather
          state: output-available
          input:
            city: Oslo
          output:
            temperature: 3
        - type: text
          text: It is cold.
`
	convs, err := LoadFixture(strings.NewReader(fixture))
	require.NoError(t, err)
	require.Len(t, convs["conv-1"], 2)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(convs["conv-1"][1].Parts[0].Input))

	s := NewInMemoryStore()
	require.NoError(t, Seed(context.Background(), s, convs))
	got, err := s.LoadTranscript(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "a1"}, ids(got))
	assert.True(t, got[0].CreatedAt.Equal(base))
}

func TestLoadFixtureRejectsBrokenRecords(t *testing.T) {
	fixture := `
conversations:
  conv-1:
    - id: u1
      role: user
      parts:
        - type: file
          mediaType: image/png
`
	_, err := LoadFixture(strings.NewReader(fixture))
	assert.ErrorIs(t, err, conversation.ErrInvalidRecord)
}
