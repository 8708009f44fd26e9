package chat

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/events"
	"github.com/go-go-golems/chatstate/pkg/store"
	"github.com/go-go-golems/chatstate/pkg/tools"
	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func fastEcho(s store.TranscriptStore) *transport.EchoClient {
	c := transport.NewEchoClient()
	c.TimePerCharacter = 0
	c.Store = s
	return c
}

func texts(c conversation.Conversation) []string {
	ret := []string{}
	for _, m := range c {
		ret = append(ret, m.Text())
	}
	return ret
}

func wait(t *testing.T, h *transport.ExecutionHandle) transport.Outcome {
	t.Helper()
	require.NotNil(t, h)
	select {
	case <-h.Done():
	case <-time.After(waitFor):
		t.Fatal("exchange did not finish")
	}
	out, err := h.Wait()
	require.NoError(t, err)
	return out
}

func TestSubmitHelloScenario(t *testing.T) {
	ctx := context.Background()
	ch := make(chan transport.Chunk)
	client := transport.ClientFunc(func(context.Context, *transport.Request) (<-chan transport.Chunk, error) {
		return ch, nil
	})
	sink := events.NewRecordingSink()
	s, err := New(ctx, "", client, WithSink(sink))
	require.NoError(t, err)
	assert.Empty(t, s.Messages())

	h, err := s.Submit(ctx, "hello", nil)
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	require.Len(t, msgs[0].Parts, 1)
	assert.Equal(t, "hello", msgs[0].Parts[0].TextValue())
	assert.Equal(t, transport.StatusSubmitted, s.Status())
	assert.True(t, s.IsLoading())

	ch <- transport.Chunk{Delta: &transport.Delta{Type: transport.DeltaTypeStart, MessageID: "a1"}}
	require.Eventually(t, func() bool { return s.Status() == transport.StatusStreaming }, waitFor, tick)
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, waitFor, tick)
	assert.Equal(t, conversation.RoleAssistant, s.Messages()[1].Role)

	ch <- transport.Chunk{Delta: &transport.Delta{Type: transport.DeltaTypeTextStart, ID: "t1"}}
	ch <- transport.Chunk{Delta: &transport.Delta{Type: transport.DeltaTypeTextDelta, ID: "t1", Delta: "hi there"}}
	ch <- transport.Chunk{Delta: &transport.Delta{Type: transport.DeltaTypeFinish}}
	close(ch)
	wait(t, h)

	assert.Equal(t, transport.StatusIdle, s.Status())
	assert.Equal(t, []string{"hello", "hi there"}, texts(s.Messages()))

	secs := s.Sections()
	require.Len(t, secs, 1)
	assert.Equal(t, msgs[0].ID, secs[0].ID)
	require.Len(t, secs[0].Assistants, 1)
	assert.Equal(t, "a1", secs[0].Assistants[0].ID)

	locations := sink.OfType(events.EventTypeLocation)
	require.Len(t, locations, 1)
	assert.Equal(t, "/chat/"+s.ID(), locations[0].(*events.EventLocation).Path)
	assert.NotEmpty(t, sink.OfType(events.EventTypeMessagesChanged))
}

func TestNewHydratesFromStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Seed(ctx, s, map[string]conversation.Conversation{
		"conv-1": {
			conversation.NewUserTextMessage("one", conversation.WithID("u1"), conversation.WithTime(base)),
			conversation.NewMessage(conversation.RoleAssistant, []conversation.Part{conversation.NewTextPart("echo: one")},
				conversation.WithID("a1"), conversation.WithTime(base.Add(time.Minute))),
		},
	}))

	sink := events.NewRecordingSink()
	session, err := New(ctx, "conv-1", fastEcho(s), WithStore(s), WithSink(sink))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "echo: one"}, texts(session.Messages()))
	assert.Len(t, session.Sections(), 1)

	h, err := session.SelectSuggestedQuery(ctx, "two")
	require.NoError(t, err)
	wait(t, h)

	assert.Equal(t, []string{"one", "echo: one", "two", "echo: two"}, texts(session.Messages()))
	assert.Len(t, session.Sections(), 2)
	// existing conversations keep their location
	assert.Empty(t, sink.OfType(events.EventTypeLocation))

	stored, err := s.LoadTranscript(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, texts(session.Messages()), texts(stored))
}

func TestSubmitRejectsEmptyMessages(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "", fastEcho(nil))
	require.NoError(t, err)

	_, err = s.Submit(ctx, "   ", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
	_, err = s.Submit(ctx, "", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, s.Messages())
}

func TestSubmitUploadsAttachmentsInOrder(t *testing.T) {
	ctx := context.Background()
	uploader := UploaderFunc(func(_ context.Context, a Attachment) (UploadedFile, error) {
		if a.Filename == "a.png" {
			// finish last
			time.Sleep(20 * time.Millisecond)
		}
		return UploadedFile{URL: "https://files.example/" + a.Filename}, nil
	})
	s, err := New(ctx, "", fastEcho(nil), WithUploader(uploader))
	require.NoError(t, err)

	h, err := s.Submit(ctx, "look", []Attachment{
		{Filename: "a.png", MediaType: "image/png"},
		{Filename: "b.pdf", MediaType: "application/pdf"},
	})
	require.NoError(t, err)
	wait(t, h)

	user := s.Messages()[0]
	require.Len(t, user.Parts, 3)
	assert.Equal(t, conversation.PartTypeFile, user.Parts[0].Type)
	assert.Equal(t, "a.png", *user.Parts[0].Filename)
	assert.Equal(t, "image/png", *user.Parts[0].MediaType)
	assert.Equal(t, "https://files.example/b.pdf", *user.Parts[1].URL)
	assert.Equal(t, "look", user.Parts[2].TextValue())
	for i, p := range user.Parts {
		assert.Equal(t, i, p.Index)
	}
}

func TestSubmitUploadFailure(t *testing.T) {
	ctx := context.Background()
	uploader := UploaderFunc(func(_ context.Context, a Attachment) (UploadedFile, error) {
		return UploadedFile{}, errors.New("quota exceeded")
	})
	sink := events.NewRecordingSink()
	s, err := New(ctx, "", fastEcho(nil), WithUploader(uploader), WithSink(sink))
	require.NoError(t, err)

	_, err = s.Submit(ctx, "look", []Attachment{{Filename: "a.png", MediaType: "image/png"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Empty(t, s.Messages())
	require.Len(t, sink.Notifications(), 1)
	assert.Equal(t, "upload_failure", sink.Notifications()[0].Kind)

	noUploader, err := New(ctx, "", fastEcho(nil))
	require.NoError(t, err)
	_, err = noUploader.Submit(ctx, "", []Attachment{{Filename: "a.png"}})
	require.ErrorIs(t, err, ErrNoUploader)
}

type weatherInput struct {
	City string `json:"city" jsonschema:"required"`
}

type weatherOutput struct {
	Temperature float64 `json:"temperature" jsonschema:"required"`
	Unit        string  `json:"unit,omitempty" jsonschema:"enum=C,enum=F"`
}

func TestProvideToolResult(t *testing.T) {
	ctx := context.Background()
	def, err := tools.NewToolDefinition("weather", "current weather", weatherInput{}, weatherOutput{})
	require.NoError(t, err)
	registry := tools.NewRegistry()
	require.NoError(t, registry.RegisterTool(def))

	st := store.NewInMemoryStore()
	s, err := New(ctx, "", fastEcho(st), WithStore(st), WithRegistry(registry))
	require.NoError(t, err)

	h, err := s.Submit(ctx, `/tool weather {"city":"Oslo"}`, nil)
	require.NoError(t, err)
	wait(t, h)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].Parts, 1)
	tool := msgs[1].Parts[0]
	require.Equal(t, conversation.PartTypeToolInvocation, tool.Type)
	assert.Equal(t, conversation.ToolStateInputAvailable, tool.ToolStateValue())
	callID := *tool.ToolCallID

	err = s.ProvideToolResult(ctx, callID, json.RawMessage(`{"unit":"K"}`))
	require.ErrorIs(t, err, tools.ErrInvalidToolPayload)
	unchanged, _, _ := s.State().FindToolInvocation(callID)
	assert.Equal(t, conversation.ToolStateInputAvailable, unchanged.Parts[0].ToolStateValue())

	require.NoError(t, s.ProvideToolResult(ctx, callID, json.RawMessage(`{"temperature":3.5,"unit":"C"}`)))
	updated, idx, ok := s.State().FindToolInvocation(callID)
	require.True(t, ok)
	assert.Equal(t, conversation.ToolStateOutputAvailable, updated.Parts[idx].ToolStateValue())
	assert.JSONEq(t, `{"temperature":3.5,"unit":"C"}`, string(updated.Parts[idx].Output))

	stored, err := st.LoadTranscript(ctx, s.ID())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, conversation.ToolStateOutputAvailable, stored[1].Parts[0].ToolStateValue())

	err = s.ProvideToolResult(ctx, "call-unknown", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrToolCallNotFound)
}

func TestEditAndRegenerateWithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	dsn, err := store.DSNForFile(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	st, err := store.NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	s, err := New(ctx, "", fastEcho(st), WithStore(st))
	require.NoError(t, err)
	for _, text := range []string{"hello", "world"} {
		h, err := s.Submit(ctx, text, nil)
		require.NoError(t, err)
		wait(t, h)
	}
	second := s.Messages()[2]
	require.Equal(t, "world", second.Text())

	res, err := s.EditAndRegenerate(ctx, second.ID, "there")
	require.NoError(t, err)
	wait(t, res.Handle)

	assert.Equal(t, []string{"hello", "echo: hello", "there", "echo: there"}, texts(s.Messages()))
	assert.Equal(t, second.ID, s.Messages()[2].ID)

	stored, err := st.LoadTranscript(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, texts(s.Messages()), texts(stored))

	res, err = s.ReloadFrom(ctx, s.Messages()[3].ID)
	require.NoError(t, err)
	wait(t, res.Handle)
	assert.Equal(t, []string{"hello", "echo: hello", "there", "echo: there"}, texts(s.Messages()))
	assert.Len(t, s.Sections(), 2)
}

func TestStopAbandonsExchange(t *testing.T) {
	ctx := context.Background()
	echo := transport.NewEchoClient()
	echo.TimePerCharacter = time.Hour
	s, err := New(ctx, "", echo)
	require.NoError(t, err)

	s.Stop()
	assert.Equal(t, transport.StatusIdle, s.Status())

	h, err := s.Submit(ctx, "hello", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status() == transport.StatusStreaming }, waitFor, tick)

	s.Stop()
	s.Stop()
	assert.Equal(t, transport.StatusIdle, s.Status())
	assert.ErrorIs(t, s.Err(), transport.ErrStopped)

	out := wait(t, h)
	assert.True(t, out.Stopped)
}
