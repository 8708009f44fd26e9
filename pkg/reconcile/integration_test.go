package reconcile

import (
	"context"
	"testing"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/events"
	"github.com/go-go-golems/chatstate/pkg/store"
	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededEcho(t *testing.T) (*conversation.State, *store.InMemoryStore, *transport.Adapter, *events.RecordingSink) {
	t.Helper()
	ctx := context.Background()
	history := conversation.Conversation{
		msg("u1", conversation.RoleUser, "one", 1),
		msg("a1", conversation.RoleAssistant, "echo: one", 2),
		msg("u2", conversation.RoleUser, "two", 3),
		msg("a2", conversation.RoleAssistant, "echo: two", 4),
	}
	s := store.NewInMemoryStore()
	require.NoError(t, store.Seed(ctx, s, map[string]conversation.Conversation{"conv-1": history}))

	loaded, err := s.LoadTranscript(ctx, "conv-1")
	require.NoError(t, err)
	state := conversation.NewState("conv-1", loaded)

	client := transport.NewEchoClient()
	client.TimePerCharacter = 0
	client.Store = s
	sink := events.NewRecordingSink()
	adapter := transport.NewAdapter(state, client, transport.WithRecorder(s), transport.WithSink(sink))
	return state, s, adapter, sink
}

func TestDelegatedEditAgainstEchoServer(t *testing.T) {
	ctx := context.Background()
	state, s, adapter, sink := seededEcho(t)
	ctrl, err := NewController(Env{State: state, Transport: adapter, Store: s}, &DelegatedStrategy{})
	require.NoError(t, err)

	res, err := ctrl.EditAndRegenerate(ctx, "u2", "X")
	require.NoError(t, err)
	out, err := res.Wait()
	require.NoError(t, err)
	require.NotNil(t, out.Message)
	assert.Equal(t, "echo: X", out.Message.Text())

	local := state.Messages()
	require.Len(t, local, 4)
	assert.Equal(t, []string{"u1", "a1", "u2"}, ids(local[:3]))
	assert.Equal(t, "X", local[2].Text())
	assert.Equal(t, out.Message.ID, local[3].ID)

	stored, err := s.LoadTranscript(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, ids(local), ids(stored))
	assert.Equal(t, "X", stored[2].Text())

	assert.Len(t, sink.OfType(events.EventTypeHistoryStale), 1)
	assert.Equal(t, int64(0), ctrl.Stats().TransportFailures)
}

func TestDelegatedReloadAgainstEchoServer(t *testing.T) {
	ctx := context.Background()
	state, s, adapter, _ := seededEcho(t)
	ctrl, err := NewController(Env{State: state, Transport: adapter, Store: s}, &DelegatedStrategy{})
	require.NoError(t, err)

	res, err := ctrl.ReloadFrom(ctx, "a2")
	require.NoError(t, err)
	out, err := res.Wait()
	require.NoError(t, err)
	assert.Equal(t, "echo: two", out.Message.Text())

	local := state.Messages()
	require.Len(t, local, 4)
	assert.NotEqual(t, "a2", local[3].ID)

	stored, err := s.LoadTranscript(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, ids(local), ids(stored))
}

func TestManualEditAgainstEchoServer(t *testing.T) {
	ctx := context.Background()
	state, s, adapter, _ := seededEcho(t)
	ctrl, err := NewController(Env{State: state, Transport: adapter, Store: s}, &ManualStrategy{})
	require.NoError(t, err)

	res, err := ctrl.EditAndRegenerate(ctx, "u2", "X")
	require.NoError(t, err)
	out, err := res.Wait()
	require.NoError(t, err)
	assert.Equal(t, "echo: X", out.Message.Text())

	local := state.Messages()
	require.Len(t, local, 4)
	assert.Equal(t, []string{"u1", "a1"}, ids(local[:2]))
	assert.Equal(t, res.MessageID, local[2].ID)

	// the replay carried the whole remaining log
	require.NotNil(t, res.Handle)
	assert.Equal(t, transport.TriggerSubmitUserMessage, res.Handle.Request.Trigger)
	assert.Equal(t, ids(local[:3]), ids(res.Handle.Request.Messages))

	stored, err := s.LoadTranscript(ctx, "conv-1")
	require.NoError(t, err)
	storedIDs := ids(stored)
	assert.NotContains(t, storedIDs, "a2")
	assert.Contains(t, storedIDs, res.MessageID)
	assert.Contains(t, storedIDs, out.Message.ID)
}
