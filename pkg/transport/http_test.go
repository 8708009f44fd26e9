package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstate/pkg/conversation"
)

func TestHTTPClientStreamsSSE(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		for _, line := range []string{
			`{"type":"start","messageId":"a1"}`,
			`{"type":"text-delta","delta":"hel"}`,
			`not json`,
			`{"type":"text-delta","delta":"lo"}`,
			`{"type":"finish"}`,
			`[DONE]`,
			`{"type":"text-delta","delta":"after done"}`,
		} {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", line)
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithHeader("X-Api-Key", "secret"))
	msg := conversation.NewUserTextMessage("hi")
	ch, err := c.Exchange(context.Background(), NewSubmitRequest("conv-1", msg))
	require.NoError(t, err)
	deltas, err := collect(t, ch)
	require.NoError(t, err)

	assert.Equal(t, TriggerSubmitUserMessage, got.Trigger)
	assert.Equal(t, msg.ID, got.MessageID)
	require.Len(t, deltas, 4)
	assert.Equal(t, "a1", deltas[0].MessageID)
	assert.Equal(t, "hello", textOf(deltas))
}

func TestHTTPClientSingleMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"a1","role":"assistant","parts":[{"type":"text","text":"whole"}]}`)
	}))
	defer srv.Close()

	ch, err := NewHTTPClient(srv.URL).Exchange(context.Background(), NewSubmitRequest("conv-1", conversation.NewUserTextMessage("hi")))
	require.NoError(t, err)
	deltas, err := collect(t, ch)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, DeltaTypeMessage, deltas[0].Type)
	assert.Equal(t, "whole", deltas[0].Message.Text())
}

func TestHTTPClientRejectsInvalidMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"a1","role":"assistant","parts":[{"type":"file","url":"x"}]}`)
	}))
	defer srv.Close()

	ch, err := NewHTTPClient(srv.URL).Exchange(context.Background(), NewSubmitRequest("conv-1", conversation.NewUserTextMessage("hi")))
	require.NoError(t, err)
	_, err = collect(t, ch)
	require.ErrorIs(t, err, ErrTransportFailure)
	assert.ErrorIs(t, err, conversation.ErrInvalidRecord)
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Exchange(context.Background(), NewSubmitRequest("conv-1", conversation.NewUserTextMessage("hi")))
	require.ErrorIs(t, err, ErrTransportFailure)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, "upstream down", te.Reason)
}

func TestSSEData(t *testing.T) {
	lines := [][]byte{
		[]byte("event: delta\n"),
		[]byte("data: {\"a\":\n"),
		[]byte("data:1}\r\n"),
		[]byte(": comment\n"),
	}
	assert.Equal(t, "{\"a\":\n1}", string(sseData(lines)))
}
