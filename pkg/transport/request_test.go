package transport

import (
	"encoding/json"
	"testing"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestShapes(t *testing.T) {
	u := userMsg("u2", "X", 2)

	submit := NewSubmitRequest("conv-1", u)
	require.NoError(t, submit.Validate())
	b, err := json.Marshal(submit)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "submit-user-message", m["trigger"])
	assert.Equal(t, "conv-1", m["chatId"])
	assert.Equal(t, "u2", m["messageId"])
	assert.NotNil(t, m["message"])
	assert.NotContains(t, m, "messages")

	regen := NewRegenerateRequest("conv-1", "a2", nil)
	require.NoError(t, regen.Validate())
	b, err = json.Marshal(regen)
	require.NoError(t, err)
	m = nil
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "regenerate-assistant-message", m["trigger"])
	assert.NotContains(t, m, "message")

	require.NoError(t, NewRegenerateRequest("conv-1", "u2", u).Validate())
}

func TestRequestValidate(t *testing.T) {
	u := userMsg("u2", "X", 2)
	a := assistantMsg("a2", "reply", 3)

	assert.Error(t, NewSubmitRequest("", u).Validate())
	assert.Error(t, NewSubmitRequest("conv-1", nil).Validate())
	assert.Error(t, NewSubmitRequest("conv-1", a).Validate())
	assert.Error(t, NewRegenerateRequest("conv-1", "a2", a).Validate())
	assert.Error(t, NewRegenerateRequest("conv-1", "other", u).Validate())
	assert.Error(t, (&Request{Trigger: "resume", ChatID: "c", MessageID: "m"}).Validate())
}

func TestParseDelta(t *testing.T) {
	d, err := ParseDelta([]byte(`{"type":"text-delta","id":"b1","delta":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, DeltaTypeTextDelta, d.Type)
	assert.Equal(t, "hi", d.Delta)

	d, err = ParseDelta([]byte(`{"type":"message","message":{"id":"a1","role":"assistant","parts":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, "a1", d.Message.ID)

	_, err = ParseDelta([]byte(`{"type":"message","message":{"id":"a1","role":"assistant","parts":[{"type":"tool-invocation","toolCallId":"c"}]}}`))
	assert.ErrorIs(t, err, conversation.ErrInvalidRecord)

	_, err = ParseDelta([]byte(`{"delta":"hi"}`))
	assert.Error(t, err)
	_, err = ParseDelta([]byte(`{"type":"message"}`))
	assert.Error(t, err)
}

func TestRequestSchema(t *testing.T) {
	b, err := RequestSchema()
	require.NoError(t, err)
	assert.Contains(t, string(b), "regenerate-assistant-message")
	assert.Contains(t, string(b), "chatId")
}
