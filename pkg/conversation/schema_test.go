package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageJSONRoundTrip(t *testing.T) {
	file, err := NewFilePart("image/png", "cat.png", "https://files.example/cat.png")
	require.NoError(t, err)
	tool, err := NewToolInvocationPart("call-1", "weather", ToolStateOutputAvailable, json.RawMessage(`{"city":"Oslo"}`))
	require.NoError(t, err)

	in := NewMessage(RoleAssistant, []Part{NewTextPart("hi"), file, tool},
		WithID("m1"), WithTime(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	b, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := ParseMessageJSON(b)
	require.NoError(t, err)
	assert.Equal(t, "m1", out.ID)
	assert.Equal(t, RoleAssistant, out.Role)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.Len(t, out.Parts, 3)
	assert.Equal(t, "hi", out.Parts[0].TextValue())
	assert.Equal(t, ToolStateOutputAvailable, out.Parts[2].ToolStateValue())
}

func TestParseMessageJSONRejectsBrokenGroups(t *testing.T) {
	cases := map[string]string{
		"file without url":   `{"id":"m1","role":"user","parts":[{"type":"file","mediaType":"image/png","filename":"a.png"}]}`,
		"tool without state": `{"id":"m1","role":"assistant","parts":[{"type":"tool-invocation","toolCallId":"c1"}]}`,
		"tool bad state":     `{"id":"m1","role":"assistant","parts":[{"type":"tool-invocation","toolCallId":"c1","state":"done"}]}`,
		"null text":          `{"id":"m1","role":"user","parts":[{"type":"text","text":null}]}`,
		"unknown role":       `{"id":"m1","role":"tool","parts":[]}`,
		"missing id":         `{"role":"user","parts":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessageJSON([]byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestParseMessageJSONAcceptsLegacyContent(t *testing.T) {
	m, err := ParseMessageJSON([]byte(`{"id":"m1","role":"user","parts":[],"content":"old style"}`))
	require.NoError(t, err)
	assert.Equal(t, "old style", m.Text())
}
