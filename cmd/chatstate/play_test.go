package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/go-go-golems/chatstate/pkg/config"
	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is written to by the script and by the event handlers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const demoScript = `
conversation: ""
steps:
  - submit: hello
  - edit: {message: 0, text: hi}
  - reload: 1
  - submit: /tool weather {"city":"Oslo"}
  - tool-result: {output: {temperature: 3}}
  - show: -1
  - reload: 0
  - edit: {message: 9, text: nope}
`

func TestLoadScript(t *testing.T) {
	s, err := LoadScript(strings.NewReader(demoScript))
	require.NoError(t, err)
	require.Len(t, s.Steps, 8)
	assert.Equal(t, "submit", s.Steps[0].name())
	assert.Equal(t, "edit", s.Steps[1].name())
	assert.Equal(t, 0, s.Steps[1].Edit.Message)
	assert.Equal(t, "reload", s.Steps[2].name())
	assert.Equal(t, 1, *s.Steps[2].Reload)
	assert.Equal(t, "tool-result", s.Steps[4].name())
	assert.Equal(t, map[string]interface{}{"temperature": 3}, s.Steps[4].ToolResult.Output)
	assert.Equal(t, "show", s.Steps[5].name())
	assert.Equal(t, -1, *s.Steps[5].Show)

	_, err = LoadScript(strings.NewReader("steps: {"))
	require.Error(t, err)
}

func TestRunScript(t *testing.T) {
	script, err := LoadScript(strings.NewReader(demoScript))
	require.NoError(t, err)

	settings := config.NewSettings()
	settings.Transport.EchoDelay = 0
	out := &lockedBuffer{}
	require.NoError(t, runScript(context.Background(), settings, script, out, false))

	got := out.String()
	// the location line lands between the step header and the turns
	assert.Contains(t, got, "turn 1\n  user: hello\n  assistant: echo: hello\n")
	assert.Contains(t, got, "# step 2: edit\nturn 1\n  user: hi\n  assistant: echo: hi\n")
	assert.Contains(t, got, "# step 3: reload\nturn 1\n  user: hi\n  assistant: echo: hi\n")
	assert.Contains(t, got, "[tool weather input-available]")
	assert.Contains(t, got, `[tool weather output-available {"temperature":3}]`)
	assert.Regexp(t, `# step 6: show\nturn of [^\n]+\nturn 1\n  user: /tool weather \{"city":"Oslo"\}\n  assistant: `, got)
	assert.Contains(t, got, "-> /chat/")
	assert.Contains(t, got, "!! [error] no_preceding_message")
	assert.Contains(t, got, "error: no message at index 9")
	assert.Contains(t, got, "operations=3 divergences=0 transport_failures=0")
}

func TestPendingToolCall(t *testing.T) {
	done, err := conversation.NewToolInvocationPart("call-1", "weather", conversation.ToolStateOutputAvailable, nil)
	require.NoError(t, err)
	pending, err := conversation.NewToolInvocationPart("call-2", "weather", conversation.ToolStateInputAvailable, nil)
	require.NoError(t, err)

	msgs := conversation.Conversation{
		conversation.NewMessage(conversation.RoleAssistant, []conversation.Part{pending}),
		conversation.NewMessage(conversation.RoleAssistant, []conversation.Part{done}),
	}
	assert.Equal(t, "call-2", pendingToolCall(msgs))
	assert.Equal(t, "", pendingToolCall(msgs[1:]))
}
