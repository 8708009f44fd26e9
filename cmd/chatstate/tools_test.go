package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/go-go-golems/chatstate/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinToolsValidateWeather(t *testing.T) {
	registry, err := builtinTools()
	require.NoError(t, err)

	require.NoError(t, registry.ValidateInput("weather", json.RawMessage(`{"city":"Oslo"}`)))
	assert.ErrorIs(t, registry.ValidateInput("weather", json.RawMessage(`{"town":"Oslo"}`)), tools.ErrInvalidToolPayload)

	require.NoError(t, registry.ValidateOutput("weather", json.RawMessage(`{"temperature":3}`)))
	assert.ErrorIs(t, registry.ValidateOutput("weather", json.RawMessage(`{"temperature":"cold"}`)), tools.ErrInvalidToolPayload)
}

func TestSchemaListsTools(t *testing.T) {
	cmd := newSchemaCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--tools"})
	require.NoError(t, cmd.Execute())

	var defs []struct {
		Name   string                 `json:"name"`
		Input  map[string]interface{} `json:"input"`
		Output map[string]interface{} `json:"output"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "weather", defs[0].Name)
	assert.Contains(t, defs[0].Input["properties"], "city")
	assert.Contains(t, defs[0].Output["properties"], "temperature")
}
