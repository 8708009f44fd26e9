// Package tools validates tool payloads at the wire boundary. Inside the
// engine tool inputs and outputs stay opaque JSON keyed by tool name.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidToolPayload = errors.New("invalid tool payload")

// PayloadError lists the violations of a tool input or output.
type PayloadError struct {
	Tool       string
	Direction  string
	Violations []string
}

func (e *PayloadError) Error() string {
	if e == nil {
		return ErrInvalidToolPayload.Error()
	}
	return fmt.Sprintf("%s: %s %s: %s", ErrInvalidToolPayload, e.Tool, e.Direction, strings.Join(e.Violations, "; "))
}

func (e *PayloadError) Is(target error) bool { return target == ErrInvalidToolPayload }

// ToolDefinition declares a tool by name together with the schemas of its
// input and output. A nil schema accepts any JSON value.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Input       *jsonschema.Schema `json:"input,omitempty"`
	Output      *jsonschema.Schema `json:"output,omitempty"`

	input  *gojsonschema.Schema
	output *gojsonschema.Schema
}

// NewToolDefinition reflects input and output schemas from sample values of
// the tool's payload types. Pass nil for a side that is not validated.
func NewToolDefinition(name, description string, input, output interface{}) (*ToolDefinition, error) {
	if name == "" {
		return nil, errors.New("tool name cannot be empty")
	}
	ret := &ToolDefinition{Name: name, Description: description}
	var err error
	if input != nil {
		ret.Input = reflectSchema(input)
		if ret.input, err = compile(ret.Input); err != nil {
			return nil, errors.Wrapf(err, "tool %s input schema", name)
		}
	}
	if output != nil {
		ret.Output = reflectSchema(output)
		if ret.output, err = compile(ret.Output); err != nil {
			return nil, errors.Wrapf(err, "tool %s output schema", name)
		}
	}
	return ret, nil
}

func reflectSchema(v interface{}) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		// Expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(v)
	// gojsonschema only knows the drafts up to 7
	schema.Version = ""
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema
}

func compile(schema *jsonschema.Schema) (*gojsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
}

func validate(schema *gojsonschema.Schema, tool, direction string, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if !json.Valid(raw) {
		return &PayloadError{Tool: tool, Direction: direction, Violations: []string{"not valid JSON"}}
	}
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.Wrapf(err, "could not validate %s of tool %s", direction, tool)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &PayloadError{Tool: tool, Direction: direction, Violations: violations}
}

// ValidateInput checks raw against the input schema of the tool.
func (d *ToolDefinition) ValidateInput(raw json.RawMessage) error {
	return validate(d.input, d.Name, "input", raw)
}

// ValidateOutput checks raw against the output schema of the tool.
func (d *ToolDefinition) ValidateOutput(raw json.RawMessage) error {
	return validate(d.output, d.Name, "output", raw)
}

// Registry is a thread-safe set of tool definitions.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolDefinition
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]*ToolDefinition{}}
}

func (r *Registry) RegisterTool(def *ToolDefinition) error {
	if def == nil || def.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; ok {
		return errors.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

func (r *Registry) GetTool(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// ListTools returns the definitions sorted by name.
func (r *Registry) ListTools() []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]*ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		ret = append(ret, d)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

// ValidateOutput validates the output of the named tool. Outputs of tools
// that are not registered are only checked to be valid JSON.
func (r *Registry) ValidateOutput(toolName string, raw json.RawMessage) error {
	if r == nil {
		return validate(nil, toolName, "output", raw)
	}
	def, ok := r.GetTool(toolName)
	if !ok {
		return validate(nil, toolName, "output", raw)
	}
	return def.ValidateOutput(raw)
}

// ValidateInput validates the input of the named tool, see ValidateOutput.
func (r *Registry) ValidateInput(toolName string, raw json.RawMessage) error {
	if r == nil {
		return validate(nil, toolName, "input", raw)
	}
	def, ok := r.GetTool(toolName)
	if !ok {
		return validate(nil, toolName, "input", raw)
	}
	return def.ValidateInput(raw)
}
