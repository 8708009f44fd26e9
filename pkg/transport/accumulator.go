package transport

import (
	"encoding/json"
	"strings"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/pkg/errors"
)

// ToolValidator validates tool inputs and outputs arriving on the wire.
// tools.Registry satisfies it.
type ToolValidator interface {
	ValidateInput(toolName string, raw json.RawMessage) error
	ValidateOutput(toolName string, raw json.RawMessage) error
}

// accumulator folds deltas into one assistant message.
type accumulator struct {
	msg       *conversation.Message
	validator ToolValidator

	// open text and reasoning blocks by id
	blocks map[string]int
	// streamed tool input text by call id
	toolInput map[string]*strings.Builder
	// set by a finish delta or a complete message
	finished bool
}

func newAccumulator(msg *conversation.Message, validator ToolValidator) *accumulator {
	return &accumulator{
		msg:       msg,
		validator: validator,
		blocks:    map[string]int{},
		toolInput: map[string]*strings.Builder{},
	}
}

// tryApply folds d into the message. An error leaves the message unchanged.
func (a *accumulator) tryApply(d *Delta) error {
	backup := a.msg.Clone()
	if err := a.apply(d); err != nil {
		a.msg = backup
		return err
	}
	return nil
}

func (a *accumulator) apply(d *Delta) error {
	switch d.Type {
	case DeltaTypeStart:
		return nil

	case DeltaTypeTextStart:
		a.blocks[d.ID] = a.msg.AppendPart(conversation.NewTextPart(d.Delta))
		return nil

	case DeltaTypeTextDelta:
		return a.appendText(conversation.PartTypeText, d.ID, d.Delta)

	case DeltaTypeReasoningDelta:
		return a.appendText(conversation.PartTypeReasoning, d.ID, d.Delta)

	case DeltaTypeTextEnd:
		delete(a.blocks, d.ID)
		return nil

	case DeltaTypeToolInputStart:
		if d.ToolCallID == "" {
			return errors.New("tool-input-start without tool call id")
		}
		if a.msg.FindToolInvocation(d.ToolCallID) >= 0 {
			return errors.Errorf("tool call %s already started", d.ToolCallID)
		}
		p, err := conversation.NewToolInvocationPart(d.ToolCallID, d.ToolName, conversation.ToolStateInputStreaming, nil)
		if err != nil {
			return err
		}
		a.msg.AppendPart(p)
		a.toolInput[d.ToolCallID] = &strings.Builder{}
		return nil

	case DeltaTypeToolInputDelta:
		b, ok := a.toolInput[d.ToolCallID]
		if !ok {
			return errors.Errorf("tool-input-delta for unknown tool call %s", d.ToolCallID)
		}
		b.WriteString(d.Delta)
		return nil

	case DeltaTypeToolInputAvailable:
		input := d.Input
		if len(input) == 0 {
			if b, ok := a.toolInput[d.ToolCallID]; ok && b.Len() > 0 {
				input = json.RawMessage(b.String())
			}
		}
		if len(input) > 0 && !json.Valid(input) {
			return errors.Errorf("tool call %s input is not valid JSON", d.ToolCallID)
		}
		idx := a.msg.FindToolInvocation(d.ToolCallID)
		toolName := d.ToolName
		if toolName == "" && idx >= 0 {
			toolName = a.msg.Parts[idx].ToolName
		}
		if a.validator != nil && len(input) > 0 {
			if err := a.validator.ValidateInput(toolName, input); err != nil {
				return err
			}
		}
		delete(a.toolInput, d.ToolCallID)
		if idx < 0 {
			p, err := conversation.NewToolInvocationPart(d.ToolCallID, d.ToolName, conversation.ToolStateInputAvailable, input)
			if err != nil {
				return err
			}
			a.msg.AppendPart(p)
			return nil
		}
		p := &a.msg.Parts[idx]
		p.Input = input
		if d.ToolName != "" {
			p.ToolName = d.ToolName
		}
		p.SetToolState(conversation.ToolStateInputAvailable)
		return nil

	case DeltaTypeToolOutput:
		idx := a.msg.FindToolInvocation(d.ToolCallID)
		if idx < 0 {
			return errors.Errorf("tool output for unknown tool call %s", d.ToolCallID)
		}
		p := &a.msg.Parts[idx]
		if a.validator != nil {
			if err := a.validator.ValidateOutput(p.ToolName, d.Output); err != nil {
				return err
			}
		}
		p.Output = d.Output
		p.SetToolState(conversation.ToolStateOutputAvailable)
		return nil

	case DeltaTypeToolOutputError:
		idx := a.msg.FindToolInvocation(d.ToolCallID)
		if idx < 0 {
			return errors.Errorf("tool error for unknown tool call %s", d.ToolCallID)
		}
		p := &a.msg.Parts[idx]
		p.ErrorText = d.ErrorText
		p.SetToolState(conversation.ToolStateOutputError)
		return nil

	case DeltaTypeSourceURL:
		p, err := conversation.NewSourceURLPart(d.SourceID, d.URL, d.Title)
		if err != nil {
			return err
		}
		a.msg.AppendPart(p)
		return nil

	case DeltaTypeSourceDocument:
		p, err := conversation.NewSourceDocumentPart(d.SourceID, d.MediaType, d.Title, d.Filename)
		if err != nil {
			return err
		}
		a.msg.AppendPart(p)
		return nil

	case DeltaTypeFile:
		p, err := conversation.NewFilePart(d.MediaType, d.Filename, d.URL)
		if err != nil {
			return err
		}
		a.msg.AppendPart(p)
		return nil

	case DeltaTypeData:
		p, err := conversation.NewDataPart(d.DataName, d.Data)
		if err != nil {
			return err
		}
		a.msg.AppendPart(p)
		return nil

	case DeltaTypeMessage:
		if d.Message == nil {
			return errors.New("message delta carries no message")
		}
		if d.Message.Role != conversation.RoleAssistant {
			return errors.Errorf("message delta carries a %s message", d.Message.Role)
		}
		id, createdAt := a.msg.ID, a.msg.CreatedAt
		a.msg = d.Message.Clone()
		a.msg.ID = id
		a.msg.CreatedAt = createdAt
		a.finished = true
		return nil

	case DeltaTypeFinish:
		a.finished = true
		return nil

	default:
		return errors.Errorf("unknown delta type %q", d.Type)
	}
}

// appendText appends to the block with the given id, or to the trailing part
// when it has the same type, or starts a new part.
func (a *accumulator) appendText(t conversation.PartType, id string, text string) error {
	if id != "" {
		if idx, ok := a.blocks[id]; ok && a.msg.Parts[idx].Type == t {
			a.msg.Parts[idx].AppendText(text)
			return nil
		}
	}
	if n := len(a.msg.Parts); n > 0 && a.msg.Parts[n-1].Type == t && id == "" {
		a.msg.Parts[n-1].AppendText(text)
		return nil
	}
	var p conversation.Part
	if t == conversation.PartTypeReasoning {
		p = conversation.NewReasoningPart(text)
	} else {
		p = conversation.NewTextPart(text)
	}
	idx := a.msg.AppendPart(p)
	if id != "" {
		a.blocks[id] = idx
	}
	return nil
}
