package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ToolCommandPrefix makes the echo client answer with a tool call instead of
// text: "/tool weather {"city":"Oslo"}".
const ToolCommandPrefix = "/tool "

// EchoClient is an in-process server that streams the user's text back one
// character at a time. When Store is set it also plays the server side of
// regeneration and truncates the store itself.
type EchoClient struct {
	TimePerCharacter time.Duration
	Store            store.TranscriptStore
	// FailWith makes every exchange fail after the start delta.
	FailWith error
}

func NewEchoClient() *EchoClient {
	return &EchoClient{
		TimePerCharacter: 100 * time.Millisecond,
	}
}

func (e *EchoClient) Exchange(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	text, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	c := make(chan Chunk)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return e.stream(egCtx, text, c)
	})
	go func() {
		defer close(c)
		if err := eg.Wait(); err != nil && ctx.Err() == nil {
			select {
			case c <- Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return c, nil
}

// prepare resolves the text to echo. For server-side regeneration it also
// deletes the records the regeneration replaces.
func (e *EchoClient) prepare(ctx context.Context, req *Request) (string, error) {
	if req.Trigger == TriggerSubmitUserMessage {
		return req.Message.Text(), nil
	}
	if req.Message != nil && e.Store == nil {
		return req.Message.Text(), nil
	}
	if e.Store == nil {
		return "", errors.New("echo client needs a store to regenerate an assistant message")
	}

	transcript, err := e.Store.LoadTranscript(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	idx := transcript.IndexOf(req.MessageID)

	var pivot time.Time
	var text string
	switch {
	case req.Message != nil:
		// edited user message: keep it, drop what follows
		pivot = req.Message.CreatedAt
		if idx >= 0 {
			pivot = transcript[idx].CreatedAt
		}
		text = req.Message.Text()
	case idx > 0:
		// assistant target: drop it and what follows
		prev := transcript[idx-1]
		pivot = prev.CreatedAt
		for i := idx - 1; i >= 0; i-- {
			if transcript[i].Role == conversation.RoleUser {
				text = transcript[i].Text()
				break
			}
		}
	default:
		return "", errors.Errorf("message %s has no stored predecessor", req.MessageID)
	}

	log.Debug().Str("conversation_id", req.ChatID).Time("pivot", pivot).Msg("echo server truncating store")
	if err := e.Store.DeleteTrailingRecords(ctx, req.ChatID, pivot); err != nil {
		return "", err
	}
	return text, nil
}

func (e *EchoClient) stream(ctx context.Context, text string, c chan<- Chunk) error {
	send := func(d *Delta) error {
		select {
		case c <- Chunk{Delta: d}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := send(&Delta{Type: DeltaTypeStart, MessageID: uuid.NewString()}); err != nil {
		return err
	}
	if e.FailWith != nil {
		return e.FailWith
	}

	if strings.HasPrefix(text, ToolCommandPrefix) {
		name, input, err := parseToolCommand(text)
		if err != nil {
			return err
		}
		callID := "call-" + uuid.NewString()
		if err := send(&Delta{Type: DeltaTypeToolInputStart, ToolCallID: callID, ToolName: name}); err != nil {
			return err
		}
		if err := send(&Delta{Type: DeltaTypeToolInputAvailable, ToolCallID: callID, ToolName: name, Input: input}); err != nil {
			return err
		}
		return send(&Delta{Type: DeltaTypeFinish})
	}

	reply := fmt.Sprintf("echo: %s", text)
	blockID := uuid.NewString()
	if err := send(&Delta{Type: DeltaTypeTextStart, ID: blockID}); err != nil {
		return err
	}
	for _, r := range reply {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.TimePerCharacter):
		}
		if err := send(&Delta{Type: DeltaTypeTextDelta, ID: blockID, Delta: string(r)}); err != nil {
			return err
		}
	}
	if err := send(&Delta{Type: DeltaTypeTextEnd, ID: blockID}); err != nil {
		return err
	}
	return send(&Delta{Type: DeltaTypeFinish})
}

func parseToolCommand(text string) (string, json.RawMessage, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(text, ToolCommandPrefix))
	name, input, _ := strings.Cut(rest, " ")
	if name == "" {
		return "", nil, errors.New("tool command without tool name")
	}
	input = strings.TrimSpace(input)
	if input == "" {
		input = "{}"
	}
	if !json.Valid([]byte(input)) {
		return "", nil, errors.Errorf("tool %s input is not valid JSON", name)
	}
	return name, json.RawMessage(input), nil
}

var _ Client = (*EchoClient)(nil)
