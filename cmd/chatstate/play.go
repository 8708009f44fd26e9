package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/chatstate/pkg/chat"
	"github.com/go-go-golems/chatstate/pkg/config"
	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/events"
	"github.com/go-go-golems/chatstate/pkg/sections"
	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Script is a scripted session, read from YAML.
//
//	conversation: demo
//	steps:
//	  - submit: hello
//	  - submit: tell me more
//	  - edit: {message: 2, text: tell me less}
//	  - reload: 3
//	  - submit: /tool weather {"city":"Oslo"}
//	  - tool-result: {output: {temperature: 3.5}}
//	  - submit: a long one
//	    no-wait: true
//	  - stop: true
//	  - show: 0
type Script struct {
	Conversation string `yaml:"conversation,omitempty"`
	Steps        []Step `yaml:"steps"`
}

// Step is one user action. Messages are referenced by their index in the
// log; negative indices count from the end.
type Step struct {
	Submit     string          `yaml:"submit,omitempty"`
	Suggest    string          `yaml:"suggest,omitempty"`
	Edit       *EditStep       `yaml:"edit,omitempty"`
	Reload     *int            `yaml:"reload,omitempty"`
	Stop       bool            `yaml:"stop,omitempty"`
	ToolResult *ToolResultStep `yaml:"tool-result,omitempty"`
	Sleep      time.Duration   `yaml:"sleep,omitempty"`
	Show       *int            `yaml:"show,omitempty"`
	NoWait     bool            `yaml:"no-wait,omitempty"`
}

type EditStep struct {
	Message int    `yaml:"message"`
	Text    string `yaml:"text"`
}

type ToolResultStep struct {
	// Call is the tool call id; empty picks the latest call without output.
	Call   string      `yaml:"call,omitempty"`
	Output interface{} `yaml:"output"`
}

func (s Step) name() string {
	switch {
	case s.Submit != "":
		return "submit"
	case s.Suggest != "":
		return "suggest"
	case s.Edit != nil:
		return "edit"
	case s.Reload != nil:
		return "reload"
	case s.Stop:
		return "stop"
	case s.ToolResult != nil:
		return "tool-result"
	case s.Sleep > 0:
		return "sleep"
	case s.Show != nil:
		return "show"
	default:
		return "unknown"
	}
}

func LoadScript(r io.Reader) (*Script, error) {
	var s Script
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "could not parse script")
	}
	return &s, nil
}

func newPlayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Run a scripted session and print the turns after every step",
		RunE: func(cmd *cobra.Command, args []string) error {
			scriptPath, _ := cmd.Flags().GetString("script")
			if scriptPath == "" {
				return errors.New("--script is required")
			}
			f, err := os.Open(scriptPath)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			script, err := LoadScript(f)
			if err != nil {
				return err
			}

			settings, err := config.LoadFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			dumpEvents, _ := cmd.Flags().GetBool("dump-events")
			return runScript(cmd.Context(), settings, script, cmd.OutOrStdout(), dumpEvents)
		},
	}
	cmd.Flags().String("script", "", "Path of the YAML script to play")
	cmd.Flags().Bool("dump-events", false, "Print every published event as JSON")
	return cmd
}

// printer reports notifications and location changes coming off the event bus.
type printer struct {
	w io.Writer
}

func (p *printer) HandleStatus(context.Context, *events.EventStatus) error { return nil }

func (p *printer) HandleMessagesChanged(context.Context, *events.EventMessagesChanged) error {
	return nil
}

func (p *printer) HandleHistoryStale(context.Context, *events.EventHistoryStale) error { return nil }

func (p *printer) HandleLocation(_ context.Context, e *events.EventLocation) error {
	_, err := fmt.Fprintf(p.w, "-> %s\n", e.Path)
	return err
}

func (p *printer) HandleNotification(_ context.Context, e *events.EventNotification) error {
	_, err := fmt.Fprintf(p.w, "!! [%s] %s: %s\n", e.Level, e.Kind, e.Text)
	return err
}

var _ events.EventHandler = (*printer)(nil)

func runScript(ctx context.Context, settings *config.Settings, script *Script, w io.Writer, dumpEvents bool) error {
	st, err := settings.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	client, err := settings.NewClient(st)
	if err != nil {
		return err
	}
	strategy, err := settings.NewStrategy()
	if err != nil {
		return err
	}

	router, err := events.NewRouter(events.WithLogger(events.NewWatermillLogger(log.Logger)))
	if err != nil {
		return err
	}
	router.AddHandler("printer", events.DefaultTopic, events.DispatchHandler(&printer{w: w}))
	if dumpEvents {
		router.AddHandler("dump", events.DefaultTopic, router.DumpRawEvents(os.Stderr))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		registry, err := builtinTools()
		if err != nil {
			return err
		}
		session, err := chat.New(ctx, script.Conversation, client,
			chat.WithStore(st),
			chat.WithRegistry(registry),
			chat.WithStrategy(strategy),
			chat.WithSink(router.Sink(events.DefaultTopic)))
		if err != nil {
			return err
		}
		return play(ctx, session, script, w)
	})

	err = eg.Wait()
	_ = router.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func play(ctx context.Context, session *chat.Session, script *Script, w io.Writer) error {
	fmt.Fprintf(w, "conversation %s\n", session.ID())
	for i, step := range script.Steps {
		fmt.Fprintf(w, "\n# step %d: %s\n", i+1, step.name())
		if step.Show != nil {
			if err := showTurn(w, session, *step.Show); err != nil {
				fmt.Fprintf(w, "error: %s\n", err)
			}
			continue
		}
		h, err := runStep(ctx, session, step)
		if err != nil {
			// failures are part of the script, the notification already went out
			fmt.Fprintf(w, "error: %s\n", err)
		}
		if h != nil && !step.NoWait {
			if _, err := h.Wait(); err != nil {
				fmt.Fprintf(w, "exchange failed: %s\n", err)
			}
		}
		printSections(w, session.Sections())
	}

	stats := session.Stats()
	fmt.Fprintf(w, "\noperations=%d divergences=%d transport_failures=%d\n",
		stats.Operations, stats.Divergences, stats.TransportFailures)
	return nil
}

func runStep(ctx context.Context, session *chat.Session, step Step) (*transport.ExecutionHandle, error) {
	switch {
	case step.Submit != "":
		return session.Submit(ctx, step.Submit, nil)
	case step.Suggest != "":
		return session.SelectSuggestedQuery(ctx, step.Suggest)
	case step.Edit != nil:
		id, err := messageAt(session, step.Edit.Message)
		if err != nil {
			return nil, err
		}
		res, err := session.EditAndRegenerate(ctx, id, step.Edit.Text)
		if res == nil {
			return nil, err
		}
		return res.Handle, err
	case step.Reload != nil:
		id, err := messageAt(session, *step.Reload)
		if err != nil {
			return nil, err
		}
		res, err := session.ReloadFrom(ctx, id)
		if res == nil {
			return nil, err
		}
		return res.Handle, err
	case step.Stop:
		session.Stop()
		return nil, nil
	case step.ToolResult != nil:
		return nil, provideToolResult(ctx, session, step.ToolResult)
	case step.Sleep > 0:
		select {
		case <-time.After(step.Sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, nil
	default:
		return nil, errors.New("empty step")
	}
}

func messageAt(session *chat.Session, index int) (string, error) {
	msgs := session.Messages()
	if index < 0 {
		index += len(msgs)
	}
	if index < 0 || index >= len(msgs) {
		return "", errors.Errorf("no message at index %d", index)
	}
	return msgs[index].ID, nil
}

func provideToolResult(ctx context.Context, session *chat.Session, step *ToolResultStep) error {
	callID := step.Call
	if callID == "" {
		callID = pendingToolCall(session.Messages())
		if callID == "" {
			return errors.New("no pending tool call")
		}
	}
	output, err := json.Marshal(step.Output)
	if err != nil {
		return errors.Wrap(err, "tool output is not representable as JSON")
	}
	return session.ProvideToolResult(ctx, callID, output)
}

func pendingToolCall(msgs conversation.Conversation) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		parts := msgs[i].Parts
		for j := len(parts) - 1; j >= 0; j-- {
			p := parts[j]
			if p.Type == conversation.PartTypeToolInvocation && p.ToolCallID != nil &&
				p.ToolStateValue() == conversation.ToolStateInputAvailable {
				return *p.ToolCallID
			}
		}
	}
	return ""
}

func showTurn(w io.Writer, session *chat.Session, index int) error {
	id, err := messageAt(session, index)
	if err != nil {
		return err
	}
	s, ok := sections.Find(session.Sections(), id)
	if !ok {
		return errors.Errorf("message %s is not part of a turn", id)
	}
	fmt.Fprintf(w, "turn of %s\n", id)
	printSections(w, []sections.Section{s})
	return nil
}

func printSections(w io.Writer, secs []sections.Section) {
	for i, s := range secs {
		fmt.Fprintf(w, "turn %d\n", i+1)
		fmt.Fprintf(w, "  user: %s\n", describe(s.User))
		for _, a := range s.Assistants {
			fmt.Fprintf(w, "  assistant: %s\n", describe(a))
		}
	}
}

func describe(m *conversation.Message) string {
	var out []string
	if t := m.Text(); t != "" {
		out = append(out, t)
	}
	for _, p := range m.Parts {
		switch p.Type {
		case conversation.PartTypeFile:
			out = append(out, fmt.Sprintf("[file %s]", *p.Filename))
		case conversation.PartTypeToolInvocation:
			desc := fmt.Sprintf("[tool %s %s", p.ToolName, p.ToolStateValue())
			if len(p.Output) > 0 {
				desc += " " + string(p.Output)
			}
			out = append(out, desc+"]")
		case conversation.PartTypeSourceURL:
			out = append(out, fmt.Sprintf("[source %s]", *p.URL))
		case conversation.PartTypeText, conversation.PartTypeReasoning,
			conversation.PartTypeSourceDocument, conversation.PartTypeData:
		}
	}
	return strings.Join(out, " ")
}
