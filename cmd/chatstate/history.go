package main

import (
	"context"
	"os"
	"time"

	"github.com/go-go-golems/chatstate/pkg/config"
	"github.com/go-go-golems/chatstate/pkg/store"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type HistorySettings struct {
	Conversation string `glazed.parameter:"conversation"`
	Seed         string `glazed.parameter:"seed"`
}

// HistoryCommand lists the stored conversations, or the records of one of
// them, as rows.
type HistoryCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*HistoryCommand)(nil)

func NewHistoryCommand() (*HistoryCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &HistoryCommand{
		CommandDescription: cmds.NewCommandDescription(
			"history",
			cmds.WithShort("List stored conversations, or print the records of one"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"seed",
					parameters.ParameterTypeString,
					parameters.WithHelp("YAML fixture to load into the store first"),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"conversation",
					parameters.ParameterTypeString,
					parameters.WithHelp("Conversation to print the records of"),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *HistoryCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &HistorySettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "error initializing settings")
	}

	cfg, err := config.LoadFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	st, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if s.Seed != "" {
		if err := seedFromFile(ctx, st, s.Seed); err != nil {
			return err
		}
	}
	return emitHistory(ctx, st, s.Conversation, gp)
}

// rowProcessor is the part of middlewares.Processor the history rows need.
type rowProcessor interface {
	AddRow(ctx context.Context, row types.Row) error
}

func emitHistory(ctx context.Context, r store.Reader, conversationID string, gp rowProcessor) error {
	if conversationID == "" {
		summaries, err := r.ListConversations(ctx)
		if err != nil {
			return err
		}
		for _, s := range summaries {
			row := types.NewRow(
				types.MRP("id", s.ID),
				types.MRP("records", s.Records),
				types.MRP("updated_at", s.UpdatedAt.Format(time.RFC3339)),
				types.MRP("title", s.Title),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
		return nil
	}

	msgs, err := r.LoadTranscript(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		row := types.NewRow(
			types.MRP("id", m.ID),
			types.MRP("role", string(m.Role)),
			types.MRP("created_at", m.CreatedAt.Format(time.RFC3339)),
			types.MRP("parts", len(m.Parts)),
			types.MRP("content", describe(m)),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func seedFromFile(ctx context.Context, w store.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	convs, err := store.LoadFixture(f)
	if err != nil {
		return err
	}
	return store.Seed(ctx, w, convs)
}
