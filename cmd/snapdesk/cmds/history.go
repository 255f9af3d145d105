package cmds

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/persistence/chatstore"
	"github.com/go-go-golems/snapdesk/pkg/ui"
)

// HistoryCommand browses the conversations kept by a persistent chat store.
type HistoryCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = (*HistoryCommand)(nil)

type HistorySettings struct {
	Store      string `glazed:"store"`
	SQLitePath string `glazed:"sqlite-path"`
	Page       string `glazed:"page"`
}

func NewHistoryCommand() (*HistoryCommand, error) {
	configSection, err := NewConfigSection()
	if err != nil {
		return nil, err
	}
	return &HistoryCommand{
		CommandDescription: cmds.NewCommandDescription(
			"history",
			cmds.WithShort("Browse stored chat conversations"),
			cmds.WithLong(`Opens a terminal browser over the configured chat store.
Select a conversation to read its transcript, press enter for a full view
and d to clear it. The memory backend never has anything to show.`),
			cmds.WithFlags(
				fields.New("store", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Override the store backend (sqlite or redis)")),
				fields.New("sqlite-path", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Override the sqlite database path")),
				fields.New("page", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Only show conversations of this page")),
			),
			cmds.WithSections(configSection),
		),
	}, nil
}

func (c *HistoryCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &HistorySettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init history settings")
	}
	cfg, err := LoadConfig(parsed)
	if err != nil {
		return err
	}
	if s.Store != "" {
		cfg.Store.Backend = s.Store
	}
	if s.SQLitePath != "" {
		cfg.Store.SQLitePath = s.SQLitePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Store.Backend == "memory" {
		log.Warn().Msg("memory chat store keeps no history across processes")
	}

	store, err := chatstore.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	convs, err := store.Conversations(ctx)
	if err != nil {
		return err
	}
	convs = filterConversations(convs, s.Page)
	if len(convs) == 0 {
		return errors.Errorf("no conversations in the %s store", cfg.Store.Backend)
	}

	final, err := tea.NewProgram(ui.NewHistoryModel(ctx, store, convs), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	if err != nil {
		return err
	}
	if m, ok := final.(ui.HistoryModel); ok {
		if key, ok := m.Selected(); ok {
			fmt.Printf("Selected conversation: %s\n", key)
		}
	}
	return nil
}

func filterConversations(convs []chatstore.Conversation, page string) []chatstore.Conversation {
	if page == "" {
		return convs
	}
	out := convs[:0]
	for _, c := range convs {
		if c.Key.Page == page {
			out = append(out, c)
		}
	}
	return out
}
