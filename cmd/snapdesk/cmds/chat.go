package cmds

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/snapdesk/pkg/chat"
	"github.com/go-go-golems/snapdesk/pkg/persistence/chatstore"
	"github.com/go-go-golems/snapdesk/pkg/ui"
)

type ChatCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = (*ChatCommand)(nil)

type ChatSettings struct {
	Page    string `glazed:"page"`
	Session string `glazed:"session"`
	Reset   bool   `glazed:"reset"`
}

func NewChatCommand() (*ChatCommand, error) {
	configSection, err := NewConfigSection()
	if err != nil {
		return nil, err
	}
	return &ChatCommand{
		CommandDescription: cmds.NewCommandDescription(
			"chat",
			cmds.WithShort("Chat with a page in the terminal"),
			cmds.WithArguments(
				fields.New("page", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Page slug")),
			),
			cmds.WithFlags(
				fields.New("session", fields.TypeString, fields.WithDefault("cli"), fields.WithHelp("Session id whose history is shown and extended")),
				fields.New("reset", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Clear the session history first")),
			),
			cmds.WithSections(configSection),
		),
	}, nil
}

func (c *ChatCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ChatSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init chat settings")
	}
	cfg, err := LoadConfig(parsed)
	if err != nil {
		return err
	}
	page, ok := cfg.Page(s.Page)
	if !ok {
		return errors.Wrap(chat.ErrUnknownPage, s.Page)
	}

	store, err := chatstore.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc := chat.NewService(cfg.Pages, store)
	if s.Reset {
		if err := svc.Reset(ctx, page.Slug, s.Session); err != nil {
			return err
		}
	}
	history, err := svc.History(ctx, page.Slug, s.Session)
	if err != nil {
		return err
	}

	title := page.Title
	if page.PageTitle != "" {
		title = page.PageTitle
	}
	m := ui.NewModel(ctx, title, ui.NewServiceBackend(svc, page.Slug, s.Session), history)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
