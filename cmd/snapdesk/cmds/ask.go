package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/weaviate/tiktoken-go"

	"github.com/go-go-golems/snapdesk/pkg/chat"
	"github.com/go-go-golems/snapdesk/pkg/persistence/chatstore"
	"github.com/go-go-golems/snapdesk/pkg/pipeline"
	"github.com/go-go-golems/snapdesk/pkg/render"
)

type AskCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*AskCommand)(nil)

type AskSettings struct {
	Page       string   `glazed:"page"`
	Prompt     []string `glazed:"prompt"`
	Session    string   `glazed:"session"`
	Raw        bool     `glazed:"raw"`
	Copy       bool     `glazed:"copy"`
	Stats      bool     `glazed:"stats"`
	Typewriter bool     `glazed:"typewriter"`
}

func NewAskCommand() (*AskCommand, error) {
	configSection, err := NewConfigSection()
	if err != nil {
		return nil, err
	}
	return &AskCommand{
		CommandDescription: cmds.NewCommandDescription(
			"ask",
			cmds.WithShort("Send one prompt to a chat page and print the reply"),
			cmds.WithLong("Send one prompt to the pipeline of a configured page. The page history of --session is sent along and the reply is stored."),
			cmds.WithArguments(
				fields.New("page", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Page slug")),
				fields.New("prompt", fields.TypeStringList, fields.WithHelp("Prompt words")),
			),
			cmds.WithFlags(
				fields.New("session", fields.TypeString, fields.WithDefault("cli"), fields.WithHelp("Session id whose history is used")),
				fields.New("raw", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Print the pipeline response as indented JSON without storing it")),
				fields.New("copy", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Copy the reply to the clipboard")),
				fields.New("stats", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Print token, line and size counts of the reply")),
				fields.New("typewriter", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Reveal the reply word by word at the page speed")),
			),
			cmds.WithSections(configSection),
		),
	}, nil
}

func (c *AskCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &AskSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init ask settings")
	}
	cfg, err := LoadConfig(parsed)
	if err != nil {
		return err
	}
	page, ok := cfg.Page(s.Page)
	if !ok {
		return errors.Wrap(chat.ErrUnknownPage, s.Page)
	}
	prompt := strings.TrimSpace(strings.Join(s.Prompt, " "))

	if s.Raw {
		if prompt == "" {
			return chat.ErrEmptyPrompt
		}
		resp, err := pipeline.NewClient(page.Pipeline).Send(ctx, pipeline.BuildRequest(page, prompt, nil, s.Session))
		if err != nil {
			fmt.Fprintln(os.Stderr, chat.BannerFor(page, err))
			return err
		}
		_, err = fmt.Fprintln(w, resp.Pretty())
		return err
	}

	store, err := chatstore.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc := chat.NewService(cfg.Pages, store)
	res, err := svc.Submit(ctx, page.Slug, s.Session, prompt, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, chat.Banner(err))
		return err
	}
	content := res.Message.Content

	if s.Typewriter && res.Speed > 0 {
		if err := typewrite(ctx, w, res.Frames, render.Delay(res.Speed)); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, render.Terminal(content))
	}

	if s.Copy {
		if err := clipboard.WriteAll(content); err != nil {
			return errors.Wrap(err, "copy reply to clipboard")
		}
	}
	if s.Stats {
		printStats(content)
	}
	return nil
}

// typewrite prints each frame's new words, pausing delay between frames.
func typewrite(ctx context.Context, w io.Writer, frames []string, delay time.Duration) error {
	prev := ""
	for _, f := range frames {
		if _, err := io.WriteString(w, strings.TrimPrefix(f, prev)); err != nil {
			return err
		}
		prev = f
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func printStats(content string) {
	tokenCounter, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing token counter: %v\n", err)
		return
	}
	tokens := tokenCounter.Encode(content, nil, nil)

	fmt.Fprintf(os.Stderr, "Statistics:\n")
	fmt.Fprintf(os.Stderr, "  Tokens: %d\n", len(tokens))
	fmt.Fprintf(os.Stderr, "  Lines:  %d\n", strings.Count(content, "\n")+1)
	fmt.Fprintf(os.Stderr, "  Size:   %d bytes\n", len(content))
}
