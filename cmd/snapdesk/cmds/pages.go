package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
)

type PagesCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*PagesCommand)(nil)

func NewPagesCommand() (*PagesCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	configSection, err := NewConfigSection()
	if err != nil {
		return nil, err
	}
	return &PagesCommand{
		CommandDescription: cmds.NewCommandDescription(
			"pages",
			cmds.WithShort("List the configured chat pages"),
			cmds.WithSections(glazedSection, configSection),
		),
	}, nil
}

func (c *PagesCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	cfg, err := LoadConfig(parsed)
	if err != nil {
		return err
	}
	for _, p := range cfg.Pages {
		row := types.NewRow(
			types.MRP("slug", p.Slug),
			types.MRP("title", p.Title),
			types.MRP("kind", string(p.Kind)),
			types.MRP("payload", string(p.Payload)),
			types.MRP("render", string(p.Render)),
			types.MRP("token_placement", string(p.Pipeline.TokenPlacement)),
			types.MRP("timeout", p.Pipeline.Timeout.String()),
			types.MRP("typewriter_speed", p.TypewriterSpeed),
			types.MRP("url", p.Pipeline.URL),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
