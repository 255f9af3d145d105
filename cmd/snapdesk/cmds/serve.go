package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/chat"
	"github.com/go-go-golems/snapdesk/pkg/config"
	"github.com/go-go-golems/snapdesk/pkg/eventbus"
	"github.com/go-go-golems/snapdesk/pkg/persistence/chatstore"
	"github.com/go-go-golems/snapdesk/pkg/redisstream"
	"github.com/go-go-golems/snapdesk/pkg/webchat"
	"github.com/go-go-golems/snapdesk/pkg/workbench"
)

type ServeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = (*ServeCommand)(nil)

type ServeSettings struct {
	Addr        string `glazed:"addr"`
	Store       string `glazed:"store"`
	SQLitePath  string `glazed:"sqlite-path"`
	NoWorkbench bool   `glazed:"no-workbench"`
}

func NewServeCommand() (*ServeCommand, error) {
	configSection, err := NewConfigSection()
	if err != nil {
		return nil, err
	}
	redisSection, err := redisstream.NewParameterLayer()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}
	return &ServeCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve",
			cmds.WithShort("Serve the chat pages and the PO workbench"),
			cmds.WithLong("Serve every configured SnapLogic chat page, the PO approval workbench and their websocket feed."),
			cmds.WithFlags(
				fields.New("addr", fields.TypeString, fields.WithDefault(""), fields.WithHelp("HTTP listen address (overrides server.addr)")),
				fields.New("store", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Chat history backend: memory, sqlite or redis (overrides store.backend)")),
				fields.New("sqlite-path", fields.TypeString, fields.WithDefault(""), fields.WithHelp("SQLite file for the sqlite backend")),
				fields.New("no-workbench", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Do not mount the PO workbench")),
			),
			cmds.WithSections(configSection, redisSection),
		),
	}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ServeSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init serve settings")
	}
	rs := redisstream.Settings{}
	if err := parsed.DecodeSectionInto("redis", &rs); err != nil {
		return errors.Wrap(err, "init redis settings")
	}
	cfg, err := LoadConfig(parsed)
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.Server.Addr = s.Addr
	}
	if s.Store != "" {
		cfg.Store.Backend = s.Store
	}
	if s.SQLitePath != "" {
		cfg.Store.SQLitePath = s.SQLitePath
	}
	if s.NoWorkbench {
		cfg.Workbench.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv, err := buildServer(ctx, cfg, rs.Merge(redisstream.FromConfig(cfg.Bus)))
	if err != nil {
		return err
	}
	log.Info().
		Int("pages", len(cfg.Pages)).
		Str("store", cfg.Store.Backend).
		Bool("redis_bus", rs.Enabled || cfg.Bus.RedisEnabled).
		Bool("workbench", cfg.Workbench.Enabled).
		Msg("snapdesk configured")
	return srv.Run(ctx)
}

// Replaced in tests.
var (
	openStore    = chatstore.Open
	openEventBus = openBus
)

// buildServer opens the store and bus and assembles the web server around them.
// On error everything already opened is closed again.
func buildServer(ctx context.Context, cfg *config.Config, rs redisstream.Settings) (_ *webchat.Server, err error) {
	var opened []webchat.Closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(opened) - 1; i >= 0; i-- {
			if cerr := opened[i].Close(); cerr != nil {
				log.Warn().Err(cerr).Str("closer", opened[i].Name).Msg("close after failed startup")
			}
		}
	}()

	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	opened = append(opened, webchat.Closer{Name: "store", Close: store.Close})
	bus, err := openEventBus(rs)
	if err != nil {
		return nil, err
	}
	opened = append(opened, webchat.Closer{Name: "bus", Close: bus.Close})

	svc := chat.NewService(cfg.Pages, store,
		chat.WithBus(bus),
		chat.WithRateLimit(cfg.Server.SubmitRate, cfg.Server.SubmitBurst),
	)
	hub := webchat.NewHub()
	if err := hub.Attach(ctx, bus); err != nil {
		return nil, errors.Wrap(err, "attach hub")
	}

	var opts []webchat.AppOption
	if cfg.Workbench.Enabled {
		q, err := openQueue(cfg.Workbench, workbench.WithBus(bus))
		if err != nil {
			return nil, err
		}
		opts = append(opts, webchat.WithWorkbench(q, workbench.DefaultSettings()))
	}

	app, err := webchat.NewApp(svc, hub, opts...)
	if err != nil {
		return nil, err
	}
	return webchat.NewServer(cfg.Server.Addr, app,
		webchat.Closer{Name: "bus", Close: bus.Close},
		webchat.Closer{Name: "store", Close: store.Close},
	)
}

func openBus(rs redisstream.Settings) (*eventbus.Bus, error) {
	if !rs.Enabled {
		return eventbus.NewInProcess(), nil
	}
	log.Info().Str("addr", rs.Addr).Str("group_prefix", rs.Group).Str("consumer", rs.Consumer).Msg("using redis streams event bus")
	return eventbus.New(rs)
}

// openQueue builds the workbench queue from the configured recommendations file, if any.
func openQueue(cfg config.WorkbenchConfig, opts ...workbench.QueueOption) (*workbench.Queue, error) {
	var recs []workbench.Recommendation
	if cfg.RecommendationsFile != "" {
		var err error
		recs, err = workbench.LoadFile(cfg.RecommendationsFile)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("no recommendations file configured, workbench queue is empty")
	}
	return workbench.NewQueue(cfg, recs, opts...), nil
}
