package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"

	"github.com/go-go-golems/snapdesk/pkg/config"
)

// Settings holds Redis Streams transport configuration for the event bus.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled" glazed.default:"false" glazed.help:"Carry chat and workbench events over Redis Streams"`
	Addr     string `glazed:"redis-addr" glazed.default:"localhost:6379" glazed.help:"Redis address host:port"`
	Group    string `glazed:"redis-group" glazed.default:"snapdesk" glazed.help:"Prefix of the per-process Redis consumer group"`
	Consumer string `glazed:"redis-consumer" glazed.default:"web-1" glazed.help:"Redis consumer name"`
}

// NewParameterLayer returns a section definition for Redis Streams settings.
func NewParameterLayer() (schema.Section, error) {
	return schema.NewSection(
		"redis",
		"Redis Streams transport for snapdesk events",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false)),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault("localhost:6379")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault("snapdesk")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault("web-1")),
		),
	)
}

// FromConfig converts the bus section of the YAML config.
func FromConfig(c config.BusConfig) Settings {
	return Settings{
		Enabled:  c.RedisEnabled,
		Addr:     c.RedisAddr,
		Group:    c.RedisGroup,
		Consumer: c.RedisConsumer,
	}
}

// Merge lets explicitly enabled CLI settings win over the file.
func (s Settings) Merge(file Settings) Settings {
	if s.Enabled {
		return s
	}
	return file
}
