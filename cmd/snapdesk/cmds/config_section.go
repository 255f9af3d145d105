package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/snapdesk/pkg/config"
)

const ConfigSlug = "snapdesk-config"

type ConfigSettings struct {
	ConfigFile string `glazed:"config"`
	EnvFile    string `glazed:"env-file"`
}

// NewConfigSection holds the flags every command uses to find its YAML config and .env file.
func NewConfigSection() (schema.Section, error) {
	return schema.NewSection(
		ConfigSlug,
		"snapdesk configuration",
		schema.WithFields(
			fields.New("config", fields.TypeString, fields.WithDefault(""), fields.WithHelp("YAML config file (embedded defaults when empty)")),
			fields.New("env-file", fields.TypeString, fields.WithDefault(".env"), fields.WithHelp("dotenv file loaded before the config is expanded")),
		),
	)
}

// LoadConfig loads the .env file and then the YAML config named by the config section.
func LoadConfig(parsed *values.Values) (*config.Config, error) {
	s := &ConfigSettings{}
	if err := parsed.DecodeSectionInto(ConfigSlug, s); err != nil {
		return nil, errors.Wrap(err, "init config settings")
	}
	if err := config.LoadDotEnv(s.EnvFile); err != nil {
		return nil, err
	}
	return config.Load(s.ConfigFile)
}

// GetMiddlewares resolves flags from the command line, then SNAPDESK_* variables, then defaults.
func GetMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv("SNAPDESK",
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}
