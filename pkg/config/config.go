package config

import (
	_ "embed"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultConfig []byte

type PageKind string

const (
	KindChat PageKind = "chat"
	KindQA   PageKind = "qa"
)

type PayloadMode string

const (
	PayloadFormPrompt   PayloadMode = "form-prompt"
	PayloadJSONPrompt   PayloadMode = "json-prompt"
	PayloadJSONMessages PayloadMode = "json-messages"
	PayloadSLMessages   PayloadMode = "sl-messages"
)

type RenderMode string

const (
	RenderReply   RenderMode = "reply"
	RenderJSON    RenderMode = "json"
	RenderBullets RenderMode = "bullets"
)

type TokenPlacement string

const (
	TokenHeader TokenPlacement = "header"
	TokenQuery  TokenPlacement = "query"
)

// Config is the top-level snapdesk configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Bus       BusConfig       `yaml:"bus"`
	Pages     []PageConfig    `yaml:"pages"`
	Workbench WorkbenchConfig `yaml:"workbench"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// SubmitRate is the number of prompts per second a single session may send.
	SubmitRate  float64 `yaml:"submit_rate"`
	SubmitBurst int     `yaml:"submit_burst"`
}

type StoreConfig struct {
	// Backend is one of memory, sqlite or redis.
	Backend       string        `yaml:"backend"`
	SQLitePath    string        `yaml:"sqlite_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`
	MaxPerSession int           `yaml:"max_per_session"`
}

type BusConfig struct {
	RedisEnabled  bool   `yaml:"redis_enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisGroup    string `yaml:"redis_group"`
	RedisConsumer string `yaml:"redis_consumer"`
}

type PipelineConfig struct {
	URL                string         `yaml:"url"`
	Token              string         `yaml:"token"`
	TokenPlacement     TokenPlacement `yaml:"token_placement"`
	Timeout            time.Duration  `yaml:"timeout"`
	InsecureSkipVerify bool           `yaml:"insecure_skip_verify"`
}

type PageConfig struct {
	Slug            string         `yaml:"slug"`
	Title           string         `yaml:"title"`
	PageTitle       string         `yaml:"page_title"`
	Description     string         `yaml:"description"`
	Examples        []string       `yaml:"examples"`
	InputLabel      string         `yaml:"input_label"`
	Kind            PageKind       `yaml:"kind"`
	Pipeline        PipelineConfig `yaml:"pipeline"`
	Payload         PayloadMode    `yaml:"payload"`
	UserRole        string         `yaml:"user_role"`
	DeploymentID    string         `yaml:"deployment_id"`
	Render          RenderMode     `yaml:"render"`
	TypewriterSpeed int            `yaml:"typewriter_speed"`
	NewlineMarker   bool           `yaml:"newline_marker"`
	// ErrorBanner prefixes the status code when the pipeline answers with a non-200.
	ErrorBanner     string         `yaml:"error_banner"`
	// EmptyReply is stored as the reply when a 200 carries neither choices nor response.
	// Left empty, such a response is an error.
	EmptyReply      string         `yaml:"empty_reply"`
}

type WorkbenchConfig struct {
	Enabled             bool          `yaml:"enabled"`
	RecommendationsFile string        `yaml:"recommendations_file"`
	Endpoint            string        `yaml:"endpoint"`
	Token               string        `yaml:"token"`
	Timeout             time.Duration `yaml:"timeout"`
	NetSuiteAccount     string        `yaml:"netsuite_account"`
	AutoApproveBelow    int           `yaml:"auto_approve_below"`
}

// envOverrides are process-level settings that win over the YAML file.
type envOverrides struct {
	Addr        string `env:"SNAPDESK_ADDR"`
	Store       string `env:"SNAPDESK_STORE"`
	SQLitePath  string `env:"SNAPDESK_SQLITE_PATH"`
	RedisAddr   string `env:"SNAPDESK_REDIS_ADDR"`
	BusRedis    bool   `env:"SNAPDESK_BUS_REDIS" envDefault:"false"`
	TaskTimeout int    `env:"SL_TASK_TIMEOUT"`
	Recs        string `env:"SNAPDESK_RECOMMENDATIONS"`
}

// LoadDotEnv loads a .env file into the process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "load env file %s", path)
	}
	return nil
}

// Load reads the config file at path, or the embedded defaults when path is empty.
func Load(path string) (*Config, error) {
	raw := defaultConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		raw = b
	}
	return Parse(raw)
}

// Parse decodes raw, expands environment references in its values and applies env overrides.
func Parse(raw []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	expandNode(&doc, os.LookupEnv)
	cfg := &Config{}
	if doc.Kind != 0 {
		if err := doc.Decode(cfg); err != nil {
			return nil, errors.Wrap(err, "decode config")
		}
	}

	o := envOverrides{}
	if err := env.Parse(&o); err != nil {
		return nil, errors.Wrap(err, "parse env overrides")
	}
	cfg.applyOverrides(o)
	cfg.applyDefaults()
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandPaths resolves a leading ~ in file paths.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Store.SQLitePath, &c.Workbench.RecommendationsFile} {
		v, err := homedir.Expand(*p)
		if err != nil {
			return errors.Wrapf(err, "expand %q", *p)
		}
		*p = v
	}
	return nil
}

func (c *Config) applyOverrides(o envOverrides) {
	if o.Addr != "" {
		c.Server.Addr = o.Addr
	}
	if o.Store != "" {
		c.Store.Backend = o.Store
	}
	if o.SQLitePath != "" {
		c.Store.SQLitePath = o.SQLitePath
	}
	if o.RedisAddr != "" {
		c.Store.RedisAddr = o.RedisAddr
		c.Bus.RedisAddr = o.RedisAddr
	}
	if o.BusRedis {
		c.Bus.RedisEnabled = true
	}
	if o.Recs != "" {
		c.Workbench.RecommendationsFile = o.Recs
	}
	if o.TaskTimeout > 0 {
		for i := range c.Pages {
			if c.Pages[i].Pipeline.Timeout == 0 {
				c.Pages[i].Pipeline.Timeout = time.Duration(o.TaskTimeout) * time.Second
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.SubmitRate <= 0 {
		c.Server.SubmitRate = 1
	}
	if c.Server.SubmitBurst <= 0 {
		c.Server.SubmitBurst = 3
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.MaxPerSession <= 0 {
		c.Store.MaxPerSession = 500
	}
	if c.Bus.RedisAddr == "" {
		c.Bus.RedisAddr = "localhost:6379"
	}
	if c.Bus.RedisGroup == "" {
		c.Bus.RedisGroup = "snapdesk"
	}
	if c.Bus.RedisConsumer == "" {
		c.Bus.RedisConsumer = "web-1"
	}
	for i := range c.Pages {
		p := &c.Pages[i]
		if p.Kind == "" {
			p.Kind = KindChat
		}
		if p.Payload == "" {
			p.Payload = PayloadFormPrompt
		}
		if p.Render == "" {
			p.Render = RenderReply
		}
		if p.Pipeline.TokenPlacement == "" {
			p.Pipeline.TokenPlacement = TokenHeader
		}
		if p.Pipeline.Timeout == 0 {
			p.Pipeline.Timeout = 1000 * time.Second
		}
		if p.PageTitle == "" {
			p.PageTitle = p.Title
		}
		if p.UserRole == "" {
			p.UserRole = "USER"
		}
		if p.DeploymentID == "" && p.Payload == PayloadSLMessages {
			p.DeploymentID = "end_turn"
		}
		if p.InputLabel == "" {
			p.InputLabel = "Ask me anything"
		}
	}
	if c.Workbench.Timeout == 0 {
		c.Workbench.Timeout = 30 * time.Second
	}
	if c.Workbench.AutoApproveBelow <= 0 {
		c.Workbench.AutoApproveBelow = 250
	}
}

// Validate checks the page list and enumerated values.
func (c *Config) Validate() error {
	seen := map[string]struct{}{}
	for i, p := range c.Pages {
		if strings.TrimSpace(p.Slug) == "" {
			return errors.Errorf("page %d: empty slug", i)
		}
		if _, ok := seen[p.Slug]; ok {
			return errors.Errorf("page %s: duplicate slug", p.Slug)
		}
		seen[p.Slug] = struct{}{}

		if p.Pipeline.URL == "" {
			return errors.Errorf("page %s: missing pipeline url", p.Slug)
		}
		if _, err := url.ParseRequestURI(p.Pipeline.URL); err != nil {
			return errors.Wrapf(err, "page %s: invalid pipeline url", p.Slug)
		}
		if p.Pipeline.Timeout <= 0 {
			return errors.Errorf("page %s: timeout must be positive", p.Slug)
		}
		switch p.Kind {
		case KindChat, KindQA:
		default:
			return errors.Errorf("page %s: unknown kind %q", p.Slug, p.Kind)
		}
		switch p.Payload {
		case PayloadFormPrompt, PayloadJSONPrompt, PayloadJSONMessages, PayloadSLMessages:
		default:
			return errors.Errorf("page %s: unknown payload %q", p.Slug, p.Payload)
		}
		switch p.Render {
		case RenderReply, RenderJSON, RenderBullets:
		default:
			return errors.Errorf("page %s: unknown render %q", p.Slug, p.Render)
		}
		switch p.Pipeline.TokenPlacement {
		case TokenHeader, TokenQuery:
		default:
			return errors.Errorf("page %s: unknown token placement %q", p.Slug, p.Pipeline.TokenPlacement)
		}
	}
	switch c.Store.Backend {
	case "memory", "sqlite", "redis":
	default:
		return errors.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		return errors.New("sqlite store requires sqlite_path")
	}
	if c.Workbench.Enabled && c.Workbench.Endpoint == "" {
		return errors.New("workbench enabled without endpoint")
	}
	return nil
}

// Page returns the page with the given slug.
func (c *Config) Page(slug string) (PageConfig, bool) {
	for _, p := range c.Pages {
		if p.Slug == slug {
			return p, true
		}
	}
	return PageConfig{}, false
}
