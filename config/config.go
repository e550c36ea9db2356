// Package config handles CLI configuration for connecting to pipeline servers.
//
// Config is stored at $XDG_CONFIG_HOME/pipesync/config.yaml (defaults to
// ~/.config/pipesync/config.yaml) and follows the kubeconfig pattern: named
// contexts with a current-context selector. A .env file in the working
// directory and PIPESYNC_* environment variables override the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pipesync/internal/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvServer   = "PIPESYNC_SERVER"
	EnvToken    = "PIPESYNC_TOKEN"
	EnvContext  = "PIPESYNC_CONTEXT"
	EnvLogLevel = "PIPESYNC_LOG_LEVEL"

	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Context describes how to reach one pipeline server.
type Context struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token,omitempty"`
}

type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

type Transport struct {
	InitialBackoff Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     Duration `yaml:"max_backoff,omitempty"`
	MaxAttempts    int      `yaml:"max_attempts,omitempty"`
}

type Settings struct {
	Backend     string `yaml:"backend,omitempty"`
	Path        string `yaml:"path,omitempty"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
}

// Config holds named server contexts, the current selection and the client
// tuning shared by every command.
type Config struct {
	CurrentContext string             `yaml:"current-context"`
	Contexts       map[string]Context `yaml:"contexts"`
	Log            Log                `yaml:"log,omitempty"`
	Transport      Transport          `yaml:"transport,omitempty"`
	Settings       Settings           `yaml:"settings,omitempty"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/pipesync/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "pipesync", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "pipesync", "config.yaml")
}

// DataPath returns the default settings database location under
// XDG_DATA_HOME, falling back to ~/.local/share/pipesync/settings.db.
func DataPath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "share", "pipesync", "settings.db")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "pipesync", "settings.db")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Contexts: make(map[string]Context),
		Log:      Log{Level: logging.LevelWarn, Format: logging.FormatText},
		Transport: Transport{
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(15 * time.Second),
		},
		Settings: Settings{Backend: BackendSQLite, Path: DataPath(), RedisPrefix: "pipesync"},
	}
}

// Load reads the config file. If the file does not exist, the defaults are
// returned (not an error).
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config at path, filling unset fields with defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]Context)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set win, and a missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides the log level from PIPESYNC_LOG_LEVEL. Server and token
// overrides are applied by Resolve.
func (c *Config) ApplyEnv() {
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.Log.Level = level
	}
}

// Save writes the config to Path, creating directories as needed.
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

func (c *Config) SaveTo(p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Current returns the current context name and value.
// The bool is false when no current context is set.
func (c *Config) Current() (string, Context, bool) {
	if c.CurrentContext == "" {
		return "", Context{}, false
	}
	ctx, ok := c.Contexts[c.CurrentContext]
	if !ok {
		return "", Context{}, false
	}
	return c.CurrentContext, ctx, true
}

// Use sets the current context. It returns an error if the name doesn't exist.
func (c *Config) Use(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return nil
}

// Set adds or updates a named context.
func (c *Config) Set(name string, ctx Context) {
	c.Contexts[name] = ctx
}

// Remove deletes a context. If it was the current context, current-context
// is cleared. Returns an error if the name doesn't exist.
func (c *Config) Remove(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return nil
}

// Target is the server a command talks to.
type Target struct {
	Context string
	Server  string
	Token   string
}

// Resolve picks the server for a command. The named context wins over
// PIPESYNC_CONTEXT, which wins over current-context; PIPESYNC_SERVER and
// PIPESYNC_TOKEN override whatever context was chosen.
func (c *Config) Resolve(name string) (Target, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(os.Getenv(EnvContext))
	}
	if name == "" {
		name = c.CurrentContext
	}

	var t Target
	if name != "" {
		ctx, ok := c.Contexts[name]
		if !ok {
			return Target{}, fmt.Errorf("context %q not found", name)
		}
		t = Target{Context: name, Server: ctx.Server, Token: ctx.Token}
	}
	if server := strings.TrimSpace(os.Getenv(EnvServer)); server != "" {
		t.Server = server
	}
	if token := strings.TrimSpace(os.Getenv(EnvToken)); token != "" {
		t.Token = token
	}

	if strings.TrimSpace(t.Server) == "" {
		return Target{}, fmt.Errorf("no server configured: add a context or set %s", EnvServer)
	}
	if err := validateServer(t.Server); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Validate checks every section. It does not require a server; commands that
// need one call Resolve.
func (c *Config) Validate() error {
	var errs []error
	if c.CurrentContext != "" {
		if _, ok := c.Contexts[c.CurrentContext]; !ok {
			errs = append(errs, fmt.Errorf("current-context %q not found", c.CurrentContext))
		}
	}
	for name, ctx := range c.Contexts {
		if err := validateServer(ctx.Server); err != nil {
			errs = append(errs, fmt.Errorf("context %q: %w", name, err))
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log: invalid format %q", c.Log.Format))
	}

	tr := c.Transport
	if tr.InitialBackoff < 0 || tr.MaxBackoff < 0 || tr.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("transport: backoffs and max_attempts must not be negative"))
	}
	if tr.MaxBackoff > 0 && tr.MaxBackoff < tr.InitialBackoff {
		errs = append(errs, fmt.Errorf("transport: max_backoff %s is below initial_backoff %s",
			time.Duration(tr.MaxBackoff), time.Duration(tr.InitialBackoff)))
	}

	switch strings.ToLower(strings.TrimSpace(c.Settings.Backend)) {
	case "", BackendSQLite:
		if strings.TrimSpace(c.Settings.Path) == "" {
			errs = append(errs, fmt.Errorf("settings: path is required for the sqlite backend"))
		}
	case BackendRedis:
		if strings.TrimSpace(c.Settings.RedisAddr) == "" {
			errs = append(errs, fmt.Errorf("settings: redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("settings: unknown backend %q", c.Settings.Backend))
	}
	return errors.Join(errs...)
}

func validateServer(server string) error {
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil {
		return fmt.Errorf("invalid server %q: %w", server, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server %q: want http(s)://host[:port]", server)
	}
	return nil
}
