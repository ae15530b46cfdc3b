// Package config loads sftphook settings with viper. Values come from an
// optional YAML file, then SFTPHOOK_* environment variables, then the
// defaults below.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: plugins.max is SFTPHOOK_PLUGINS_MAX.
const EnvPrefix = "SFTPHOOK"

// Config is a read-only view over a viper instance. A Config built from a
// nil viper returns zero values.
type Config struct {
	v *viper.Viper
}

// New wraps v.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

// GetString returns the value at key, or "".
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// GetInt returns the value at key, or 0.
func (c *Config) GetInt(key string) int {
	if c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

// GetBool returns the value at key, or false.
func (c *Config) GetBool(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

// GetDuration parses the value at key as a duration ("10s"), or 0.
func (c *Config) GetDuration(key string) time.Duration {
	if c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

// GetStringSlice returns the list at key. A string value is split on
// whitespace, which is how environment overrides spell lists.
func (c *Config) GetStringSlice(key string) []string {
	if c.v == nil {
		return nil
	}
	return c.v.GetStringSlice(key)
}

// Settings is the typed form of the configuration.
type Settings struct {
	Plugins  PluginSettings  `yaml:"plugins"`
	Sink     SinkSettings    `yaml:"sink"`
	Handlers HandlerSettings `yaml:"handlers"`
	Admin    AdminSettings   `yaml:"admin"`
	Log      LogSettings     `yaml:"log"`
}

// PluginSettings controls loading of the plugin list.
type PluginSettings struct {
	// Config is the plugin list file.
	Config string `yaml:"config"`
	Max    int    `yaml:"max"`
	// DefaultSequence applies to lines without a sequence keyword. UNKNOWN
	// makes the keyword mandatory.
	DefaultSequence string `yaml:"default_sequence"`
	// OnLoadError is "disable" or "fatal".
	OnLoadError string `yaml:"on_load_error"`
	// Loader is "native" or "go".
	Loader     string   `yaml:"loader"`
	SearchPath []string `yaml:"search_path"`
}

// SinkSettings selects where observer records go.
type SinkSettings struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// HandlerSettings controls observer splicing and sessions.
type HandlerSettings struct {
	// Policy is "prepend" or "append".
	Policy   string `yaml:"policy"`
	ReadOnly bool   `yaml:"read_only"`
}

// AdminSettings configures the admin HTTP server.
type AdminSettings struct {
	// Addr is the admin listen address; empty disables the admin server.
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogSettings configures the zap logger.
type LogSettings struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// SetDefaults installs the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("plugins.config", "/etc/ssh/sftp_plugin_conf")
	v.SetDefault("plugins.max", 64)
	v.SetDefault("plugins.default_sequence", "BEFORE")
	v.SetDefault("plugins.on_load_error", "disable")
	v.SetDefault("plugins.loader", "native")
	v.SetDefault("plugins.search_path", []string{})
	v.SetDefault("sink.kind", "fifo")
	v.SetDefault("sink.path", "/tmp/sftp_evts")
	v.SetDefault("handlers.policy", "prepend")
	v.SetDefault("handlers.read_only", false)
	v.SetDefault("admin.addr", "")
	v.SetDefault("admin.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Defaults returns the settings used when nothing is configured.
func Defaults() *Settings {
	v := viper.New()
	SetDefaults(v)
	s, err := Decode(New(v))
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return s
}

// NewViper returns a viper instance with defaults and environment
// overrides applied, reading path when it is not empty. Without a path,
// sftphook.yaml is looked up in /etc/ssh and the working directory and
// may be absent.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("sftphook")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/ssh")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads settings from path (see NewViper) and validates them.
func Load(path string) (*Settings, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return Decode(New(v))
}

// Decode reads every key through c and validates the result. Keys are
// read one at a time so environment overrides of nested keys apply.
func Decode(c *Config) (*Settings, error) {
	s := &Settings{
		Plugins: PluginSettings{
			Config:          c.GetString("plugins.config"),
			Max:             c.GetInt("plugins.max"),
			DefaultSequence: c.GetString("plugins.default_sequence"),
			OnLoadError:     c.GetString("plugins.on_load_error"),
			Loader:          c.GetString("plugins.loader"),
			SearchPath:      c.GetStringSlice("plugins.search_path"),
		},
		Sink: SinkSettings{
			Kind: c.GetString("sink.kind"),
			Path: c.GetString("sink.path"),
		},
		Handlers: HandlerSettings{
			Policy:   c.GetString("handlers.policy"),
			ReadOnly: c.GetBool("handlers.read_only"),
		},
		Admin: AdminSettings{
			Addr:            c.GetString("admin.addr"),
			ShutdownTimeout: c.GetDuration("admin.shutdown_timeout"),
		},
		Log: LogSettings{
			Level:       c.GetString("log.level"),
			Development: c.GetBool("log.development"),
		},
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks enumerated values and limits.
func (s *Settings) Validate() error {
	var errs []error
	check := func(key, val string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(val, a) {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%w: %s = %q, want one of %s", ErrInvalid, key, val, strings.Join(allowed, ", ")))
	}
	check("plugins.default_sequence", s.Plugins.DefaultSequence, "BEFORE", "INSTEAD", "AFTER", "UNKNOWN")
	check("plugins.on_load_error", s.Plugins.OnLoadError, "disable", "fatal")
	check("plugins.loader", s.Plugins.Loader, "native", "go")
	check("sink.kind", s.Sink.Kind, "fifo", "file", "sqlite", "discard")
	check("handlers.policy", s.Handlers.Policy, "prepend", "append")
	if s.Plugins.Max <= 0 {
		errs = append(errs, fmt.Errorf("%w: plugins.max must be positive, got %d", ErrInvalid, s.Plugins.Max))
	}
	return errors.Join(errs...)
}
