// Package config loads bridge and backend settings with viper. Values come
// from defaults, an optional config file, and FFIGUARD_* environment
// variables, in increasing order of precedence.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/guard"
	"github.com/risor-io/ffiguard/sim"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FFIGUARD"

// Keys read by Load.
const (
	KeyLogLevel          = "log_level"
	KeyLogFormat         = "log_format"
	KeyClientMinMessages = "client_min_messages"
	KeyLogMinMessages    = "log_min_messages"
	KeyBacktrace         = "backtrace"
	KeyColor             = "color"
)

// Config is the resolved configuration.
type Config struct {
	LogLevel          zerolog.Level
	LogFormat         string
	ClientMinMessages elog.Level
	LogMinMessages    elog.Level
	Backtrace         bool
	Color             bool

	// Output receives log lines. Defaults to stderr.
	Output io.Writer
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyClientMinMessages, "notice")
	v.SetDefault(KeyLogMinMessages, "warning")
	v.SetDefault(KeyBacktrace, false)
	v.SetDefault(KeyColor, true)
}

// New returns a viper instance with defaults and environment binding set.
// If file is not empty it is used as the config file.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
	}
	return v
}

// Load reads the config file, if one is set, and resolves all keys.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper resolves all keys from v without reading any file.
func FromViper(v *viper.Viper) (*Config, error) {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(v.GetString(KeyLogLevel)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	format := strings.ToLower(v.GetString(KeyLogFormat))
	switch format {
	case "console", "json":
	default:
		return nil, fmt.Errorf("%s: unknown format %q", KeyLogFormat, format)
	}
	clientMin, err := elog.ParseLevel(v.GetString(KeyClientMinMessages))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyClientMinMessages, err)
	}
	logMin, err := elog.ParseLevel(v.GetString(KeyLogMinMessages))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLogMinMessages, err)
	}
	return &Config{
		LogLevel:          logLevel,
		LogFormat:         format,
		ClientMinMessages: clientMin,
		LogMinMessages:    logMin,
		Backtrace:         v.GetBool(KeyBacktrace),
		Color:             v.GetBool(KeyColor),
		Output:            os.Stderr,
	}, nil
}

// Logger builds the zerolog logger described by the config.
func (c *Config) Logger() zerolog.Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}
	if c.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: !c.Color}
	}
	return zerolog.New(out).Level(c.LogLevel).With().Timestamp().Logger()
}

// GuardOptions returns the bridge options for the config.
func (c *Config) GuardOptions() []guard.Option {
	return []guard.Option{
		guard.WithLogger(c.Logger()),
		guard.WithBacktraces(c.Backtrace),
	}
}

// BackendOptions returns the simulated backend options for the config.
func (c *Config) BackendOptions() []sim.Option {
	return []sim.Option{
		sim.WithLogger(c.Logger()),
		sim.WithClientMinMessages(c.ClientMinMessages),
		sim.WithLogMinMessages(c.LogMinMessages),
	}
}
