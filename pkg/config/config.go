// Package config loads chemcalc settings from a TOML file and the
// environment. Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lemonberrylabs/chemcalc/pkg/runtime"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig      = "CHEMCALC_CONFIG"
	EnvHost        = "CHEMCALC_HOST"
	EnvPort        = "CHEMCALC_PORT"
	EnvGRPCPort    = "CHEMCALC_GRPC_PORT"
	EnvProgramsDir = "CHEMCALC_PROGRAMS_DIR"
	EnvResolution  = "CHEMCALC_RESOLUTION"
	EnvLogLevel    = "CHEMCALC_LOG_LEVEL"
	EnvLogFormat   = "CHEMCALC_LOG_FORMAT"
	EnvOutput      = "CHEMCALC_OUTPUT"
)

// Config is the root of chemcalc.toml.
type Config struct {
	Server     ServerConfig `toml:"server"`
	Log        LogConfig    `toml:"log"`
	Resolution string       `toml:"resolution"`
	Output     string       `toml:"output"`
}

type ServerConfig struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	GRPCPort     int      `toml:"grpc_port"`
	ProgramsDir  string   `toml:"programs_dir"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the TOML file at path, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		path = os.ExpandEnv(path)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads the file named by CHEMCALC_CONFIG, or ./chemcalc.toml
// when it exists.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		if _, err := os.Stat("chemcalc.toml"); err == nil {
			path = "chemcalc.toml"
		}
	}
	return Load(path)
}

// ApplyEnv overrides fields with the non-empty CHEMCALC_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvHost); v != "" {
		c.Server.Host = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	if v := getenv(EnvGRPCPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvGRPCPort, v)
		}
		c.Server.GRPCPort = port
	}
	if v := getenv(EnvProgramsDir); v != "" {
		c.Server.ProgramsDir = v
	}
	if v := getenv(EnvResolution); v != "" {
		c.Resolution = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := getenv(EnvOutput); v != "" {
		c.Output = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8790
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 8791
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout.Duration = 30 * time.Second
	}
	if c.Server.WriteTimeout.Duration == 0 {
		c.Server.WriteTimeout.Duration = 30 * time.Second
	}
	if c.Resolution == "" {
		c.Resolution = runtime.ResolveBuiltins.String()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Output == "" {
		c.Output = "yaml"
	}
}

// Validate checks enumerated fields and ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort)
	}
	if _, err := runtime.ParseResolution(c.Resolution); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Output) {
	case "yaml", "json":
	default:
		return fmt.Errorf("output must be yaml or json, got %q", c.Output)
	}
	return nil
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GRPCAddr returns host:port for the gRPC server.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

// FunctionResolution returns the parsed resolution policy.
func (c *Config) FunctionResolution() runtime.Resolution {
	r, _ := runtime.ParseResolution(c.Resolution)
	return r
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger builds the process logger described by c.Log.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
