package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// EnvPrefix prefixes environment overrides, e.g. FASTDISPATCH_MAX_CONNECTIONS.
const EnvPrefix = "FASTDISPATCH"

// Unlimited disables the connection ceiling.
const Unlimited = -1

// Config holds all runtime configuration. It is read-only once the engine starts.
type Config struct {
	Port int    `config:"port" yaml:"port"`
	Env  string `config:"env" yaml:"env"`

	// MaxConnections caps admitted connections and sizes the message pool.
	MaxConnections int `config:"max_connections" yaml:"max_connections"`
	// MaxMessageSize bounds one decoded message, head plus body.
	MaxMessageSize int           `config:"max_message_size" yaml:"max_message_size"`
	IdleTimeout    time.Duration `config:"idle_timeout" yaml:"idle_timeout"`
	ReadTimeout    time.Duration `config:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `config:"write_timeout" yaml:"write_timeout"`

	// Workers sizes the executor for deferred handler work; 0 means one per CPU.
	Workers int `config:"workers" yaml:"workers"`

	LogLevel  string `config:"log_level" yaml:"log_level"`
	LogFormat string `config:"log_format" yaml:"log_format"`
	AccessLog string `config:"access_log" yaml:"access_log"`

	Monitor   bool `config:"monitor" yaml:"monitor"`
	GCPercent int  `config:"gc_percent" yaml:"gc_percent"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           8080,
		Env:            "development",
		MaxConnections: Unlimited,
		MaxMessageSize: 1 << 20,
		IdleTimeout:    30 * time.Minute,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		LogLevel:       "info",
		LogFormat:      "json",
		AccessLog:      "zap",
	}
}

// New loads configuration from flags, an optional -config file and the
// environment. Invalid configuration is fatal.
func New() *Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Parse builds a Config from command-line args. Precedence, lowest first:
// defaults, config file, FASTDISPATCH_* environment, explicit flags.
func Parse(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("fast-dispatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("config", "", "Path to a JSON or YAML config file")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "Maximum concurrent connections (-1 for no limit)")
	fs.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "Maximum request size in bytes")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Idle connection timeout")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Read timeout once a request has started")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Write timeout")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Deferred task workers (0 = NumCPU)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json/console)")
	fs.StringVar(&cfg.AccessLog, "access-log", cfg.AccessLog, "Access log (none/zap/console)")
	fs.BoolVar(&cfg.Monitor, "monitor", cfg.Monitor, "Record per-handler latency")
	fs.IntVar(&cfg.GCPercent, "gc-percent", cfg.GCPercent, "GOGC override (0 keeps the runtime default)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	m := NewManager()
	if *path != "" {
		if err := m.LoadFile(*path); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	// second pass so explicit flags win over file and environment
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxConnections < Unlimited {
		errs = append(errs, fmt.Errorf("max_connections must be -1 or >= 0, got %d", c.MaxConnections))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	switch c.AccessLog {
	case "none", "zap", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown access_log %q", c.AccessLog))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
