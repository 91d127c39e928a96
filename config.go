package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	defaultPort     = 6420
	defaultHost     = "localhost"
	defaultDebounce = 50 * time.Millisecond
)

// Config is the command-line and environment configuration. Environment
// variables (optionally from a .env file) set defaults; flags override them.
type Config struct {
	Target      string
	Host        string
	Port        int
	Open        bool
	Watch       bool
	LogLevel    string
	LogFormat   string
	CORSOrigins []string
	Heartbeat   time.Duration
	Debounce    time.Duration
	ShowVersion bool
}

// LoadConfig reads MDLIVE_* environment variables, then parses args
func LoadConfig(args []string, stderr io.Writer) (*Config, error) {
	cfg, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("mdlive", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: mdlive [options] [markdown-file|directory]")
		fmt.Fprintln(stderr, "\nOptions:")
		fs.PrintDefaults()
	}

	var cors string
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host interface to bind")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port to serve on")
	fs.BoolVar(&cfg.Open, "open", cfg.Open, "Open browser automatically")
	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "Watch files and push changes to the browser")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	fs.StringVar(&cors, "cors", strings.Join(cfg.CORSOrigins, ","), "Comma-separated origins allowed to call the API")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Interval between keep-alive messages on change streams")
	fs.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "Quiet period before a file change is reported (0 disables)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("expected at most one target, got %d", fs.NArg())
	}
	if fs.NArg() == 1 {
		cfg.Target = fs.Arg(0)
	}
	cfg.CORSOrigins = splitList(cors)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Target, validation.Required),
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.LogLevel, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.Required, validation.In("text", "json")),
		validation.Field(&c.Heartbeat, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// Addr is the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func configFromEnv() (*Config, error) {
	cfg := &Config{
		Target:      getEnv("MDLIVE_TARGET", "."),
		Host:        getEnv("MDLIVE_HOST", defaultHost),
		LogLevel:    strings.ToLower(getEnv("MDLIVE_LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getEnv("MDLIVE_LOG_FORMAT", "text")),
		CORSOrigins: splitList(getEnv("MDLIVE_CORS_ORIGINS", "")),
	}

	var err error
	if cfg.Port, err = getEnvInt("MDLIVE_PORT", defaultPort); err != nil {
		return nil, err
	}
	if cfg.Open, err = getEnvBool("MDLIVE_OPEN", true); err != nil {
		return nil, err
	}
	if cfg.Watch, err = getEnvBool("MDLIVE_WATCH", true); err != nil {
		return nil, err
	}
	if cfg.Heartbeat, err = getEnvDuration("MDLIVE_HEARTBEAT", DefaultHeartbeat); err != nil {
		return nil, err
	}
	if cfg.Debounce, err = getEnvDuration("MDLIVE_DEBOUNCE", defaultDebounce); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
