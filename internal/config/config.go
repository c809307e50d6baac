// Package config loads serialdash settings from defaults, an optional
// TOML file and SERIALDASH_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/clarabennett2626/serialdash/internal/observability"
	"github.com/clarabennett2626/serialdash/internal/parser"
	"github.com/clarabennett2626/serialdash/internal/source"
)

// Transports.
const (
	TransportSerial = "serial"
	TransportStdin  = "stdin"
	TransportFile   = "file"
	TransportTCP    = "tcp"
)

// Environment overrides.
const (
	EnvTransport = "SERIALDASH_TRANSPORT"
	EnvDevice    = "SERIALDASH_DEVICE"
	EnvBaud      = "SERIALDASH_BAUD"
	EnvAddress   = "SERIALDASH_ADDRESS"
	EnvTheme     = "SERIALDASH_THEME"
	EnvLogLevel  = "SERIALDASH_LOG_LEVEL"
	EnvLogFile   = "SERIALDASH_LOG_FILE"
	EnvWebAddr   = "SERIALDASH_WEB_ADDR"
	EnvAMQPURI   = "SERIALDASH_AMQP_URI"
	EnvHeadless  = "SERIALDASH_HEADLESS"
)

// Config is the resolved runtime configuration.
type Config struct {
	Transport string
	Device    string
	Baud      int
	Address   string
	Files     []string
	Follow    bool
	TailLines int

	Separator string
	MaxBuffer int

	Theme    string
	Headless bool
	LogLevel string
	LogFile  string

	Web  WebConfig
	AMQP AMQPConfig
}

// WebConfig enables the browser dashboard when Addr is set.
type WebConfig struct {
	Addr           string
	CORSOrigins    []string
	TrustedProxies []string
}

// AMQPConfig enables record forwarding when URI is set.
type AMQPConfig struct {
	URI        string
	Exchange   string
	RoutingKey string
}

type fileConfig struct {
	Transport string   `toml:"transport"`
	Device    string   `toml:"device"`
	Baud      int      `toml:"baud"`
	Address   string   `toml:"address"`
	Files     []string `toml:"files"`
	Follow    bool     `toml:"follow"`
	TailLines int      `toml:"tail_lines"`
	Separator string   `toml:"separator"`
	MaxBuffer int      `toml:"max_buffer"`
	Theme     string   `toml:"theme"`
	Headless  bool     `toml:"headless"`
	LogLevel  string   `toml:"log_level"`
	LogFile   string   `toml:"log_file"`

	Web struct {
		Addr           string   `toml:"addr"`
		CORSOrigins    []string `toml:"cors_origins"`
		TrustedProxies []string `toml:"trusted_proxies"`
	} `toml:"web"`

	AMQP struct {
		URI        string `toml:"uri"`
		Exchange   string `toml:"exchange"`
		RoutingKey string `toml:"routing_key"`
	} `toml:"amqp"`
}

// Default returns the built-in configuration: a serial device at 9600
// baud framed on CRLF.
func Default() Config {
	return Config{
		Transport: TransportSerial,
		Baud:      source.DefaultBaudRate,
		Separator: parser.DefaultSeparator,
		MaxBuffer: parser.DefaultMaxBuffer,
		Theme:     "dark",
		LogLevel:  "info",
		AMQP: AMQPConfig{
			Exchange:   "amq.topic",
			RoutingKey: "serialdash.records",
		},
	}
}

// Load returns Default overlaid with the keys path defines. Keys the
// file omits keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("files") {
		cfg.Files = raw.Files
	}
	if meta.IsDefined("follow") {
		cfg.Follow = raw.Follow
	}
	if meta.IsDefined("tail_lines") {
		cfg.TailLines = raw.TailLines
	}
	if meta.IsDefined("separator") {
		cfg.Separator = raw.Separator
	}
	if meta.IsDefined("max_buffer") {
		cfg.MaxBuffer = raw.MaxBuffer
	}
	if meta.IsDefined("theme") {
		cfg.Theme = strings.TrimSpace(raw.Theme)
	}
	if meta.IsDefined("headless") {
		cfg.Headless = raw.Headless
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("web", "addr") {
		cfg.Web.Addr = strings.TrimSpace(raw.Web.Addr)
	}
	if meta.IsDefined("web", "cors_origins") {
		cfg.Web.CORSOrigins = raw.Web.CORSOrigins
	}
	if meta.IsDefined("web", "trusted_proxies") {
		cfg.Web.TrustedProxies = raw.Web.TrustedProxies
	}
	if meta.IsDefined("amqp", "uri") {
		cfg.AMQP.URI = strings.TrimSpace(raw.AMQP.URI)
	}
	if meta.IsDefined("amqp", "exchange") {
		cfg.AMQP.Exchange = strings.TrimSpace(raw.AMQP.Exchange)
	}
	if meta.IsDefined("amqp", "routing_key") {
		cfg.AMQP.RoutingKey = strings.TrimSpace(raw.AMQP.RoutingKey)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg from SERIALDASH_* variables that are set and
// non-empty.
func ApplyEnv(cfg *Config) error {
	if v, ok := lookup(EnvTransport); ok {
		cfg.Transport = strings.ToLower(v)
	}
	if v, ok := lookup(EnvDevice); ok {
		cfg.Device = v
	}
	if v, ok := lookup(EnvBaud); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBaud, err)
		}
		cfg.Baud = n
	}
	if v, ok := lookup(EnvAddress); ok {
		cfg.Address = v
	}
	if v, ok := lookup(EnvTheme); ok {
		cfg.Theme = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup(EnvLogFile); ok {
		cfg.LogFile = v
	}
	if v, ok := lookup(EnvWebAddr); ok {
		cfg.Web.Addr = v
	}
	if v, ok := lookup(EnvAMQPURI); ok {
		cfg.AMQP.URI = v
	}
	if v, ok := lookup(EnvHeadless); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHeadless, err)
		}
		cfg.Headless = b
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// Validate reports the first setting that cannot work.
func Validate(cfg Config) error {
	switch cfg.Transport {
	case TransportSerial, TransportStdin:
	case TransportFile:
		if len(cfg.Files) == 0 {
			return fmt.Errorf("transport %q needs at least one file", cfg.Transport)
		}
	case TransportTCP:
		if strings.TrimSpace(cfg.Address) == "" {
			return fmt.Errorf("transport %q needs an address", cfg.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q (want serial, stdin, file or tcp)", cfg.Transport)
	}
	if cfg.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", cfg.Baud)
	}
	if cfg.TailLines < 0 {
		return fmt.Errorf("tail_lines must not be negative")
	}
	if cfg.Separator == "" {
		return fmt.Errorf("separator must not be empty")
	}
	if cfg.MaxBuffer < 0 {
		return fmt.Errorf("max_buffer must not be negative")
	}
	switch strings.ToLower(cfg.Theme) {
	case "dark", "light":
	default:
		return fmt.Errorf("unknown theme %q (want dark or light)", cfg.Theme)
	}
	if _, ok := observability.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	if cfg.AMQP.URI != "" && cfg.AMQP.RoutingKey == "" {
		return fmt.Errorf("amqp routing_key is required when uri is set")
	}
	return nil
}
