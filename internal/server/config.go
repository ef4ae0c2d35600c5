package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/fabregas/media-chat/internal/history"
	"github.com/fabregas/media-chat/internal/linkpreview"
	"github.com/fabregas/media-chat/internal/render"
)

// Config holds the server configuration. It is loaded from a TOML file and
// then overlaid with MEDIACHAT_* environment variables.
type Config struct {
	Server  ServerSection  `toml:"server"`
	Limits  LimitsSection  `toml:"limits"`
	History HistorySection `toml:"history"`
	Preview PreviewSection `toml:"preview"`
	Log     LogConfig      `toml:"log"`
}

type ServerSection struct {
	ListenAddr             string   `toml:"listen_addr" validate:"required,hostname_port"`
	AllowedOrigins         []string `toml:"allowed_origins" validate:"min=1,dive,required"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds" validate:"gte=1,lte=300"`
}

type LimitsSection struct {
	MaxMessageSize    int64 `toml:"max_message_size" validate:"gte=64,lte=1048576"`
	MaxUsernameLength int   `toml:"max_username_length" validate:"gte=1,lte=256"`
	RateLimitBurst    int   `toml:"rate_limit_burst" validate:"gte=1"`
	RateLimitRefillMS int   `toml:"rate_limit_refill_ms" validate:"gte=1"`
	SendBuffer        int   `toml:"send_buffer" validate:"gte=1,lte=65536"`
}

type HistorySection struct {
	Capacity int    `toml:"capacity" validate:"gte=1,lte=100000"`
	DumpPath string `toml:"dump_path" validate:"required"`
}

type PreviewSection struct {
	ProbeTimeoutMS      int    `toml:"probe_timeout_ms" validate:"gte=1,lte=60000"`
	MessageTimeoutMS    int    `toml:"message_timeout_ms" validate:"gte=1,lte=300000"`
	SniffBytes          int    `toml:"sniff_bytes" validate:"gte=1,lte=4096"`
	MaxConcurrentProbes int    `toml:"max_concurrent_probes" validate:"gte=1,lte=64"`
	UserAgent           string `toml:"user_agent"`
	AllowPrivateHosts   bool   `toml:"allow_private_hosts"`
}

// envOverrides lists the environment variables that may override the file.
// Unset variables leave the corresponding field untouched.
type envOverrides struct {
	ListenAddr             *string `env:"MEDIACHAT_LISTEN_ADDR"`
	AllowedOrigins         *string `env:"MEDIACHAT_ALLOWED_ORIGINS"`
	ShutdownTimeoutSeconds *int    `env:"MEDIACHAT_SHUTDOWN_TIMEOUT_SECONDS"`
	MaxMessageSize         *int    `env:"MEDIACHAT_MAX_MESSAGE_SIZE"`
	MaxUsernameLength      *int    `env:"MEDIACHAT_MAX_USERNAME_LENGTH"`
	RateLimitBurst         *int    `env:"MEDIACHAT_RATE_LIMIT_BURST"`
	RateLimitRefillMS      *int    `env:"MEDIACHAT_RATE_LIMIT_REFILL_MS"`
	SendBuffer             *int    `env:"MEDIACHAT_SEND_BUFFER"`
	HistoryCapacity        *int    `env:"MEDIACHAT_HISTORY_CAPACITY"`
	HistoryDumpPath        *string `env:"MEDIACHAT_HISTORY_DUMP_PATH"`
	ProbeTimeoutMS         *int    `env:"MEDIACHAT_PROBE_TIMEOUT_MS"`
	MessageTimeoutMS       *int    `env:"MEDIACHAT_MESSAGE_TIMEOUT_MS"`
	SniffBytes             *int    `env:"MEDIACHAT_SNIFF_BYTES"`
	MaxConcurrentProbes    *int    `env:"MEDIACHAT_MAX_CONCURRENT_PROBES"`
	UserAgent              *string `env:"MEDIACHAT_USER_AGENT"`
	AllowPrivateHosts      *bool   `env:"MEDIACHAT_ALLOW_PRIVATE_HOSTS"`
	LogLevel               *string `env:"MEDIACHAT_LOG_LEVEL"`
	LogFormat              *string `env:"MEDIACHAT_LOG_FORMAT"`
}

var validate = validator.New()

// DefaultConfig returns the compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerSection{
			ListenAddr:             "0.0.0.0:8080",
			AllowedOrigins:         []string{"*"},
			ShutdownTimeoutSeconds: 10,
		},
		Limits: LimitsSection{
			MaxMessageSize:    4096,
			MaxUsernameLength: 32,
			RateLimitBurst:    5,
			RateLimitRefillMS: 1000,
			SendBuffer:        256,
		},
		History: HistorySection{
			Capacity: history.DefaultCapacity,
			DumpPath: "history.dump",
		},
		Preview: PreviewSection{
			ProbeTimeoutMS:      int(linkpreview.DefaultProbeTimeout / time.Millisecond),
			MessageTimeoutMS:    int(render.DefaultMessageTimeout / time.Millisecond),
			SniffBytes:          linkpreview.DefaultSniffBytes,
			MaxConcurrentProbes: render.DefaultMaxConcurrentProbes,
			UserAgent:           linkpreview.DefaultUserAgent,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig layers the defaults, the TOML file at path, the given dotenv
// files and the process environment, in that order. A missing config file or
// dotenv file is not an error. The result still needs Sanitize and Validate.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	var overrides envOverrides
	if _, err := env.UnmarshalFromEnviron(&overrides); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	overrides.apply(&cfg)

	return cfg, nil
}

func loadEnvFiles(files []string) error {
	present := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func (o envOverrides) apply(cfg *Config) {
	setString(&cfg.Server.ListenAddr, o.ListenAddr)
	if o.AllowedOrigins != nil {
		cfg.Server.AllowedOrigins = parseOrigins(*o.AllowedOrigins)
	}
	setInt(&cfg.Server.ShutdownTimeoutSeconds, o.ShutdownTimeoutSeconds)
	if o.MaxMessageSize != nil {
		cfg.Limits.MaxMessageSize = int64(*o.MaxMessageSize)
	}
	setInt(&cfg.Limits.MaxUsernameLength, o.MaxUsernameLength)
	setInt(&cfg.Limits.RateLimitBurst, o.RateLimitBurst)
	setInt(&cfg.Limits.RateLimitRefillMS, o.RateLimitRefillMS)
	setInt(&cfg.Limits.SendBuffer, o.SendBuffer)
	setInt(&cfg.History.Capacity, o.HistoryCapacity)
	setString(&cfg.History.DumpPath, o.HistoryDumpPath)
	setInt(&cfg.Preview.ProbeTimeoutMS, o.ProbeTimeoutMS)
	setInt(&cfg.Preview.MessageTimeoutMS, o.MessageTimeoutMS)
	setInt(&cfg.Preview.SniffBytes, o.SniffBytes)
	setInt(&cfg.Preview.MaxConcurrentProbes, o.MaxConcurrentProbes)
	setString(&cfg.Preview.UserAgent, o.UserAgent)
	if o.AllowPrivateHosts != nil {
		cfg.Preview.AllowPrivateHosts = *o.AllowPrivateHosts
	}
	setString(&cfg.Log.Level, o.LogLevel)
	setString(&cfg.Log.Format, o.LogFormat)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sanitize replaces zero or negative values with their defaults.
func (c *Config) Sanitize() {
	def := DefaultConfig()

	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		c.Server.ListenAddr = def.Server.ListenAddr
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = def.Server.AllowedOrigins
	}
	positive(&c.Server.ShutdownTimeoutSeconds, def.Server.ShutdownTimeoutSeconds)

	if c.Limits.MaxMessageSize <= 0 {
		c.Limits.MaxMessageSize = def.Limits.MaxMessageSize
	}
	positive(&c.Limits.MaxUsernameLength, def.Limits.MaxUsernameLength)
	positive(&c.Limits.RateLimitBurst, def.Limits.RateLimitBurst)
	positive(&c.Limits.RateLimitRefillMS, def.Limits.RateLimitRefillMS)
	positive(&c.Limits.SendBuffer, def.Limits.SendBuffer)

	positive(&c.History.Capacity, def.History.Capacity)
	if c.History.DumpPath == "" {
		c.History.DumpPath = def.History.DumpPath
	}

	positive(&c.Preview.ProbeTimeoutMS, def.Preview.ProbeTimeoutMS)
	positive(&c.Preview.MessageTimeoutMS, def.Preview.MessageTimeoutMS)
	positive(&c.Preview.SniffBytes, def.Preview.SniffBytes)
	positive(&c.Preview.MaxConcurrentProbes, def.Preview.MaxConcurrentProbes)
	if c.Preview.UserAgent == "" {
		c.Preview.UserAgent = def.Preview.UserAgent
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if _, ok := parseLevel(c.Log.Level); !ok {
		c.Log.Level = def.Log.Level
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

func positive(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

// Validate checks the configuration against its declared bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func (c Config) RefillInterval() time.Duration {
	return time.Duration(c.Limits.RateLimitRefillMS) * time.Millisecond
}

func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Preview.ProbeTimeoutMS) * time.Millisecond
}

func (c Config) MessageTimeout() time.Duration {
	return time.Duration(c.Preview.MessageTimeoutMS) * time.Millisecond
}
