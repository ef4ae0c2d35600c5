package server

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig selects the level and output format of the server logger.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn error"`
	Format string `toml:"format" validate:"oneof=console json"`
}

func parseLevel(s string) (zerolog.Level, bool) {
	if s == "" {
		return zerolog.InfoLevel, false
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel, false
	}
	return level, true
}

// NewLogger builds a logger writing to w. Unknown levels fall back to info;
// any format other than json gets the human-readable console writer.
func NewLogger(cfg LogConfig, w io.Writer) zerolog.Logger {
	level, _ := parseLevel(cfg.Level)
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
