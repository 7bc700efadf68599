package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/lmittmann/tint"

	"github.com/couchcryptid/weather-pattern-etl/internal/config"
)

// NewLogger builds the service logger and installs it as the slog default.
// LOG_FORMAT=text swaps in a colourised handler for local runs at the same
// level; anything else logs JSON.
func NewLogger(cfg *config.Config) *slog.Logger {
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if !strings.EqualFold(strings.TrimSpace(cfg.LogFormat), "text") {
		return logger
	}

	tinted := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      minLevel(logger),
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(tinted)
	return tinted
}

// minLevel reports the lowest standard level the logger has enabled.
func minLevel(logger *slog.Logger) slog.Level {
	for _, lvl := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if logger.Enabled(context.Background(), lvl) {
			return lvl
		}
	}
	return slog.LevelError
}
