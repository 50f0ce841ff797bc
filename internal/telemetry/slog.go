package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the process-wide slog logger from the LOG_LEVEL and
// logging.format configuration. JSON output is the default — the gateway is
// built for containerized deployments where logs are scraped, so the
// human-readable text handler is the explicit opt-in ("text"), not the
// fallback. Source locations are attached only at debug verbosity.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logging configured", "level", lvl.String(), "format", format)
}

// parseLevel maps a config string onto a slog.Level via the level's own
// text form ("debug", "info", "warn", "error", any case), treating
// "warning" as "warn" for compatibility. Unparseable input falls back to
// info rather than failing startup over a typo in LOG_LEVEL.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
