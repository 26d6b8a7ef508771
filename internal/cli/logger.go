package cli

import (
	"io"
	"log/slog"
)

// newLogger builds a JSON (default) or text logger on w. The returned
// LevelVar can raise or lower the level later.
func newLogger(w io.Writer, level, format string) (*slog.Logger, *slog.LevelVar) {
	var lvlVar slog.LevelVar
	lvlVar.Set(parseSlogLevel(level))

	opts := &slog.HandlerOptions{Level: &lvlVar}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), &lvlVar
	}
	return slog.New(slog.NewJSONHandler(w, opts)), &lvlVar
}

func parseSlogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
