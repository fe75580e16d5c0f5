package taxitesting

import (
	"log/slog"
	"os"
)

// NewLogger returns a test logger that stays quiet unless DEBUG is set:
// DEBUG=1 logs info and above, DEBUG=2 logs everything.
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
