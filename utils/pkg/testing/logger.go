// Package carbontesting holds helpers shared by the test suites.
package carbontesting

import (
	"log/slog"
	"os"
)

// NewLogger returns the logger test fixtures inject into pipeline
// components. Verbosity follows the DEBUG env var: "2" for debug, "1" for
// info, anything else shows errors only so test output stays quiet.
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
