// Package logging builds the zerolog logger shared by the operator CLI.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// EnvJSON switches output to one JSON object per line, for CI logs.
	EnvJSON = "PIPELINECTL_JSON_LOGS"

	// EnvLevel overrides the default info level.
	EnvLevel = "PIPELINECTL_LOG_LEVEL"
)

// New returns a logger writing to stderr, configured from the environment.
func New() zerolog.Logger {
	return NewWithLookup(os.Stderr, os.LookupEnv)
}

// NewWithLookup is New with explicit output and environment.
func NewWithLookup(out io.Writer, lookup func(string) (string, bool)) zerolog.Logger {
	level := zerolog.InfoLevel
	if v, ok := lookup(EnvLevel); ok {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}

	if v, ok := lookup(EnvJSON); ok && v != "" && v != "0" && !strings.EqualFold(v, "false") {
		return zerolog.New(out).
			Level(level).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: out}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
