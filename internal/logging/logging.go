// Package logging configures the global zerolog logger for both processes.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. format "json" writes JSON lines, anything
// else a human readable console. Unknown levels fall back to info.
func Setup(level, format, service string) {
	SetupWriter(os.Stdout, level, format, service)
}

func SetupWriter(out io.Writer, level, format, service string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	w := out
	if !strings.EqualFold(format, "json") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).With().Timestamp()
	if service != "" {
		logger = logger.Str("service", service)
	}
	log.Logger = logger.Logger()
}
