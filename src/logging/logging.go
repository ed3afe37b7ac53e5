// Package logging configures the process-wide charm logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Setup builds the default logger at the given level and installs it.
func Setup(level string) (*log.Logger, error) {
	return SetupWriter(os.Stderr, level)
}

// SetupWriter is Setup with an explicit sink.
func SetupWriter(w io.Writer, level string) (*log.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	logger := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "govdecisions",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       log.TextFormatter,
	})
	log.SetDefault(logger)
	return logger, nil
}
