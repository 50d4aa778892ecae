// Package logging provides run-scoped structured logging for lathe.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// LogDir is the directory for the run log file. Empty disables file logging.
	LogDir string
	// Verbose lowers the level to debug and mirrors output to the console.
	Verbose bool
	// NoColor disables ANSI colors on the console writer.
	NoColor bool
}

// Setup creates the run logger. It writes a timestamped log file under
// LogDir and, when verbose, a console stream on stderr. The returned
// closer flushes and closes the log file; it is nil-safe.
func Setup(opts Options) (zerolog.Logger, func() error, error) {
	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	var writers []io.Writer
	closer := func() error { return nil }

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory %s: %w", opts.LogDir, err)
		}
		name := fmt.Sprintf("lathe_encode_run_%s.log", time.Now().Format("20060102_150405"))
		path := filepath.Join(opts.LogDir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log file %s: %w", path, err)
		}
		writers = append(writers, file)
		closer = file.Close
	}

	if opts.Verbose {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    opts.NoColor,
			TimeFormat: time.Kitchen,
		})
	}

	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	logger.Info().Msg("lathe starting")
	return logger, closer, nil
}

// Component returns a child logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
