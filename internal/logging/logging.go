// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file inside the log directory.
const FileName = "snowball-rss.log"

// Options configures the logger.
type Options struct {
	Level string
	// Dir enables the rotating log file when set.
	Dir string
	// MaxSizeMB is the size at which the file rotates.
	MaxSizeMB int
	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

// Logger is a logrus logger with an optional rotating file.
type Logger struct {
	*logrus.Logger
	file *lumberjack.Logger
}

// ParseLevel accepts logrus level names plus "verbose", which maps to
// debug. "debug" maps to trace.
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "verbose":
		return logrus.DebugLevel, nil
	case "debug":
		return logrus.TraceLevel, nil
	}
	return logrus.ParseLevel(s)
}

// New creates the logger. JSON goes to stdout and, when Dir is set, to a
// size rotated file in Dir.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}

	l := &Logger{Logger: logrus.New()}
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(level)

	if opts.Dir == "" {
		l.SetOutput(out)
		return l, nil
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir %s: %w", opts.Dir, err)
	}
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 20
	}
	l.file = &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, FileName),
		MaxSize:    size,
		MaxBackups: 3,
	}
	l.SetOutput(io.MultiWriter(out, l.file))
	return l, nil
}

// FilePath returns the active log file, or "" when logging to stdout only.
func (l *Logger) FilePath() string {
	if l.file == nil {
		return ""
	}
	return l.file.Filename
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
