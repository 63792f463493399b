// Package logger provides the structured logger shared by all formrelay components.
// It is a thin wrapper over logrus that pins a component field on every entry.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config configures a Logger.
type Config struct {
	// Level is a logrus level name (debug, info, warn, error). Defaults to info.
	Level string
	// Format is "text" or "json". Defaults to text.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// Logger is a component-scoped logrus entry.
type Logger struct {
	*logrus.Entry
	component string
}

// New creates a logger for the given component.
func New(component string, cfg Config) *Logger {
	base := logrus.New()

	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stderr)
	}

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{
		Entry:     base.WithField("component", component),
		component: component,
	}
}

// NewDefault creates an info-level text logger writing to stderr.
func NewDefault(component string) *Logger {
	return New(component, Config{})
}

// NewDiscard creates a logger that drops everything. Useful in tests.
func NewDiscard() *Logger {
	return New("test", Config{Output: io.Discard})
}

// Component returns the component name this logger was created for.
func (l *Logger) Component() string {
	return l.component
}

// Named derives a logger for a sub-component sharing the same output and level.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		Entry:     l.Entry.Logger.WithField("component", component),
		component: component,
	}
}
