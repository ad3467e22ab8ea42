package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log sources recorded by a Sink.
const (
	SourceDriver  = "driver"
	SourceBrowser = "browser"
	SourceConsole = "console"
)

// FieldSource tags an entry with the source it should be filed under.
const FieldSource = "source"

// New builds the process logger. format is "text" or "json".
func New(level, format string) (*logrus.Logger, error) {
	return NewWithOutput(os.Stderr, level, format)
}

func NewWithOutput(out io.Writer, level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}

// NullLogger discards everything; handy in tests.
func NullLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// ForSession returns a logger for one session that writes through base and
// records every entry into the returned Sink.
func ForSession(base *logrus.Logger, sessionID string, capacity int) (*logrus.Entry, *Sink) {
	sink := NewSink(capacity)

	log := logrus.New()
	log.SetOutput(base.Out)
	log.SetFormatter(base.Formatter)
	log.SetLevel(base.GetLevel())
	log.AddHook(sink)

	return log.WithField("session", sessionID), sink
}
