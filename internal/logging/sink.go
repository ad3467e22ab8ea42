package logging

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const defaultSinkCapacity = 1000

// Sink is a logrus hook keeping the most recent entries of a session so
// callers can read them back through the logs command group.
type Sink struct {
	mu       sync.Mutex
	entries  []models.LogEntry
	capacity int
}

func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = defaultSinkCapacity
	}
	return &Sink{capacity: capacity}
}

func (s *Sink) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *Sink) Fire(e *logrus.Entry) error {
	source, _ := e.Data[FieldSource].(string)
	if source == "" {
		source = SourceDriver
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == s.capacity {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.entries = append(s.entries, models.LogEntry{
		Timestamp: e.Time.UnixMilli(),
		Level:     e.Level.String(),
		Source:    source,
		Message:   e.Message,
	})
	return nil
}

// Entries returns a copy of the recorded entries, optionally filtered by source.
func (s *Sink) Entries(source string) []models.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.LogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if source == "" || e.Source == source {
			out = append(out, e)
		}
	}
	return out
}

// Types lists the sources that currently have entries.
func (s *Sink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, e := range s.entries {
		seen[e.Source] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Sink) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}
