package session

import (
	"context"
	"fmt"

	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

// Timeouts returns the active timeouts.
func (s *Session) Timeouts(ctx context.Context) (models.Timeouts, error) {
	if _, err := s.init(ctx); err != nil {
		return models.Timeouts{}, err
	}
	return s.Settings().Timeouts, nil
}

// SetTimeouts installs a new settings value carrying t. The rest of the
// settings are copied unchanged.
func (s *Session) SetTimeouts(ctx context.Context, t models.Timeouts) error {
	if _, err := s.init(ctx); err != nil {
		return err
	}
	err := s.updateSettings(func(next models.Settings) (models.Settings, error) {
		next.Timeouts = t
		if err := next.Validate(); err != nil {
			return models.Settings{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	s.log.WithField("timeouts", t).Debug("timeouts updated")
	return nil
}

// Capabilities describes what this session runs on.
func (s *Session) Capabilities(ctx context.Context) (map[string]any, error) {
	if _, err := s.init(ctx); err != nil {
		return nil, err
	}
	settings := s.Settings()
	return map[string]any{
		"browserName":       "jBrowserDriver",
		"backend":           s.factory.Name(),
		"headless":          settings.Headless,
		"proxy":             settings.Proxy,
		"userAgent":         settings.UserAgent,
		"javascriptEnabled": true,
		"timeouts":          settings.Timeouts,
	}, nil
}

// Logs returns the entries recorded for source, or all of them when empty.
func (s *Session) Logs(source string) []models.LogEntry {
	return s.sink.Entries(source)
}

func (s *Session) LogTypes() []string {
	return s.sink.Types()
}

func (s *Session) ClearLogs() {
	s.sink.Clear()
}

// Dirs returns the cache, attachment and media directories of the session.
func (s *Session) Dirs() models.Dirs {
	return s.dirs
}
