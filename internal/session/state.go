package session

import (
	"context"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
)

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	return onView(ctx, s, func(v engine.View) (string, error) {
		return v.URL()
	})
}

func (s *Session) Title(ctx context.Context) (string, error) {
	return onView(ctx, s, func(v engine.View) (string, error) {
		return v.Title()
	})
}

// PageSource returns the rendered markup of the document, falling back to
// the raw document and then to its text when the richer form is empty.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	return onView(ctx, s, func(v engine.View) (string, error) {
		if src, err := v.OuterHTML(); err == nil && src != "" {
			return src, nil
		} else if err != nil {
			s.log.WithError(err).Debug("outer html unavailable")
		}
		if src, err := v.HTML(); err == nil && src != "" {
			return src, nil
		} else if err != nil {
			s.log.WithError(err).Debug("raw html unavailable")
		}
		return v.Text()
	})
}

// StatusCode returns the load status of the latest navigation, waiting up to
// the page-load timeout while it is still unset.
func (s *Session) StatusCode(ctx context.Context) (int, error) {
	if _, err := s.init(ctx); err != nil {
		return 0, err
	}
	code := s.status.Await(ctx, s.Settings().Timeouts.PageLoadDuration())
	if ctx.Err() != nil {
		s.log.WithError(ctx.Err()).Warn("wait for status code interrupted")
	}
	return code, nil
}

// Screenshot returns PNG bytes of the current window.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return onView(ctx, s, func(v engine.View) ([]byte, error) {
		return v.Screenshot()
	})
}
