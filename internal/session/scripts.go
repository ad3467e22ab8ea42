package session

import (
	"context"
	"fmt"
	"time"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const implicitPollInterval = 100 * time.Millisecond

// ExecuteScript runs script as the body of a function receiving args and
// returns its result.
func (s *Session) ExecuteScript(ctx context.Context, script string, args []any) (any, error) {
	return s.execute(ctx, script, args, false)
}

// ExecuteAsyncScript runs script with a completion callback appended to
// args and returns the value passed to the callback.
func (s *Session) ExecuteAsyncScript(ctx context.Context, script string, args []any) (any, error) {
	return s.execute(ctx, script, args, true)
}

func (s *Session) execute(ctx context.Context, script string, args []any, async bool) (any, error) {
	timeout := s.Settings().Timeouts.ScriptDuration()
	return onView(ctx, s, func(v engine.View) (any, error) {
		return v.Evaluate(script, args, async, timeout)
	})
}

// FindElements returns every element matching value under strategy by.
func (s *Session) FindElements(ctx context.Context, by engine.By, value string) ([]models.Element, error) {
	if !by.Valid() {
		return nil, fmt.Errorf("%w: unknown locator strategy %q", ErrInvalidArgument, by)
	}
	return onView(ctx, s, func(v engine.View) ([]models.Element, error) {
		return v.Find(by, value)
	})
}

// FindElement returns the first match, polling until the implicit-wait
// timeout before giving up with engine.ErrNoSuchElement.
func (s *Session) FindElement(ctx context.Context, by engine.By, value string) (models.Element, error) {
	deadline := time.Now().Add(s.Settings().Timeouts.ImplicitDuration())
	for {
		found, err := s.FindElements(ctx, by, value)
		if err != nil {
			return models.Element{}, err
		}
		if len(found) > 0 {
			return found[0], nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return models.Element{}, fmt.Errorf("%w: %s=%q", engine.ErrNoSuchElement, by, value)
		}
		wait := implicitPollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return models.Element{}, ctx.Err()
		}
	}
}
