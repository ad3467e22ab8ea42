package session

import (
	"context"
	"errors"

	"github.com/zj793039327/jBrowserDriver/internal/dispatch"
)

var (
	// ErrUnavailable means the session's engine goroutine is gone, either
	// because the session quit or because it never started.
	ErrUnavailable = dispatch.ErrUnavailable
	// ErrBootstrap wraps engine start-up failures. A session that failed to
	// bootstrap stays unusable.
	ErrBootstrap = errors.New("engine bootstrap failed")

	ErrNoSuchWindow    = errors.New("no such window")
	ErrInvalidArgument = errors.New("invalid argument")

	ErrNotFound   = errors.New("session not found")
	ErrNotRunning = errors.New("session is not running")
	ErrLimit      = errors.New("concurrency limit reached")
)

// fatal reports whether err must reach the caller. Everything else that
// goes wrong around navigation is logged and swallowed.
func fatal(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrBootstrap) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
