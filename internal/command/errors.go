package command

import (
	"context"
	"errors"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/session"
)

// Wire error codes.
const (
	CodeInvalidArgument   = "invalid argument"
	CodeUnknownCommand    = "unknown command"
	CodeNoSuchElement     = "no such element"
	CodeNoSuchWindow      = "no such window"
	CodeInvalidSelector   = "invalid selector"
	CodeJavascriptError   = "javascript error"
	CodeScriptTimeout     = "script timeout"
	CodeUnsupported       = "unsupported operation"
	CodeSessionNotCreated = "session not created"
	CodeInvalidSession    = "invalid session id"
	CodeTimeout           = "timeout"
	CodeUnknownError      = "unknown error"
)

var ErrUnknownCommand = errors.New("unknown command")

// Error is a failed command as it goes over the wire.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Code classifies err into one of the wire error codes.
func Code(err error) string {
	var cmdErr *Error
	switch {
	case errors.As(err, &cmdErr):
		return cmdErr.Code
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand
	case errors.Is(err, session.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, engine.ErrNoSuchElement):
		return CodeNoSuchElement
	case errors.Is(err, session.ErrNoSuchWindow):
		return CodeNoSuchWindow
	case errors.Is(err, engine.ErrInvalidSelector):
		return CodeInvalidSelector
	case errors.Is(err, engine.ErrScriptTimeout):
		return CodeScriptTimeout
	case errors.Is(err, engine.ErrScript):
		return CodeJavascriptError
	case errors.Is(err, engine.ErrUnsupported):
		return CodeUnsupported
	case errors.Is(err, session.ErrBootstrap):
		return CodeSessionNotCreated
	case errors.Is(err, session.ErrUnavailable),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrNotRunning):
		return CodeInvalidSession
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	return CodeUnknownError
}
