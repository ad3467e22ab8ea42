// Package engine defines the port between a session and the browser engine
// that renders its pages.
//
// Engine and View methods must only be called on the session's engine
// goroutine. Implementations that finish work asynchronously hand the
// result back through Options.Post and report load outcomes through the
// Listener, which is likewise called on the engine goroutine.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

var (
	ErrHistoryBounds   = errors.New("no history entry at requested offset")
	ErrUnsupported     = errors.New("operation not supported by this engine")
	ErrNoSuchElement   = errors.New("no such element")
	ErrInvalidSelector = errors.New("invalid selector")
	ErrScript          = errors.New("javascript error")
	ErrScriptTimeout   = errors.New("script timeout")
)

// By is an element location strategy. Values match the WebDriver wire names.
type By string

const (
	ByID              By = "id"
	ByName            By = "name"
	ByCSS             By = "css selector"
	ByTagName         By = "tag name"
	ByXPath           By = "xpath"
	ByLinkText        By = "link text"
	ByPartialLinkText By = "partial link text"
	ByClassName       By = "class name"
)

// Valid reports whether b is a known strategy.
func (b By) Valid() bool {
	switch b {
	case ByID, ByName, ByCSS, ByTagName, ByXPath, ByLinkText, ByPartialLinkText, ByClassName:
		return true
	}
	return false
}

// Listener receives load lifecycle notifications.
type Listener interface {
	LoadStarted()
	// LoadFinished is called once per load with a non-zero code: an HTTP
	// status, or a negative value when the engine failed the load.
	LoadFinished(code int)
}

// Options configure a new engine.
type Options struct {
	SessionID string
	Settings  models.Settings
	Dirs      models.Dirs
	Listener  Listener
	// Post schedules fn on the engine goroutine.
	Post   func(fn func()) bool
	Logger *logrus.Entry
}

// Factory creates engines of one backend.
type Factory interface {
	Name() string
	// Prepare readies shared resources, e.g. pulls images. Called once at startup.
	Prepare(ctx context.Context) error
	New(ctx context.Context, opts Options) (Engine, error)
	Close() error
}

// Engine is one browser instance shared by the windows of a session.
type Engine interface {
	NewView() (View, error)
	// Configure applies a replacement settings value.
	Configure(settings models.Settings) error
	ClearCookies() error
	Close() error
}

// View is one window.
type View interface {
	// Load starts navigating to url and returns without waiting for it.
	Load(url string) error
	Reload() error
	// Go moves through history by offset, returning ErrHistoryBounds when
	// there is no such entry.
	Go(offset int) error
	// Cancel aborts the in-flight load, if any.
	Cancel() error
	// Stop halts all page activity.
	Stop() error

	URL() (string, error)
	Title() (string, error)
	// OuterHTML is the rendered markup of the document element.
	OuterHTML() (string, error)
	// HTML is the document as the engine received or serialized it.
	HTML() (string, error)
	Text() (string, error)

	Evaluate(script string, args []any, async bool, timeout time.Duration) (any, error)
	Find(by By, value string) ([]models.Element, error)
	Screenshot() ([]byte, error)
	Close() error
}
