// Package enginetest provides a scripted in-memory engine backend for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const blankURL = "about:blank"

// Page is what the fake engine serves for a URL.
type Page struct {
	// Status is posted when the load completes. Zero means the load never
	// completes, like a host that accepts the connection and goes quiet.
	Status int
	Delay  time.Duration

	Title     string
	OuterHTML string
	HTML      string
	Text      string

	// Elements are keyed by "<strategy>=<value>".
	Elements map[string][]models.Element
}

// Factory is an engine.Factory whose pages are registered up front.
type Factory struct {
	mu       sync.Mutex
	pages    map[string]Page
	newErr   error
	engines  []*Engine
	evaluate func(script string, args []any, async bool) (any, error)
}

var _ engine.Factory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{pages: make(map[string]Page)}
}

// Serve registers the page returned for url.
func (f *Factory) Serve(url string, p Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = p
}

// FailNew makes New return err.
func (f *Factory) FailNew(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newErr = err
}

// OnEvaluate installs the script evaluator; by default scripts return nil.
func (f *Factory) OnEvaluate(fn func(script string, args []any, async bool) (any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluate = fn
}

// Engines returns every engine created so far.
func (f *Factory) Engines() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Engine(nil), f.engines...)
}

// Last returns the most recently created engine, or nil.
func (f *Factory) Last() *Engine {
	engines := f.Engines()
	if len(engines) == 0 {
		return nil
	}
	return engines[len(engines)-1]
}

func (f *Factory) page(url string) (Page, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[url]
	return p, ok
}

func (f *Factory) Name() string                      { return "fake" }
func (f *Factory) Prepare(ctx context.Context) error { return nil }
func (f *Factory) Close() error                      { return nil }

func (f *Factory) New(ctx context.Context, opts engine.Options) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	e := &Engine{factory: f, opts: opts, settings: opts.Settings}
	f.engines = append(f.engines, e)
	return e, nil
}

// Engine records the calls a session makes so tests can assert on them.
type Engine struct {
	factory *Factory
	opts    engine.Options

	mu       sync.Mutex
	calls    []string
	settings models.Settings
	closed   bool
	views    int
}

func (e *Engine) record(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
}

// Calls lists recorded calls in order, e.g. "load http://x", "cancel", "stop".
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Count returns how many times call was recorded.
func (e *Engine) Count(call string) int {
	n := 0
	for _, c := range e.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (e *Engine) Settings() models.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// OpenViews is the number of views created and not yet closed.
func (e *Engine) OpenViews() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.views
}

func (e *Engine) NewView() (engine.View, error) {
	e.mu.Lock()
	e.views++
	e.mu.Unlock()
	e.record("new view")
	return &View{engine: e, history: []entry{{url: blankURL}}}, nil
}

func (e *Engine) Configure(settings models.Settings) error {
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()
	e.record("configure")
	return nil
}

func (e *Engine) ClearCookies() error {
	e.record("clear cookies")
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.record("close")
	return nil
}

type entry struct {
	url  string
	page Page
}

// View is a window of the fake engine. It is only touched on the engine
// goroutine, like a real view.
type View struct {
	engine  *Engine
	history []entry
	index   int
	gen     int
	closed  bool
}

func (v *View) current() entry {
	return v.history[v.index]
}

func (v *View) start(url string, push bool) {
	v.gen++
	gen := v.gen
	v.engine.opts.Listener.LoadStarted()

	p, ok := v.engine.factory.page(url)
	if !ok || p.Status == 0 {
		return
	}

	finish := func() {
		if gen != v.gen || v.closed {
			return
		}
		e := entry{url: url, page: p}
		if push {
			v.history = append(v.history[:v.index+1], e)
			v.index = len(v.history) - 1
		} else {
			v.history[v.index] = e
		}
		v.engine.opts.Listener.LoadFinished(p.Status)
	}

	post := v.engine.opts.Post
	if p.Delay <= 0 {
		post(finish)
		return
	}
	time.AfterFunc(p.Delay, func() { post(finish) })
}

func (v *View) Load(url string) error {
	v.engine.record("load %s", url)
	v.start(url, true)
	return nil
}

func (v *View) Reload() error {
	v.engine.record("reload")
	v.start(v.current().url, false)
	return nil
}

func (v *View) Go(offset int) error {
	v.engine.record("go %d", offset)
	idx := v.index + offset
	if idx < 0 || idx >= len(v.history) {
		return engine.ErrHistoryBounds
	}
	v.gen++
	v.index = idx
	listener := v.engine.opts.Listener
	listener.LoadStarted()
	if code := v.current().page.Status; code != 0 {
		listener.LoadFinished(code)
	}
	return nil
}

func (v *View) Cancel() error {
	v.engine.record("cancel")
	v.gen++
	return nil
}

func (v *View) Stop() error {
	v.engine.record("stop")
	v.gen++
	return nil
}

func (v *View) URL() (string, error)       { return v.current().url, nil }
func (v *View) Title() (string, error)     { return v.current().page.Title, nil }
func (v *View) OuterHTML() (string, error) { return v.current().page.OuterHTML, nil }
func (v *View) HTML() (string, error)      { return v.current().page.HTML, nil }
func (v *View) Text() (string, error)      { return v.current().page.Text, nil }

func (v *View) Evaluate(script string, args []any, async bool, timeout time.Duration) (any, error) {
	v.engine.factory.mu.Lock()
	fn := v.engine.factory.evaluate
	v.engine.factory.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(script, args, async)
}

func (v *View) Find(by engine.By, value string) ([]models.Element, error) {
	return v.current().page.Elements[fmt.Sprintf("%s=%s", by, value)], nil
}

func (v *View) Screenshot() ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (v *View) Close() error {
	v.engine.record("close view")
	v.closed = true
	v.engine.mu.Lock()
	v.engine.views--
	v.engine.mu.Unlock()
	return nil
}
