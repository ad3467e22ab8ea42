package static

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
)

var errInterrupted = errors.New("script interrupted")

type pendingTimer struct {
	id   int64
	due  time.Time
	fn   goja.Callable
	args []goja.Value
}

// scriptHost is the goja runtime of one document. Globals persist between
// evaluations on the same document, like they would in a page.
type scriptHost struct {
	rt     *goja.Runtime
	doc    *document
	log    *logrus.Entry
	timers []pendingTimer
	nextID int64
}

func newScriptHost(doc *document, userAgent string, log *logrus.Entry) *scriptHost {
	h := &scriptHost{rt: goja.New(), doc: doc, log: log.WithField(logging.FieldSource, logging.SourceConsole)}
	rt := h.rt

	_ = rt.Set("window", rt.GlobalObject())
	_ = rt.Set("document", h.documentObject())
	_ = rt.Set("location", h.locationObject())
	_ = rt.Set("console", h.consoleObject())

	navigator := rt.NewObject()
	_ = navigator.Set("userAgent", userAgent)
	_ = rt.Set("navigator", navigator)

	_ = rt.Set("setTimeout", h.setTimeout)
	_ = rt.Set("clearTimeout", h.clearTimeout)
	return h
}

func (v *View) Evaluate(script string, args []any, async bool, timeout time.Duration) (any, error) {
	doc := v.current()
	if doc.host == nil {
		doc.host = newScriptHost(doc, v.eng.settings.UserAgent, v.eng.log)
	}
	return doc.host.evaluate(script, args, async, timeout)
}

func (h *scriptHost) evaluate(script string, args []any, async bool, timeout time.Duration) (any, error) {
	rt := h.rt
	rt.ClearInterrupt()
	h.timers = nil
	defer func() { h.timers = nil }()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, func() { rt.Interrupt(errInterrupted) })
		defer timer.Stop()
	}

	callArgs := append([]any(nil), args...)
	var (
		done   bool
		result goja.Value
	)
	if async {
		callArgs = append(callArgs, func(call goja.FunctionCall) goja.Value {
			if !done {
				done = true
				result = call.Argument(0)
			}
			return goja.Undefined()
		})
	}
	_ = rt.Set("__jbdArgs", callArgs)

	value, err := rt.RunString("(function() {\n" + script + "\n}).apply(this, __jbdArgs)")
	if err != nil {
		return nil, scriptError(err)
	}
	if !async {
		return export(value), nil
	}

	for !done {
		next, ok := h.popTimer()
		if !ok {
			return nil, fmt.Errorf("%w: async callback was never invoked", engine.ErrScriptTimeout)
		}
		if wait := time.Until(next.due); wait > 0 {
			if !deadline.IsZero() && next.due.After(deadline) {
				return nil, engine.ErrScriptTimeout
			}
			time.Sleep(wait)
		}
		if _, err := next.fn(goja.Undefined(), next.args...); err != nil {
			return nil, scriptError(err)
		}
	}
	return export(result), nil
}

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return engine.ErrScriptTimeout
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return fmt.Errorf("%w: %s", engine.ErrScript, exception.Error())
	}
	return fmt.Errorf("%w: %v", engine.ErrScript, err)
}

// export converts a script value to plain Go values that encode as JSON.
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return plain(v.Export())
}

func plain(v any) any {
	switch t := v.(type) {
	case goja.Value:
		return export(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if isFunc(item) {
				continue
			}
			out[k] = plain(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if isFunc(item) {
				out = append(out, nil)
				continue
			}
			out = append(out, plain(item))
		}
		return out
	}
	if isFunc(v) {
		return nil
	}
	return v
}

func isFunc(v any) bool {
	switch v.(type) {
	case func(goja.FunctionCall) goja.Value, func(goja.FunctionCall, *goja.Runtime) goja.Value:
		return true
	}
	return false
}

func (h *scriptHost) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(h.rt.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	h.nextID++
	var extra []goja.Value
	if len(call.Arguments) > 2 {
		extra = call.Arguments[2:]
	}
	h.timers = append(h.timers, pendingTimer{id: h.nextID, due: time.Now().Add(delay), fn: fn, args: extra})
	return h.rt.ToValue(h.nextID)
}

func (h *scriptHost) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	for i, t := range h.timers {
		if t.id == id {
			h.timers = append(h.timers[:i], h.timers[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

func (h *scriptHost) popTimer() (pendingTimer, bool) {
	if len(h.timers) == 0 {
		return pendingTimer{}, false
	}
	sort.SliceStable(h.timers, func(i, j int) bool { return h.timers[i].due.Before(h.timers[j].due) })
	next := h.timers[0]
	h.timers = h.timers[1:]
	return next, true
}

func (h *scriptHost) consoleObject() *goja.Object {
	console := h.rt.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			msg := strings.Join(parts, " ")
			switch level {
			case "warn":
				h.log.Warn(msg)
			case "error":
				h.log.Error(msg)
			case "debug":
				h.log.Debug(msg)
			default:
				h.log.Info(msg)
			}
			return goja.Undefined()
		})
	}
	return console
}

func (h *scriptHost) locationObject() *goja.Object {
	location := h.rt.NewObject()
	_ = location.Set("href", h.doc.url)
	if u, err := url.Parse(h.doc.url); err == nil {
		_ = location.Set("protocol", u.Scheme+":")
		_ = location.Set("host", u.Host)
		_ = location.Set("hostname", u.Hostname())
		_ = location.Set("pathname", u.Path)
		_ = location.Set("search", prefixed("?", u.RawQuery))
		_ = location.Set("hash", prefixed("#", u.Fragment))
		if u.Host != "" {
			_ = location.Set("origin", u.Scheme+"://"+u.Host)
		}
	}
	return location
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}

func (h *scriptHost) documentObject() *goja.Object {
	dom := h.doc.dom
	document := h.rt.NewObject()
	_ = document.Set("URL", h.doc.url)
	_ = document.Set("readyState", "complete")
	_ = document.Set("title", strings.TrimSpace(dom.Find("title").First().Text()))
	_ = document.Set("documentElement", h.element(dom.Find("html").First()))
	_ = document.Set("body", h.element(dom.Find("body").First()))
	h.bindQueries(document, dom.Selection)
	_ = document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		return h.element(withAttr(dom.Selection, "id", func(v string) bool { return v == id }).First())
	})
	return document
}

func (h *scriptHost) bindQueries(obj *goja.Object, scope *goquery.Selection) {
	_ = obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return h.element(h.query(scope, call.Argument(0).String()).First())
	})
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		matches := h.query(scope, call.Argument(0).String())
		items := make([]any, 0, matches.Length())
		matches.Each(func(_ int, s *goquery.Selection) {
			items = append(items, h.element(s))
		})
		return h.rt.ToValue(items)
	})
}

func (h *scriptHost) query(scope *goquery.Selection, selector string) *goquery.Selection {
	if _, err := cascadia.Compile(selector); err != nil {
		panic(h.rt.NewTypeError(fmt.Sprintf("'%s' is not a valid selector", selector)))
	}
	return scope.Find(selector)
}

// element wraps s as a read-only DOM element, or null when s is empty.
func (h *scriptHost) element(s *goquery.Selection) goja.Value {
	if s.Length() == 0 {
		return goja.Null()
	}
	el := h.rt.NewObject()
	_ = el.Set("tagName", strings.ToUpper(goquery.NodeName(s)))
	_ = el.Set("id", s.AttrOr("id", ""))
	_ = el.Set("className", s.AttrOr("class", ""))
	_ = el.Set("textContent", s.Text())
	_ = el.Set("innerText", collapse(s.Text()))
	inner, _ := s.Html()
	_ = el.Set("innerHTML", inner)
	outer, _ := goquery.OuterHtml(s)
	_ = el.Set("outerHTML", outer)
	_ = el.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := s.Attr(call.Argument(0).String()); ok {
			return h.rt.ToValue(v)
		}
		return goja.Null()
	})
	h.bindQueries(el, s)
	return el
}
