package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto"
	cdpext "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/internal/status"
)

// View is one page target. Events arrive on the connection's reader and
// are posted to the engine goroutine before they touch any field.
type View struct {
	eng     *Engine
	target  target.ID
	session target.SessionID

	gen     int
	loading bool
	// failed suppresses the lifecycle events of the browser's error page.
	failed bool
	code   int
	closed bool
}

func (v *View) onEvent(method cdproto.MethodType, ev any) {
	v.eng.opts.Post(func() {
		if !v.closed {
			v.handle(ev)
		}
	})
}

func (v *View) handle(ev any) {
	listener := v.eng.opts.Listener
	switch ev := ev.(type) {
	case *page.EventFrameStartedLoading:
		if !v.mainFrame(ev.FrameID) || v.loading || v.failed {
			return
		}
		// navigation the page started on its own
		v.begin()
	case *network.EventResponseReceived:
		if ev.Type != network.ResourceTypeDocument || !v.mainFrame(ev.FrameID) || ev.Response == nil {
			return
		}
		v.code = int(ev.Response.Status)
	case *page.EventLoadEventFired:
		if !v.loading {
			return
		}
		v.loading = false
		code := v.code
		if code == 0 {
			// documents that never hit the network, e.g. about:blank
			code = 200
		}
		v.eng.log.WithField(logging.FieldSource, logging.SourceBrowser).WithField("status", code).Info("document loaded")
		listener.LoadFinished(code)
	case *runtime.EventConsoleAPICalled:
		parts := make([]string, 0, len(ev.Args))
		for _, arg := range ev.Args {
			parts = append(parts, remoteString(arg))
		}
		v.eng.log.WithField(logging.FieldSource, logging.SourceConsole).
			WithField("level", ev.Type.String()).
			Info(strings.Join(parts, " "))
	case *runtime.EventExceptionThrown:
		if ev.ExceptionDetails != nil {
			v.eng.log.WithField(logging.FieldSource, logging.SourceConsole).
				Warn(exceptionText(ev.ExceptionDetails))
		}
	}
}

// mainFrame reports whether id is the top frame; Chrome names it after the target.
func (v *View) mainFrame(id cdpext.FrameID) bool {
	return string(id) == string(v.target)
}

func (v *View) begin() {
	v.gen++
	v.loading = true
	v.failed = false
	v.code = 0
	v.eng.opts.Listener.LoadStarted()
}

func (v *View) call(fn func(ctx context.Context) error) error {
	if v.closed {
		return fmt.Errorf("window is closed")
	}
	return v.eng.call(v.session, fn)
}

func (v *View) Load(url string) error {
	if v.closed {
		return fmt.Errorf("window is closed")
	}
	v.begin()
	gen := v.gen
	eng := v.eng

	// Page.navigate answers once the response is committed, which can
	// take as long as the server does.
	go func() {
		ctx := withSessionID(cdpext.WithExecutor(context.Background(), eng.conn), v.session)
		_, _, errorText, err := page.Navigate(url).Do(ctx)
		if err == nil && errorText == "" {
			return
		}
		if err == nil {
			err = errors.New(errorText)
		}
		eng.opts.Post(func() { v.fail(gen, url, err) })
	}()
	return nil
}

func (v *View) fail(gen int, url string, err error) {
	if gen != v.gen || v.closed || !v.loading {
		return
	}
	v.loading = false
	v.failed = true
	v.eng.log.WithField(logging.FieldSource, logging.SourceBrowser).
		WithField("url", url).WithError(err).Warn("load failed")
	v.eng.opts.Listener.LoadFinished(status.LoadFailed)
}

func (v *View) Reload() error {
	if err := v.call(func(ctx context.Context) error {
		return page.Reload().Do(ctx)
	}); err != nil {
		return err
	}
	v.begin()
	return nil
}

func (v *View) Go(offset int) error {
	var (
		current int64
		entries []*page.NavigationEntry
	)
	err := v.call(func(ctx context.Context) error {
		var err error
		current, entries, err = page.GetNavigationHistory().Do(ctx)
		return err
	})
	if err != nil {
		return err
	}
	idx := int(current) + offset
	if idx < 0 || idx >= len(entries) {
		return engine.ErrHistoryBounds
	}

	v.abort()
	if err := v.call(func(ctx context.Context) error {
		return page.NavigateToHistoryEntry(entries[idx].ID).Do(ctx)
	}); err != nil {
		return err
	}
	v.begin()
	return nil
}

// abort drops the in-flight load, if any, without reporting it.
func (v *View) abort() {
	if !v.loading {
		return
	}
	v.gen++
	v.loading = false
	if err := v.call(func(ctx context.Context) error {
		return page.StopLoading().Do(ctx)
	}); err != nil {
		v.eng.log.WithError(err).Debug("failed to stop loading")
	}
}

func (v *View) Cancel() error {
	v.abort()
	return nil
}

func (v *View) Stop() error {
	v.abort()
	return v.call(func(ctx context.Context) error {
		return page.StopLoading().Do(ctx)
	})
}

func (v *View) URL() (string, error) {
	return v.evalString(`location.href`)
}

func (v *View) Title() (string, error) {
	return v.evalString(`document.title`)
}

func (v *View) OuterHTML() (string, error) {
	return v.evalString(`document.documentElement ? document.documentElement.outerHTML : ""`)
}

func (v *View) HTML() (string, error) {
	return v.evalString(`new XMLSerializer().serializeToString(document)`)
}

func (v *View) Text() (string, error) {
	s, err := v.evalString(`document.body ? document.body.innerText : ""`)
	return strings.TrimSpace(s), err
}

func (v *View) evalString(expr string) (string, error) {
	res, err := v.Evaluate("return "+expr+";", nil, false, v.eng.timeout)
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	return s, nil
}

// Evaluate runs script as a function body with args as its arguments.
// Async scripts get a completion callback appended to args.
func (v *View) Evaluate(script string, args []any, async bool, timeout time.Duration) (any, error) {
	if v.closed {
		return nil, fmt.Errorf("window is closed")
	}
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: arguments are not serializable: %v", engine.ErrScript, err)
	}

	var expr string
	if async {
		expr = fmt.Sprintf(`new Promise(function(resolve) { var args = %s; args.push(resolve); (function() { %s }).apply(window, args); })`, encoded, script)
	} else {
		expr = fmt.Sprintf(`(function() { %s }).apply(window, %s)`, script, encoded)
	}

	if timeout <= 0 {
		timeout = v.eng.timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = withSessionID(cdpext.WithExecutor(ctx, v.eng.conn), v.session)

	result, exception, err := runtime.Evaluate(expr).
		WithReturnByValue(true).
		WithAwaitPromise(async).
		Do(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		v.terminate()
		return nil, fmt.Errorf("%w after %s", engine.ErrScriptTimeout, timeout)
	}
	if err != nil {
		return nil, err
	}
	if exception != nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrScript, exceptionText(exception))
	}
	return remoteValue(result)
}

func (v *View) terminate() {
	err := v.eng.call(v.session, func(ctx context.Context) error {
		return runtime.TerminateExecution().Do(ctx)
	})
	if err != nil {
		v.eng.log.WithError(err).Debug("failed to terminate script")
	}
}

func (v *View) Screenshot() ([]byte, error) {
	var buf []byte
	err := v.call(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	})
	return buf, err
}

func (v *View) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	v.gen++
	v.eng.conn.Unsubscribe(v.session)
	delete(v.eng.views, v)

	return v.eng.call("", func(ctx context.Context) error {
		return v.eng.conn.Execute(ctx, target.CommandCloseTarget, target.CloseTarget(v.target), nil)
	})
}

func remoteValue(obj *runtime.RemoteObject) (any, error) {
	if obj == nil || obj.Type == runtime.TypeUndefined || len(obj.Value) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(obj.Value, &out); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	return out, nil
}

func remoteString(obj *runtime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if len(obj.Value) > 0 {
		var s string
		if err := json.Unmarshal(obj.Value, &s); err == nil {
			return s
		}
		return string(obj.Value)
	}
	if obj.Description != "" {
		return obj.Description
	}
	return obj.Type.String()
}

func exceptionText(details *runtime.ExceptionDetails) string {
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}
