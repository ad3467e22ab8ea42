package static

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/internal/status"
)

// View is a window with its own history. Loads run on fetch goroutines and
// their completions are posted back; a completion whose generation is stale
// has been superseded and is dropped.
type View struct {
	eng     *Engine
	history []*document
	index   int

	gen    int
	cancel context.CancelFunc
	closed bool
}

func newView(e *Engine) *View {
	return &View{eng: e, history: []*document{blankDocument()}}
}

func (v *View) current() *document {
	return v.history[v.index]
}

// abort invalidates any in-flight load.
func (v *View) abort() {
	v.gen++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

func (v *View) Load(raw string) error {
	if v.closed {
		return fmt.Errorf("window is closed")
	}
	if raw != blankURL {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("unsupported url %q", raw)
		}
	}
	v.start(raw, true)
	return nil
}

func (v *View) Reload() error {
	if v.closed {
		return fmt.Errorf("window is closed")
	}
	v.start(v.current().url, false)
	return nil
}

func (v *View) start(target string, push bool) {
	v.abort()
	gen := v.gen
	listener := v.eng.opts.Listener
	listener.LoadStarted()

	if target == blankURL {
		v.eng.opts.Post(func() {
			if gen != v.gen || v.closed {
				return
			}
			v.commit(&document{url: blankURL, status: 200, dom: blankDocument().dom}, push)
			listener.LoadFinished(200)
		})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	req := fetchRequest{
		client:    v.eng.client,
		url:       target,
		userAgent: v.eng.settings.UserAgent,
		dirs:      v.eng.opts.Dirs,
	}
	go func() {
		res := fetch(ctx, req)
		if ctx.Err() != nil {
			return
		}
		v.eng.opts.Post(func() { v.complete(gen, res, push) })
	}()
}

func (v *View) complete(gen int, res fetchResult, push bool) {
	if gen != v.gen || v.closed {
		return
	}
	v.cancel = nil
	log := v.eng.log.WithField(logging.FieldSource, logging.SourceBrowser).WithField("url", res.url)
	listener := v.eng.opts.Listener
	if res.truncated {
		log.WithField("limit", maxBodyBytes).Warn("response body exceeded the size limit and was truncated")
	}

	switch {
	case res.err != nil:
		log.WithError(res.err).Warn("load failed")
		listener.LoadFinished(status.LoadFailed)
	case res.saved != "":
		log.WithField("path", res.saved).Info("download saved")
		listener.LoadFinished(res.status)
	default:
		log.WithField("status", res.status).Info("document loaded")
		v.commit(parseDocument(res.url, res.status, res.body), push)
		listener.LoadFinished(res.status)
	}
}

func (v *View) commit(doc *document, push bool) {
	if push {
		v.history = append(v.history[:v.index+1], doc)
		v.index = len(v.history) - 1
		return
	}
	v.history[v.index] = doc
}

// Go restores a cached history entry and reports its status again.
func (v *View) Go(offset int) error {
	idx := v.index + offset
	if idx < 0 || idx >= len(v.history) {
		return engine.ErrHistoryBounds
	}
	v.abort()
	v.index = idx

	listener := v.eng.opts.Listener
	listener.LoadStarted()
	if code := v.current().status; code != 0 {
		listener.LoadFinished(code)
	}
	return nil
}

func (v *View) Cancel() error {
	v.abort()
	return nil
}

func (v *View) Stop() error {
	v.abort()
	return nil
}

func (v *View) URL() (string, error) {
	return v.current().url, nil
}

func (v *View) Title() (string, error) {
	return strings.TrimSpace(v.current().dom.Find("title").First().Text()), nil
}

func (v *View) OuterHTML() (string, error) {
	root := v.current().dom.Find("html").First()
	if root.Length() == 0 {
		return "", nil
	}
	return goquery.OuterHtml(root)
}

func (v *View) HTML() (string, error) {
	return v.current().raw, nil
}

func (v *View) Text() (string, error) {
	return strings.TrimSpace(v.current().dom.Text()), nil
}

func (v *View) Screenshot() ([]byte, error) {
	return nil, fmt.Errorf("%w: screenshots need a rendering backend", engine.ErrUnsupported)
}

func (v *View) Close() error {
	if v.closed {
		return nil
	}
	v.abort()
	v.closed = true
	v.eng.forget(v)
	return nil
}
