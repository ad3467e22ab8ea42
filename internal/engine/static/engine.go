package static

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

// Engine owns the HTTP client and cookie jar shared by its views. All of
// its state belongs to the engine goroutine; fetch goroutines only get
// copies of what they need.
type Engine struct {
	opts     engine.Options
	log      *logrus.Entry
	settings models.Settings
	client   *http.Client
	views    map[*View]struct{}
}

func newEngine(opts engine.Options) (*Engine, error) {
	e := &Engine{
		opts:  opts,
		log:   opts.Logger.WithField("backend", Name),
		views: make(map[*View]struct{}),
	}
	jar, err := newJar()
	if err != nil {
		return nil, err
	}
	if err := e.apply(opts.Settings, jar); err != nil {
		return nil, err
	}
	return e, nil
}

func newJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

// apply swaps in a client built from settings. In-flight fetches keep the
// client they started with.
func (e *Engine) apply(settings models.Settings, jar http.CookieJar) error {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if settings.Proxy != "" {
		proxy, err := url.Parse(settings.Proxy)
		if err != nil {
			return fmt.Errorf("parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	if e.client != nil {
		e.client.CloseIdleConnections()
	}
	e.client = &http.Client{Jar: jar, Transport: transport}
	e.settings = settings
	return nil
}

func (e *Engine) NewView() (engine.View, error) {
	v := newView(e)
	e.views[v] = struct{}{}
	return v, nil
}

func (e *Engine) Configure(settings models.Settings) error {
	return e.apply(settings, e.client.Jar)
}

func (e *Engine) ClearCookies() error {
	jar, err := newJar()
	if err != nil {
		return err
	}
	return e.apply(e.settings, jar)
}

func (e *Engine) Close() error {
	for v := range e.views {
		_ = v.Close()
	}
	e.client.CloseIdleConnections()
	e.log.Debug("engine closed")
	return nil
}

func (e *Engine) forget(v *View) {
	delete(e.views, v)
}
