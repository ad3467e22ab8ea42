// Package cdp is the engine backend that drives a real Chrome over the
// DevTools protocol, either at a fixed endpoint or in a container per
// session.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	cdpext "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/browser"
	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const (
	Name = "cdp"

	defaultCommandTimeout = 30 * time.Second
)

// FactoryOptions choose where browsers come from. With an Endpoint every
// session shares that browser; otherwise each session gets a container
// from Pool.
type FactoryOptions struct {
	Endpoint       string
	Pool           *browser.Pool
	CommandTimeout time.Duration
}

type Factory struct {
	opts FactoryOptions
	http *http.Client
}

var _ engine.Factory = (*Factory)(nil)

func NewFactory(opts FactoryOptions) (*Factory, error) {
	if opts.Endpoint == "" && opts.Pool == nil {
		return nil, fmt.Errorf("cdp backend needs an endpoint or a browser pool")
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	return &Factory{opts: opts, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

func (f *Factory) Name() string {
	return Name
}

func (f *Factory) Prepare(ctx context.Context) error {
	if f.opts.Pool != nil {
		return f.opts.Pool.EnsureImage(ctx)
	}
	return nil
}

func (f *Factory) New(ctx context.Context, opts engine.Options) (engine.Engine, error) {
	if opts.Post == nil || opts.Listener == nil {
		return nil, fmt.Errorf("cdp engine needs a listener and a post function")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logging.NullLogger())
	}
	log := opts.Logger.WithField("backend", Name)

	endpoint := f.opts.Endpoint
	var instance *browser.Instance
	if endpoint == "" {
		var err error
		instance, err = f.opts.Pool.Launch(ctx, browser.LaunchOptions{
			SessionID:   opts.SessionID,
			UserDataDir: opts.Dirs.UserData,
			Proxy:       opts.Settings.Proxy,
			Headless:    opts.Settings.Headless,
		})
		if err != nil {
			return nil, err
		}
		endpoint = instance.Endpoint
	}

	e, err := f.connect(ctx, endpoint, opts, log)
	if err != nil {
		if instance != nil {
			f.stop(instance, log)
		}
		return nil, err
	}
	e.instance = instance
	return e, nil
}

func (f *Factory) connect(ctx context.Context, endpoint string, opts engine.Options, log *logrus.Entry) (*Engine, error) {
	wsURL, err := f.resolve(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	conn, err := Dial(ctx, wsURL, log)
	if err != nil {
		return nil, err
	}
	return &Engine{
		factory:  f,
		conn:     conn,
		opts:     opts,
		log:      log,
		settings: opts.Settings,
		timeout:  f.opts.CommandTimeout,
		views:    make(map[*View]struct{}),
	}, nil
}

// resolve turns an http DevTools endpoint into its browser websocket URL.
// Websocket URLs are used as they are.
func (f *Factory) resolve(ctx context.Context, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse devtools endpoint: %w", err)
	}
	if u.Scheme == "ws" || u.Scheme == "wss" {
		return endpoint, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(endpoint, "/")+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("query devtools version: %w", err)
	}
	defer resp.Body.Close()

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("decode devtools version: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("devtools at %s reports no websocket url", endpoint)
	}
	return version.WebSocketDebuggerURL, nil
}

func (f *Factory) stop(instance *browser.Instance, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.opts.Pool.Stop(ctx, instance); err != nil {
		log.WithError(err).Warn("failed to stop browser container")
	}
}

func (f *Factory) Close() error {
	if f.opts.Pool != nil {
		return f.opts.Pool.Close()
	}
	return nil
}

// Engine is one browser connection. Its fields belong to the engine
// goroutine; the connection's reader only hands events over through Post.
type Engine struct {
	factory  *Factory
	conn     *Conn
	instance *browser.Instance
	opts     engine.Options
	log      *logrus.Entry
	settings models.Settings
	timeout  time.Duration
	views    map[*View]struct{}
}

// call runs a command bounded by the command timeout.
func (e *Engine) call(session target.SessionID, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	ctx = cdpext.WithExecutor(ctx, e.conn)
	if session != "" {
		ctx = withSessionID(ctx, session)
	}
	return fn(ctx)
}

func (e *Engine) NewView() (engine.View, error) {
	var (
		targetID target.ID
		session  target.SessionID
	)
	err := e.call("", func(ctx context.Context) error {
		var err error
		if targetID, err = target.CreateTarget("about:blank").Do(ctx); err != nil {
			return fmt.Errorf("create target: %w", err)
		}
		if session, err = target.AttachToTarget(targetID).WithFlatten(true).Do(ctx); err != nil {
			return fmt.Errorf("attach to target: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v := &View{eng: e, target: targetID, session: session}
	e.conn.Subscribe(session, v.onEvent)

	err = e.call(session, func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		if err := network.Enable().Do(ctx); err != nil {
			return err
		}
		if err := runtime.Enable().Do(ctx); err != nil {
			return err
		}
		return e.applyUserAgent(ctx)
	})
	if err != nil {
		_ = v.Close()
		return nil, fmt.Errorf("prepare target: %w", err)
	}

	e.views[v] = struct{}{}
	return v, nil
}

func (e *Engine) applyUserAgent(ctx context.Context) error {
	if e.settings.UserAgent == "" {
		return nil
	}
	return emulation.SetUserAgentOverride(e.settings.UserAgent).Do(ctx)
}

func (e *Engine) Configure(settings models.Settings) error {
	if settings.Proxy != e.settings.Proxy {
		e.log.WithField("proxy", settings.Proxy).Warn("proxy changes apply to the next browser, not this one")
	}
	e.settings = settings
	for v := range e.views {
		if err := e.call(v.session, e.applyUserAgent); err != nil {
			return fmt.Errorf("apply user agent: %w", err)
		}
	}
	return nil
}

func (e *Engine) ClearCookies() error {
	return e.call("", func(ctx context.Context) error {
		return storage.ClearCookies().Do(ctx)
	})
}

func (e *Engine) Close() error {
	for v := range e.views {
		_ = v.Close()
	}
	err := e.conn.Close()
	if e.instance != nil {
		e.factory.stop(e.instance, e.log)
	}
	e.log.Debug("engine closed")
	return err
}
