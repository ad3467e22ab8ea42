// Package command exposes session operations as namespaced commands
// ("group.name") that remote callers can send over HTTP or a websocket.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/metrics"
	"github.com/zj793039327/jBrowserDriver/internal/session"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

// Handler runs one command against a session.
type Handler func(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error)

// Router maps command names to handlers.
type Router struct {
	handlers map[string]Handler
	log      logrus.FieldLogger
}

func NewRouter(log logrus.FieldLogger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Router{handlers: make(map[string]Handler), log: log}
	r.registerSession()
	r.registerNavigation()
	r.registerWindow()
	r.registerScript()
	r.registerElement()
	r.registerTimeouts()
	r.registerLogs()
	r.registerCapabilities()
	r.registerStorage()
	return r
}

// Handle registers h under group.name, replacing any earlier handler.
func (r *Router) Handle(group, name string, h Handler) {
	r.handlers[group+"."+name] = h
}

// Commands lists the registered command names in order.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs req against sess. Failures are reported in the response,
// never as a Go error.
func (r *Router) Dispatch(ctx context.Context, sess *session.Session, req models.CommandRequest) models.CommandResponse {
	resp := models.CommandResponse{ID: req.ID}
	group, _, _ := strings.Cut(req.Command, ".")

	result, err := r.run(ctx, sess, req)
	if err != nil {
		code := Code(err)
		metrics.Commands.WithLabelValues(group, code).Inc()
		r.log.WithFields(logrus.Fields{
			"command": req.Command,
			"code":    code,
		}).WithError(err).Debug("command failed")
		resp.Error = &models.CommandError{Code: code, Message: err.Error()}
		return resp
	}

	metrics.Commands.WithLabelValues(group, "ok").Inc()
	resp.Result = result
	return resp
}

func (r *Router) run(ctx context.Context, sess *session.Session, req models.CommandRequest) (any, error) {
	h, ok := r.handlers[req.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
	if sess == nil {
		return nil, session.ErrNotFound
	}
	return h(ctx, sess, req.Params)
}

// decode reads params into T. Missing params decode as the zero value.
func decode[T any](params json.RawMessage) (T, error) {
	var v T
	if len(bytes.TrimSpace(params)) == 0 || bytes.Equal(bytes.TrimSpace(params), []byte("null")) {
		return v, nil
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %v", session.ErrInvalidArgument, err)
	}
	return v, nil
}

// none adapts an operation without params or result.
func none(fn func(sess *session.Session, ctx context.Context) error) Handler {
	return func(ctx context.Context, sess *session.Session, _ json.RawMessage) (any, error) {
		return nil, fn(sess, ctx)
	}
}

// value adapts an operation without params that returns a result.
func value[T any](fn func(sess *session.Session, ctx context.Context) (T, error)) Handler {
	return func(ctx context.Context, sess *session.Session, _ json.RawMessage) (any, error) {
		return fn(sess, ctx)
	}
}

type urlParams struct {
	URL string `json:"url"`
}

func (p urlParams) check() error {
	if p.URL == "" {
		return fmt.Errorf("%w: url is required", session.ErrInvalidArgument)
	}
	return nil
}

func navigate(fn func(sess *session.Session, ctx context.Context, url string) error) Handler {
	return func(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
		p, err := decode[urlParams](params)
		if err != nil {
			return nil, err
		}
		if err := p.check(); err != nil {
			return nil, err
		}
		return nil, fn(sess, ctx, p.URL)
	}
}

func (r *Router) registerSession() {
	r.Handle("session", "url", value((*session.Session).CurrentURL))
	r.Handle("session", "title", value((*session.Session).Title))
	r.Handle("session", "source", value((*session.Session).PageSource))
	r.Handle("session", "status", value((*session.Session).StatusCode))
	r.Handle("session", "screenshot", value((*session.Session).Screenshot))
	r.Handle("session", "get", navigate((*session.Session).Get))
	r.Handle("session", "reset", func(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
		if len(bytes.TrimSpace(params)) == 0 {
			return nil, fmt.Errorf("%w: reset needs a complete settings value", session.ErrInvalidArgument)
		}
		settings, err := decode[models.Settings](params)
		if err != nil {
			return nil, err
		}
		return nil, sess.Reset(ctx, settings)
	})
	r.Handle("session", "quit", none((*session.Session).Quit))
	r.Handle("session", "kill", none((*session.Session).Kill))
}

func (r *Router) registerNavigation() {
	r.Handle("navigation", "to", navigate((*session.Session).To))
	r.Handle("navigation", "back", none((*session.Session).Back))
	r.Handle("navigation", "forward", none((*session.Session).Forward))
	r.Handle("navigation", "refresh", none((*session.Session).Refresh))
}

type handleParams struct {
	Handle string `json:"handle"`
}

func withHandle(fn func(sess *session.Session, ctx context.Context, handle string) error) Handler {
	return func(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
		p, err := decode[handleParams](params)
		if err != nil {
			return nil, err
		}
		if p.Handle == "" {
			return nil, fmt.Errorf("%w: handle is required", session.ErrInvalidArgument)
		}
		return nil, fn(sess, ctx, p.Handle)
	}
}

func (r *Router) registerWindow() {
	r.Handle("window", "handle", value((*session.Session).WindowHandle))
	r.Handle("window", "handles", value((*session.Session).WindowHandles))
	r.Handle("window", "new", value((*session.Session).NewWindow))
	r.Handle("window", "close", none((*session.Session).CloseWindow))
	r.Handle("window", "switch", withHandle((*session.Session).SwitchTo))
	r.Handle("window", "focus", withHandle((*session.Session).Focus))
}

type scriptParams struct {
	Script string `json:"script"`
	Args   []any  `json:"args"`
}

func script(async bool) Handler {
	return func(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
		p, err := decode[scriptParams](params)
		if err != nil {
			return nil, err
		}
		if async {
			return sess.ExecuteAsyncScript(ctx, p.Script, p.Args)
		}
		return sess.ExecuteScript(ctx, p.Script, p.Args)
	}
}

func (r *Router) registerScript() {
	r.Handle("script", "execute", script(false))
	r.Handle("script", "executeAsync", script(true))
}

type findParams struct {
	By    engine.By `json:"by"`
	Value string    `json:"value"`
}

func (r *Router) registerElement() {
	r.Handle("element", "find", func(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
		p, err := decode[findParams](params)
		if err != nil {
			return nil, err
		}
		return sess.FindElement(ctx, p.By, p.Value)
	})
	r.Handle("element", "findAll", func(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
		p, err := decode[findParams](params)
		if err != nil {
			return nil, err
		}
		return sess.FindElements(ctx, p.By, p.Value)
	})
}

func (r *Router) registerTimeouts() {
	r.Handle("timeouts", "get", value((*session.Session).Timeouts))
	r.Handle("timeouts", "set", func(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
		t, err := decode[models.Timeouts](params)
		if err != nil {
			return nil, err
		}
		if err := sess.SetTimeouts(ctx, t); err != nil {
			return nil, err
		}
		return sess.Timeouts(ctx)
	})
}

type logParams struct {
	Type string `json:"type"`
}

func (r *Router) registerLogs() {
	r.Handle("logs", "get", func(_ context.Context, sess *session.Session, params json.RawMessage) (any, error) {
		p, err := decode[logParams](params)
		if err != nil {
			return nil, err
		}
		return sess.Logs(p.Type), nil
	})
	r.Handle("logs", "clear", func(_ context.Context, sess *session.Session, _ json.RawMessage) (any, error) {
		sess.ClearLogs()
		return nil, nil
	})
	r.Handle("logs", "types", func(_ context.Context, sess *session.Session, _ json.RawMessage) (any, error) {
		return sess.LogTypes(), nil
	})
}

func (r *Router) registerCapabilities() {
	r.Handle("capabilities", "get", value((*session.Session).Capabilities))
}

func (r *Router) registerStorage() {
	r.Handle("storage", "dirs", func(_ context.Context, sess *session.Session, _ json.RawMessage) (any, error) {
		return sess.Dirs(), nil
	})
}
