package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zj793039327/jBrowserDriver/internal/dispatch"
	"github.com/zj793039327/jBrowserDriver/internal/engine"
)

// registry maps window handles to views. It belongs to the engine goroutine.
type registry struct {
	views   map[string]engine.View
	order   []string // creation order
	current string
}

func newRegistry() *registry {
	return &registry{views: make(map[string]engine.View)}
}

func (r *registry) open(eng engine.Engine) (string, error) {
	view, err := eng.NewView()
	if err != nil {
		return "", fmt.Errorf("open window: %w", err)
	}
	handle := uuid.NewString()
	r.views[handle] = view
	r.order = append(r.order, handle)
	if r.current == "" {
		r.current = handle
	}
	return handle, nil
}

// active returns the current view. When the current window is gone the
// earliest remaining one takes over, and with no windows left a new one is
// opened.
func (r *registry) active(eng engine.Engine) (engine.View, error) {
	if v, ok := r.views[r.current]; ok {
		return v, nil
	}
	if len(r.order) > 0 {
		r.current = r.order[0]
		return r.views[r.current], nil
	}
	handle, err := r.open(eng)
	if err != nil {
		return nil, err
	}
	r.current = handle
	return r.views[handle], nil
}

func (r *registry) close(handle string) error {
	view, ok := r.views[handle]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchWindow, handle)
	}
	delete(r.views, handle)
	for i, h := range r.order {
		if h == handle {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.current == handle {
		r.current = ""
		if len(r.order) > 0 {
			r.current = r.order[0]
		}
	}
	return view.Close()
}

func (r *registry) closeAll() error {
	var errs []error
	for _, h := range r.handles() {
		errs = append(errs, r.close(h))
	}
	r.current = ""
	return errors.Join(errs...)
}

func (r *registry) handles() []string {
	return append([]string(nil), r.order...)
}

func (r *registry) switchTo(handle string) error {
	if _, ok := r.views[handle]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchWindow, handle)
	}
	r.current = handle
	return nil
}

// WindowHandle returns the handle of the current window.
func (s *Session) WindowHandle(ctx context.Context) (string, error) {
	b, err := s.init(ctx)
	if err != nil {
		return "", err
	}
	return dispatch.Call(ctx, b, dispatch.PauseNone, nil, func() (string, error) {
		if _, ok := s.windows.views[s.windows.current]; !ok {
			return "", ErrNoSuchWindow
		}
		return s.windows.current, nil
	})
}

// WindowHandles returns the handles of all open windows in creation order.
func (s *Session) WindowHandles(ctx context.Context) ([]string, error) {
	b, err := s.init(ctx)
	if err != nil {
		return nil, err
	}
	return dispatch.Call(ctx, b, dispatch.PauseNone, nil, func() ([]string, error) {
		return s.windows.handles(), nil
	})
}

// NewWindow opens a window without switching to it.
func (s *Session) NewWindow(ctx context.Context) (string, error) {
	b, err := s.init(ctx)
	if err != nil {
		return "", err
	}
	return dispatch.Call(ctx, b, dispatch.PauseNone, nil, func() (string, error) {
		eng, err := s.engine()
		if err != nil {
			return "", err
		}
		return s.windows.open(eng)
	})
}

// CloseWindow closes the current window. Closing the last one leaves the
// session without windows until a command needs one.
func (s *Session) CloseWindow(ctx context.Context) error {
	b, err := s.init(ctx)
	if err != nil {
		return err
	}
	return b.Run(ctx, dispatch.PauseNone, nil, func() error {
		handle := s.windows.current
		if _, ok := s.windows.views[handle]; !ok {
			return ErrNoSuchWindow
		}
		s.log.WithField("window", handle).Debug("closing window")
		return s.windows.close(handle)
	})
}

// SwitchTo makes handle the target of subsequent commands.
func (s *Session) SwitchTo(ctx context.Context, handle string) error {
	b, err := s.init(ctx)
	if err != nil {
		return err
	}
	return b.Run(ctx, dispatch.PauseNone, nil, func() error {
		return s.windows.switchTo(handle)
	})
}

// Focus is SwitchTo.
func (s *Session) Focus(ctx context.Context, handle string) error {
	return s.SwitchTo(ctx, handle)
}
