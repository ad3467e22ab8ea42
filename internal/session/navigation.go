package session

import (
	"context"
	"errors"
	"time"

	"github.com/zj793039327/jBrowserDriver/internal/dispatch"
	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/metrics"
	"github.com/zj793039327/jBrowserDriver/internal/status"
)

// Get navigates the current window to url and waits, at most the page-load
// timeout, for the load to settle. A load that does not settle is cancelled
// and Get returns normally; the status slot then tells the caller what
// happened.
func (s *Session) Get(ctx context.Context, url string) error {
	b, err := s.init(ctx)
	if err != nil {
		return err
	}
	settings := s.Settings()
	pageLoad := settings.Timeouts.PageLoadDuration()
	log := s.log.WithField("url", url)

	start := time.Now()
	s.status.Reset()
	ref := dispatch.NewTimeout(pageLoad)
	err = b.Run(ctx, dispatch.PauseShort, ref, func() error {
		view, err := s.view()
		if err != nil {
			return err
		}
		if err := view.Load(url); err != nil {
			s.status.Post(status.LoadFailed)
			ref.Cancel()
			return err
		}
		return nil
	})
	if err != nil {
		if fatal(err) {
			return err
		}
		log.WithError(err).Warn("navigation did not start cleanly")
	}

	// the start task and the wait share one page-load budget
	waitStart := time.Now()
	code := s.status.Await(ctx, pageLoad-time.Since(start))
	metrics.StatusWait.Observe(time.Since(waitStart).Seconds())
	if ctx.Err() != nil {
		log.WithError(ctx.Err()).Warn("wait for load status interrupted")
	}

	if code == 0 {
		log.WithField("timeout", pageLoad).Info("page load timed out, cancelling")
		if err := s.cancelLoad(ctx, b, settings.LoadTimeoutStatus); err != nil {
			metrics.Navigations.WithLabelValues(metrics.OutcomeStalled).Inc()
			return err
		}
		code = s.status.Current()
	}
	metrics.Navigations.WithLabelValues(metrics.NavigationOutcome(code)).Inc()
	log.WithField("status", code).Debug("navigation returned")
	return nil
}

// To is Get.
func (s *Session) To(ctx context.Context, url string) error {
	return s.Get(ctx, url)
}

// cancelLoad aborts the current window's load. It runs even when the
// caller's context is done.
func (s *Session) cancelLoad(ctx context.Context, b *dispatch.Bridge, timeoutStatus int) error {
	err := b.Run(context.WithoutCancel(ctx), dispatch.PauseNone, dispatch.Throwaway(), func() error {
		view, err := s.view()
		if err != nil {
			return err
		}
		if err := view.Cancel(); err != nil {
			return err
		}
		if timeoutStatus != 0 {
			s.status.Post(timeoutStatus)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	s.log.WithError(err).Warn("cancelling stalled load failed")
	return nil
}

// Back steps one entry back in history. Without a previous entry it does nothing.
func (s *Session) Back(ctx context.Context) error {
	return s.step(ctx, -1)
}

// Forward steps one entry forward in history. Without a next entry it does nothing.
func (s *Session) Forward(ctx context.Context) error {
	return s.step(ctx, 1)
}

func (s *Session) step(ctx context.Context, offset int) error {
	b, err := s.init(ctx)
	if err != nil {
		return err
	}
	ref := dispatch.NewTimeout(s.Settings().Timeouts.PageLoadDuration())
	err = b.Run(ctx, dispatch.PauseShort, ref, func() error {
		view, err := s.view()
		if err != nil {
			return err
		}
		err = view.Go(offset)
		if errors.Is(err, engine.ErrHistoryBounds) {
			s.log.WithField("offset", offset).Info("no history entry, ignoring")
			return nil
		}
		return err
	})
	return s.settle(err, "history step")
}

// Refresh reloads the current window.
func (s *Session) Refresh(ctx context.Context) error {
	b, err := s.init(ctx)
	if err != nil {
		return err
	}
	ref := dispatch.NewTimeout(s.Settings().Timeouts.PageLoadDuration())
	err = b.Run(ctx, dispatch.PauseShort, ref, func() error {
		view, err := s.view()
		if err != nil {
			return err
		}
		return view.Reload()
	})
	return s.settle(err, "refresh")
}

func (s *Session) settle(err error, op string) error {
	if err == nil || fatal(err) {
		return err
	}
	s.log.WithError(err).Warn(op + " failed")
	return nil
}
