package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/engine/enginetest"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const (
	pageA     = "http://origin.test/a"
	pageB     = "http://origin.test/b"
	pageStall = "http://origin.test/stall"
)

func testSettings(pageLoad time.Duration) models.Settings {
	s := models.DefaultSettings()
	s.Timeouts.PageLoad = pageLoad.Milliseconds()
	return s
}

func newTestSession(t *testing.T, settings models.Settings) (*Session, *enginetest.Factory) {
	t.Helper()

	f := enginetest.NewFactory()
	f.Serve(pageA, enginetest.Page{Status: 200, Title: "A", OuterHTML: "<html>a</html>"})
	f.Serve(pageB, enginetest.Page{Status: 404, Title: "B"})
	f.Serve(pageStall, enginetest.Page{})

	s := New("test-session", settings, Options{
		Factory: f,
		Logger:  logging.NullLogger(),
		Grace:   5 * time.Millisecond,
	})
	t.Cleanup(func() { _ = s.Quit(context.Background()) })
	return s, f
}

func TestGetSettlesPromptly(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, s.Get(ctx, pageA))
	assert.Less(t, time.Since(start), time.Second)

	code, err := s.StatusCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, code)

	// the status stays put until the next navigation
	time.Sleep(30 * time.Millisecond)
	code, err = s.StatusCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, code)

	url, err := s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, pageA, url)
}

func TestGetWaitsForDelayedLoad(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	f.Serve("http://origin.test/slow", enginetest.Page{Status: 201, Delay: 60 * time.Millisecond})

	start := time.Now()
	require.NoError(t, s.Get(context.Background(), "http://origin.test/slow"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, 201, s.status.Current())
}

func TestStalledGetReturnsWithinTimeout(t *testing.T) {
	t.Parallel()

	const pageLoad = 150 * time.Millisecond
	s, f := newTestSession(t, testSettings(pageLoad))
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	start := time.Now()
	require.NoError(t, s.Get(ctx, pageStall))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, pageLoad-20*time.Millisecond)
	assert.Less(t, elapsed, pageLoad+500*time.Millisecond)
	assert.Zero(t, s.status.Current())
	assert.Equal(t, 1, f.Last().Count("cancel"))
}

func TestStalledGetPostsConfiguredStatus(t *testing.T) {
	t.Parallel()

	settings := testSettings(100 * time.Millisecond)
	settings.LoadTimeoutStatus = 408
	s, _ := newTestSession(t, settings)

	require.NoError(t, s.Get(context.Background(), pageStall))
	assert.Equal(t, 408, s.status.Current())
}

func TestStatusCodeWaitsForPageLoadTimeout(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(100*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.Get(ctx, pageStall))

	start := time.Now()
	code, err := s.StatusCode(ctx)
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestHistoryBounds(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()

	require.NoError(t, s.Back(ctx))
	require.NoError(t, s.Forward(ctx))

	url, err := s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "about:blank", url)
	assert.Zero(t, s.status.Current())
	assert.Equal(t, 1, f.Last().Count("go -1"))
	assert.Equal(t, 1, f.Last().Count("go 1"))
}

func TestBackAndForward(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()

	require.NoError(t, s.Get(ctx, pageA))
	require.NoError(t, s.Get(ctx, pageB))
	assert.Equal(t, 404, s.status.Current())

	require.NoError(t, s.Back(ctx))
	url, err := s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, pageA, url)
	assert.Equal(t, 200, s.status.Current())

	require.NoError(t, s.Forward(ctx))
	title, err := s.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", title)

	// forward past the end is a no-op
	require.NoError(t, s.Forward(ctx))
	url, err = s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, pageB, url)
}

func TestRefreshReloadsCurrentPage(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()

	require.NoError(t, s.Get(ctx, pageA))
	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, 1, f.Last().Count("reload"))

	code, err := s.StatusCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, code)
}

func TestResetLeavesOneFreshWindow(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()

	require.NoError(t, s.Get(ctx, pageA))
	_, err := s.NewWindow(ctx)
	require.NoError(t, err)
	before, err := s.WindowHandles(ctx)
	require.NoError(t, err)
	require.Len(t, before, 2)
	require.NotEmpty(t, s.Logs(""))

	next := testSettings(2 * time.Second)
	next.UserAgent = "jbd-test"
	require.NoError(t, s.Reset(ctx, next))

	after, err := s.WindowHandles(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.NotContains(t, before, after[0])

	assert.Zero(t, s.status.Current())
	assert.Empty(t, s.Logs(""))
	assert.Equal(t, next, s.Settings())

	eng := f.Last()
	assert.Equal(t, next, eng.Settings())
	assert.Equal(t, 1, eng.Count("clear cookies"))
	assert.Equal(t, 1, eng.OpenViews())
	assert.Len(t, f.Engines(), 1)

	url, err := s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "about:blank", url)
}

func TestResetRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(time.Second))
	bad := testSettings(time.Second)
	bad.Timeouts.PageLoad = 0

	err := s.Reset(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWindows(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()

	first, err := s.WindowHandle(ctx)
	require.NoError(t, err)
	second, err := s.NewWindow(ctx)
	require.NoError(t, err)

	current, err := s.WindowHandle(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, current, "opening a window does not switch to it")

	handles, err := s.WindowHandles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, handles)

	require.NoError(t, s.SwitchTo(ctx, second))
	require.NoError(t, s.CloseWindow(ctx))

	handles, err = s.WindowHandles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, handles)

	current, err = s.WindowHandle(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, current)

	assert.ErrorIs(t, s.SwitchTo(ctx, second), ErrNoSuchWindow)
	assert.ErrorIs(t, s.Focus(ctx, "nope"), ErrNoSuchWindow)
}

func TestClosingLastWindow(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()

	require.NoError(t, s.CloseWindow(ctx))
	handles, err := s.WindowHandles(ctx)
	require.NoError(t, err)
	assert.Empty(t, handles)

	_, err = s.WindowHandle(ctx)
	assert.ErrorIs(t, err, ErrNoSuchWindow)

	// the next command that needs a window gets a new one
	require.NoError(t, s.Get(ctx, pageA))
	handles, err = s.WindowHandles(ctx)
	require.NoError(t, err)
	assert.Len(t, handles, 1)
}

func TestQuit(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()
	require.NoError(t, s.Get(ctx, pageA))

	require.NoError(t, s.Quit(ctx))
	assert.True(t, s.Closed())
	assert.True(t, f.Last().Closed())
	assert.Equal(t, models.Settings{}, s.Settings())
	assert.Zero(t, s.status.Current())

	assert.ErrorIs(t, s.Get(ctx, pageA), ErrUnavailable)
	_, err := s.Title(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.SetTimeouts(ctx, models.Timeouts{PageLoad: 1000}), ErrUnavailable)

	// quitting twice is fine
	assert.NoError(t, s.Kill(ctx))
}

func TestBootstrapFailure(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(time.Second))
	f.FailNew(errors.New("no browser"))
	ctx := context.Background()

	err := s.Get(ctx, pageA)
	require.ErrorIs(t, err, ErrBootstrap)
	assert.Contains(t, err.Error(), "no browser")

	_, err = s.CurrentURL(ctx)
	assert.ErrorIs(t, err, ErrBootstrap)
	assert.Empty(t, f.Engines())
}

func TestPageSourceFallback(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	f.Serve("http://origin.test/raw", enginetest.Page{Status: 200, HTML: "<p>raw</p>", Text: "raw"})
	f.Serve("http://origin.test/text", enginetest.Page{Status: 200, Text: "plain"})
	ctx := context.Background()

	tests := []struct {
		url  string
		want string
	}{
		{url: pageA, want: "<html>a</html>"},
		{url: "http://origin.test/raw", want: "<p>raw</p>"},
		{url: "http://origin.test/text", want: "plain"},
	}
	for _, tc := range tests {
		require.NoError(t, s.Get(ctx, tc.url))
		src, err := s.PageSource(ctx)
		require.NoError(t, err)
		assert.Equal(t, tc.want, src, tc.url)
	}
}

func TestScripts(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	f.OnEvaluate(func(script string, args []any, async bool) (any, error) {
		if script == "throw" {
			return nil, engine.ErrScript
		}
		return map[string]any{"script": script, "args": len(args), "async": async}, nil
	})
	ctx := context.Background()

	got, err := s.ExecuteScript(ctx, "return 1", []any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"script": "return 1", "args": 2, "async": false}, got)

	got, err = s.ExecuteAsyncScript(ctx, "cb()", nil)
	require.NoError(t, err)
	assert.Equal(t, true, got.(map[string]any)["async"])

	_, err = s.ExecuteScript(ctx, "throw", nil)
	assert.ErrorIs(t, err, engine.ErrScript)
}

func TestFindElement(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	link := models.Element{Tag: "a", Text: "home"}
	f.Serve("http://origin.test/links", enginetest.Page{
		Status:   200,
		Elements: map[string][]models.Element{"css selector=a": {link, {Tag: "a", Text: "away"}}},
	})
	ctx := context.Background()
	require.NoError(t, s.Get(ctx, "http://origin.test/links"))

	got, err := s.FindElement(ctx, engine.ByCSS, "a")
	require.NoError(t, err)
	assert.Equal(t, link, got)

	all, err := s.FindElements(ctx, engine.ByCSS, "a")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.FindElement(ctx, engine.ByCSS, "table")
	assert.ErrorIs(t, err, engine.ErrNoSuchElement)

	_, err = s.FindElements(ctx, engine.By("shadow"), "a")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFindElementWaitsImplicitly(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()
	require.NoError(t, s.SetTimeouts(ctx, models.Timeouts{PageLoad: 5000, Implicit: 150}))

	start := time.Now()
	_, err := s.FindElement(ctx, engine.ByID, "missing")
	assert.ErrorIs(t, err, engine.ErrNoSuchElement)
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestSetTimeouts(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()
	before := s.Settings()

	require.NoError(t, s.SetTimeouts(ctx, models.Timeouts{PageLoad: 1234, Script: 10, Implicit: 5}))
	after := s.Settings()
	got, err := s.Timeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Timeouts{PageLoad: 1234, Script: 10, Implicit: 5}, got)
	assert.Equal(t, before.Headless, after.Headless)
	assert.Equal(t, before.MaxLogEntries, after.MaxLogEntries)

	err = s.SetTimeouts(ctx, models.Timeouts{PageLoad: -1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, int64(1234), s.Settings().Timeouts.PageLoad)
}

func TestSetTimeoutsKeepsSettingsFromConcurrentReset(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	const rounds = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < rounds; i++ {
			_ = s.SetTimeouts(ctx, models.Timeouts{PageLoad: int64(1000 + i)})
		}
	}()

	reset := testSettings(5 * time.Second)
	reset.UserAgent = "after-reset"
	for i := 0; i < rounds/5; i++ {
		require.NoError(t, s.Reset(ctx, reset))
	}
	<-done

	// whatever interleaving happened, the settings carry the engine's user agent
	assert.Equal(t, "after-reset", s.Settings().UserAgent)
	assert.Equal(t, "after-reset", f.Last().Settings().UserAgent)
}

func TestOptionsNeedARunningEngine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(t *testing.T, s *Session, f *enginetest.Factory)
		want  error
	}{
		{
			name: "bootstrap failed",
			setup: func(t *testing.T, s *Session, f *enginetest.Factory) {
				f.FailNew(errors.New("no browser"))
				require.ErrorIs(t, s.Init(ctx), ErrBootstrap)
			},
			want: ErrBootstrap,
		},
		{
			name: "quit",
			setup: func(t *testing.T, s *Session, f *enginetest.Factory) {
				require.NoError(t, s.Init(ctx))
				require.NoError(t, s.Quit(ctx))
			},
			want: ErrUnavailable,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, f := newTestSession(t, testSettings(5*time.Second))
			tc.setup(t, s, f)

			assert.ErrorIs(t, s.SetTimeouts(ctx, models.Timeouts{PageLoad: 1234}), tc.want)
			_, err := s.Timeouts(ctx)
			assert.ErrorIs(t, err, tc.want)
			_, err = s.Capabilities(ctx)
			assert.ErrorIs(t, err, tc.want)
			assert.NotEqual(t, int64(1234), s.Settings().Timeouts.PageLoad)
		})
	}
}

func TestOptionsStartTheEngine(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	_, err := s.Timeouts(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.Engines(), 1)
}

func TestQuitHonoursContextWhenEngineIsBusy(t *testing.T) {
	t.Parallel()

	s, f := newTestSession(t, testSettings(5*time.Second))
	started := make(chan struct{})
	release := make(chan struct{})
	f.OnEvaluate(func(string, []any, bool) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	go func() { _, _ = s.ExecuteScript(ctx, "block", nil) }()
	<-started

	quitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.Quit(quitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, s.Closed())
	assert.Equal(t, models.Settings{}, s.Settings())
	_, err = s.Title(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, f.Last().Closed())

	// the engine is closed as soon as the stuck task returns
	close(release)
	assert.Eventually(t, f.Last().Closed, 2*time.Second, 10*time.Millisecond)
}

func TestCapabilitiesAndLogs(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(5*time.Second))
	caps, err := s.Capabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake", caps["backend"])
	assert.Equal(t, true, caps["headless"])

	assert.Contains(t, s.LogTypes(), logging.SourceDriver)
	assert.NotEmpty(t, s.Logs(logging.SourceDriver))
	assert.Empty(t, s.Logs(logging.SourceConsole))

	s.ClearLogs()
	assert.Empty(t, s.Logs(""))
}

func TestScreenshot(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testSettings(5*time.Second))
	png, err := s.Screenshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, png)
}
