package static_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mccutchen/go-httpbin/v2/httpbin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/engine/static"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/internal/session"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const homePage = `<!doctype html>
<html>
<head><title>Home</title></head>
<body>
  <h1 id="headline" class="big title">Welcome</h1>
  <form><input name="q" type="text"></form>
  <a href="/page/other">Other   page</a>
  <a href="/page/home">Back home</a>
  <p class="note">one</p><p class="note">two</p>
</body>
</html>`

const otherPage = `<html><head><title>Other</title></head><body><p>elsewhere</p></body></html>`

func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/page/home", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, homePage)
	})
	mux.HandleFunc("/page/other", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, otherPage)
	})
	mux.HandleFunc("/page/set-cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "flavor", Value: "oat", Path: "/"})
		fmt.Fprint(w, "<title>set</title>")
	})
	mux.HandleFunc("/page/echo-cookie", func(w http.ResponseWriter, r *http.Request) {
		flavor := "none"
		if c, err := r.Cookie("flavor"); err == nil {
			flavor = c.Value
		}
		fmt.Fprintf(w, "<title>flavor=%s</title>", flavor)
	})
	mux.HandleFunc("/page/agent", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<title>%s</title>", r.UserAgent())
	})
	mux.HandleFunc("/page/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="report.csv"`)
		fmt.Fprint(w, "a,b\n1,2\n")
	})
	mux.Handle("/", httpbin.New().Handler())

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	sess   *session.Session
	origin string
	dirs   models.Dirs
}

func newFixture(t *testing.T, mutate func(*models.Settings)) *fixture {
	t.Helper()

	root := t.TempDir()
	dirs := models.Dirs{
		UserData:    filepath.Join(root, "user-data"),
		Cache:       filepath.Join(root, "cache"),
		Attachments: filepath.Join(root, "attachments"),
		Media:       filepath.Join(root, "media"),
	}
	for _, dir := range []string{dirs.UserData, dirs.Cache, dirs.Attachments, dirs.Media} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	settings := models.DefaultSettings()
	settings.Timeouts.PageLoad = 5000
	settings.Timeouts.Script = 2000
	if mutate != nil {
		mutate(&settings)
	}

	sess := session.New("static-test", settings, session.Options{
		Factory: static.NewFactory(logging.NullLogger()),
		Logger:  logging.NullLogger(),
		Dirs:    dirs,
	})
	t.Cleanup(func() { _ = sess.Quit(context.Background()) })

	return &fixture{sess: sess, origin: newOrigin(t).URL, dirs: dirs}
}

func (f *fixture) get(t *testing.T, path string) int {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.sess.Get(ctx, f.origin+path))
	code, err := f.sess.StatusCode(ctx)
	require.NoError(t, err)
	return code
}

func TestLoadDocument(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	assert.Equal(t, 200, f.get(t, "/page/home"))

	title, err := f.sess.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", title)

	url, err := f.sess.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.origin+"/page/home", url)

	src, err := f.sess.PageSource(ctx)
	require.NoError(t, err)
	assert.Contains(t, src, "<html>")
	assert.Contains(t, src, `id="headline"`)
}

func TestStatusCodes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	tests := []struct {
		path string
		want int
	}{
		{path: "/status/404", want: 404},
		{path: "/status/500", want: 500},
		{path: "/status/201", want: 201},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, f.get(t, tc.path), tc.path)
	}
}

func TestRedirectEndsOnTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	assert.Equal(t, 200, f.get(t, "/redirect-to?url=/page/other"))

	url, err := f.sess.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.origin+"/page/other", url)
}

func TestStalledLoadIsCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *models.Settings) { s.Timeouts.PageLoad = 300 })
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, f.sess.Get(ctx, f.origin+"/delay/3"))
	assert.Less(t, time.Since(start), 2*time.Second)

	url, err := f.sess.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "about:blank", url)

	// the session keeps working after the stall
	require.NoError(t, f.sess.SetTimeouts(ctx, models.Timeouts{PageLoad: 5000}))
	assert.Equal(t, 200, f.get(t, "/page/other"))
}

func TestUnreachableHostFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	ctx := context.Background()
	require.NoError(t, f.sess.Get(ctx, deadURL+"/"))
	code, err := f.sess.StatusCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, code)
}

func TestHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	f.get(t, "/page/home")
	assert.Equal(t, 404, f.get(t, "/status/404"))

	require.NoError(t, f.sess.Back(ctx))
	title, err := f.sess.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", title)
	code, err := f.sess.StatusCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, code)

	require.NoError(t, f.sess.Forward(ctx))
	code, err = f.sess.StatusCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 404, code)

	require.NoError(t, f.sess.Refresh(ctx))
	code, err = f.sess.StatusCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 404, code)
}

func TestFindElements(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.get(t, "/page/home")
	ctx := context.Background()

	tests := []struct {
		by    engine.By
		value string
		count int
		tag   string
	}{
		{by: engine.ByID, value: "headline", count: 1, tag: "h1"},
		{by: engine.ByName, value: "q", count: 1, tag: "input"},
		{by: engine.ByCSS, value: "p.note", count: 2, tag: "p"},
		{by: engine.ByTagName, value: "A", count: 2, tag: "a"},
		{by: engine.ByClassName, value: "title", count: 1, tag: "h1"},
		{by: engine.ByLinkText, value: "Other page", count: 1, tag: "a"},
		{by: engine.ByPartialLinkText, value: "home", count: 1, tag: "a"},
		{by: engine.ByCSS, value: "table", count: 0},
	}
	for _, tc := range tests {
		found, err := f.sess.FindElements(ctx, tc.by, tc.value)
		require.NoError(t, err, "%s=%s", tc.by, tc.value)
		require.Len(t, found, tc.count, "%s=%s", tc.by, tc.value)
		if tc.count > 0 {
			assert.Equal(t, tc.tag, found[0].Tag)
		}
	}

	el, err := f.sess.FindElement(ctx, engine.ByID, "headline")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", el.Text)
	assert.Equal(t, "big title", el.Attributes["class"])

	_, err = f.sess.FindElements(ctx, engine.ByCSS, "a[")
	assert.ErrorIs(t, err, engine.ErrInvalidSelector)

	_, err = f.sess.FindElements(ctx, engine.ByXPath, "//a")
	assert.ErrorIs(t, err, engine.ErrUnsupported)
}

func TestExecuteScript(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.get(t, "/page/home")
	ctx := context.Background()

	got, err := f.sess.ExecuteScript(ctx, "return document.title", nil)
	require.NoError(t, err)
	assert.Equal(t, "Home", got)

	got, err = f.sess.ExecuteScript(ctx, "return arguments[0] + arguments[1]", []any{2, 3})
	require.NoError(t, err)
	assert.EqualValues(t, 5, got)

	got, err = f.sess.ExecuteScript(ctx, "return document.querySelectorAll('p.note').length", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got)

	got, err = f.sess.ExecuteScript(ctx, "return document.getElementById('headline').textContent", nil)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", got)

	got, err = f.sess.ExecuteScript(ctx, "return {path: location.pathname, list: [1, 'a']}", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "/page/home", "list": []any{int64(1), "a"}}, got)

	// globals persist on the same document
	_, err = f.sess.ExecuteScript(ctx, "window.counter = 41", nil)
	require.NoError(t, err)
	got, err = f.sess.ExecuteScript(ctx, "return ++window.counter", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)
}

func TestScriptErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *models.Settings) { s.Timeouts.Script = 200 })
	f.get(t, "/page/home")
	ctx := context.Background()

	_, err := f.sess.ExecuteScript(ctx, "throw new Error('boom')", nil)
	require.ErrorIs(t, err, engine.ErrScript)
	assert.Contains(t, err.Error(), "boom")

	_, err = f.sess.ExecuteScript(ctx, "return document.querySelector('a[')", nil)
	assert.ErrorIs(t, err, engine.ErrScript)

	start := time.Now()
	_, err = f.sess.ExecuteScript(ctx, "while (true) {}", nil)
	assert.ErrorIs(t, err, engine.ErrScriptTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteAsyncScript(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *models.Settings) { s.Timeouts.Script = 500 })
	f.get(t, "/page/home")
	ctx := context.Background()

	got, err := f.sess.ExecuteAsyncScript(ctx,
		"var done = arguments[arguments.length - 1]; setTimeout(function() { done(arguments.length + ':' + document.title) }, 20)",
		[]any{"x"})
	require.NoError(t, err)
	assert.Equal(t, "0:Home", got)

	got, err = f.sess.ExecuteAsyncScript(ctx, "arguments[0]('now')", nil)
	require.NoError(t, err)
	assert.Equal(t, "now", got)

	_, err = f.sess.ExecuteAsyncScript(ctx, "var done = arguments[0]; setTimeout(done, 5000)", nil)
	assert.ErrorIs(t, err, engine.ErrScriptTimeout)

	_, err = f.sess.ExecuteAsyncScript(ctx, "return 1", nil)
	assert.ErrorIs(t, err, engine.ErrScriptTimeout)
}

func TestConsoleGoesToLogs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.get(t, "/page/home")

	_, err := f.sess.ExecuteScript(context.Background(), "console.log('hello', 42)", nil)
	require.NoError(t, err)

	entries := f.sess.Logs(logging.SourceConsole)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello 42", entries[0].Message)
	assert.Contains(t, f.sess.LogTypes(), logging.SourceBrowser)
}

func TestCookiesSurviveUntilReset(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	f.get(t, "/page/set-cookie")
	f.get(t, "/page/echo-cookie")
	title, err := f.sess.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "flavor=oat", title)

	settings := f.sess.Settings()
	settings.UserAgent = "jbd-agent/1.0"
	require.NoError(t, f.sess.Reset(ctx, settings))

	f.get(t, "/page/echo-cookie")
	title, err = f.sess.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "flavor=none", title)

	f.get(t, "/page/agent")
	title, err = f.sess.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jbd-agent/1.0", title)
}

func TestDownloads(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	f.get(t, "/page/home")

	assert.Equal(t, 200, f.get(t, "/page/report"))
	data, err := os.ReadFile(filepath.Join(f.dirs.Attachments, "report.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	assert.Equal(t, 200, f.get(t, "/image/png"))
	media, err := os.ReadDir(f.dirs.Media)
	require.NoError(t, err)
	assert.Len(t, media, 1)

	// downloads leave the window on its document
	title, err := f.sess.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", title)
}

func TestScreenshotUnsupported(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.sess.Screenshot(context.Background())
	assert.ErrorIs(t, err, engine.ErrUnsupported)
}
