package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zj793039327/jBrowserDriver/internal/backend"
	"github.com/zj793039327/jBrowserDriver/internal/engine/enginetest"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/internal/profile"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

func newTestManager(t *testing.T, perProject int64) (*Manager, *enginetest.Factory, *profile.Manager) {
	t.Helper()

	f := enginetest.NewFactory()
	f.Serve(pageA, enginetest.Page{Status: 200, Title: "A"})

	registry := backend.NewRegistry(f.Name(), logging.NullLogger())
	registry.Register(f)

	profiles, err := profile.NewManager(t.TempDir(), logging.NullLogger())
	require.NoError(t, err)

	m := NewManager(registry, profiles, ManagerOptions{
		Defaults:           models.DefaultSettings(),
		SessionsPerProject: perProject,
		Logger:             logging.NullLogger(),
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, f, profiles
}

func TestCreateSessionIsLazy(t *testing.T) {
	t.Parallel()

	m, f, _ := newTestManager(t, 10)
	ctx := context.Background()

	info, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, info.Status)
	assert.Equal(t, "fake", info.Backend)
	assert.Equal(t, 3600, info.Timeout)
	assert.Equal(t, models.DefaultSettings(), info.Settings)
	assert.Empty(t, f.Engines())

	sess, err := m.Session(info.ID)
	require.NoError(t, err)
	require.NoError(t, sess.Get(ctx, pageA))
	assert.Len(t, f.Engines(), 1)
}

func TestCreateSessionEager(t *testing.T) {
	t.Parallel()

	m, f, _ := newTestManager(t, 10)
	settings := models.DefaultSettings()
	settings.UserAgent = "custom"

	info, err := m.CreateSession(context.Background(), models.CreateSessionRequest{
		ProjectID: "proj",
		Settings:  &settings,
		Eager:     true,
	})
	require.NoError(t, err)
	require.Len(t, f.Engines(), 1)
	assert.Equal(t, "custom", f.Last().Settings().UserAgent)
	assert.Equal(t, "custom", info.Settings.UserAgent)
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, 10)
	bad := models.DefaultSettings()
	bad.Timeouts.PageLoad = 0

	tests := []struct {
		name    string
		req     models.CreateSessionRequest
		wantErr error
	}{
		{name: "missing project", req: models.CreateSessionRequest{}, wantErr: ErrInvalidArgument},
		{name: "timeout too short", req: models.CreateSessionRequest{ProjectID: "p", Timeout: 5}, wantErr: ErrInvalidArgument},
		{name: "bad settings", req: models.CreateSessionRequest{ProjectID: "p", Settings: &bad}, wantErr: ErrInvalidArgument},
		{name: "unknown backend", req: models.CreateSessionRequest{ProjectID: "p", Backend: "webkit"}, wantErr: backend.ErrUnknownBackend},
		{name: "unknown profile", req: models.CreateSessionRequest{ProjectID: "p", ProfileID: "nope"}, wantErr: ErrInvalidArgument},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := m.CreateSession(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestEagerBootstrapFailureReleasesSlot(t *testing.T) {
	t.Parallel()

	m, f, _ := newTestManager(t, 1)
	f.FailNew(assert.AnError)
	ctx := context.Background()

	_, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj", Eager: true})
	require.ErrorIs(t, err, ErrBootstrap)

	f.FailNew(nil)
	_, err = m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj"})
	assert.NoError(t, err)
}

func TestProjectLimit(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, 1)
	ctx := context.Background()

	first, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj"})
	require.NoError(t, err)

	_, err = m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj"})
	assert.ErrorIs(t, err, ErrLimit)

	// other projects are unaffected
	_, err = m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "other"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(ctx, first.ID))
	_, err = m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj"})
	assert.NoError(t, err)
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	m, f, _ := newTestManager(t, 10)
	ctx := context.Background()

	info, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj", Eager: true})
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(ctx, info.ID))
	assert.True(t, f.Last().Closed())

	got, err := m.GetSession(info.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	_, err = m.Session(info.ID)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, m.DeleteSession(ctx, info.ID), ErrNotRunning)
	assert.ErrorIs(t, m.DeleteSession(ctx, "missing"), ErrNotFound)

	_, err = os.Stat(info.Dirs.Cache)
	assert.True(t, os.IsNotExist(err))
}

func TestExpiryMarksTimedOut(t *testing.T) {
	t.Parallel()

	m, f, _ := newTestManager(t, 10)
	ctx := context.Background()

	info, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj", Eager: true})
	require.NoError(t, err)

	m.expire(info.ID)

	got, err := m.GetSession(info.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTimedOut, got.Status)
	assert.True(t, f.Last().Closed())

	// a late delete loses to the expiry
	assert.ErrorIs(t, m.DeleteSession(ctx, info.ID), ErrNotRunning)
}

func TestProfileIsSavedAndRestored(t *testing.T) {
	t.Parallel()

	m, _, profiles := newTestManager(t, 10)
	ctx := context.Background()

	p, err := profiles.CreateProfile("proj")
	require.NoError(t, err)

	first, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj", ProfileID: p.ID})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(first.Dirs.UserData, "Cookies"), []byte("jar"), 0o644))
	require.NoError(t, m.DeleteSession(ctx, first.ID))

	second, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj", ProfileID: p.ID})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(second.Dirs.UserData, "Cookies"))
	require.NoError(t, err)
	assert.Equal(t, "jar", string(data))
}

func TestListAndUsage(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, 10)
	ctx := context.Background()

	a, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj"})
	require.NoError(t, err)
	_, err = m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj"})
	require.NoError(t, err)
	_, err = m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "other"})
	require.NoError(t, err)
	require.NoError(t, m.DeleteSession(ctx, a.ID))

	assert.Len(t, m.ListSessions("proj", ""), 2)
	assert.Len(t, m.ListSessions("proj", models.StatusRunning), 1)
	assert.Len(t, m.ListSessions("", ""), 3)

	assert.Equal(t, models.ProjectUsage{ProjectID: "proj", ActiveSessions: 1, TotalSessions: 2}, m.Usage("proj"))
}

func TestCloseCompletesEverySession(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj", Eager: i%2 == 0})
		require.NoError(t, err)
	}

	require.NoError(t, m.Close(ctx))
	assert.Empty(t, m.ListSessions("", models.StatusRunning))
	assert.Len(t, m.ListSessions("", models.StatusCompleted), 3)
}

func TestFinishedSessionsAreForgotten(t *testing.T) {
	t.Parallel()

	f := enginetest.NewFactory()
	registry := backend.NewRegistry(f.Name(), logging.NullLogger())
	registry.Register(f)
	profiles, err := profile.NewManager(t.TempDir(), logging.NullLogger())
	require.NoError(t, err)

	m := NewManager(registry, profiles, ManagerOptions{
		Defaults:  models.DefaultSettings(),
		Retention: 50 * time.Millisecond,
		Logger:    logging.NullLogger(),
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	ctx := context.Background()

	done, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj"})
	require.NoError(t, err)
	running, err := m.CreateSession(ctx, models.CreateSessionRequest{ProjectID: "proj"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(ctx, done.ID))
	got, err := m.GetSession(done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	assert.Eventually(t, func() bool {
		_, err := m.GetSession(done.ID)
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	// running sessions are never evicted
	time.Sleep(100 * time.Millisecond)
	_, err = m.GetSession(running.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.ProjectUsage{ProjectID: "proj", TotalSessions: 1, ActiveSessions: 1}, m.Usage("proj"))
}
