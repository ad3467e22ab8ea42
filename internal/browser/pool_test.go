package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/mount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerConfig(t *testing.T) {
	t.Parallel()

	p := &Pool{image: DefaultImage}

	tests := []struct {
		name       string
		opts       LaunchOptions
		wantEnv    []string
		wantMounts int
	}{
		{
			name:       "headless with profile",
			opts:       LaunchOptions{SessionID: "abc", UserDataDir: "/tmp/abc", Headless: true},
			wantEnv:    []string{"DEFAULT_HEADLESS=true", "DEFAULT_USER_DATA_DIR=/data"},
			wantMounts: 1,
		},
		{
			name:    "proxied",
			opts:    LaunchOptions{SessionID: "def", Proxy: "http://proxy:3128"},
			wantEnv: []string{"DEFAULT_HEADLESS=false", `DEFAULT_LAUNCH_ARGS=["--proxy-server=http://proxy:3128"]`},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			config, host := p.containerConfig(tc.opts)
			assert.Equal(t, DefaultImage, config.Image)
			assert.Equal(t, tc.opts.SessionID, config.Labels["session-id"])
			for _, env := range tc.wantEnv {
				assert.Contains(t, config.Env, env)
			}
			require.Len(t, host.Mounts, tc.wantMounts)
			if tc.wantMounts > 0 {
				assert.Equal(t, mount.TypeBind, host.Mounts[0].Type)
				assert.Equal(t, tc.opts.UserDataDir, host.Mounts[0].Source)
			}
			assert.Equal(t, "0", host.PortBindings[devtoolsPort][0].HostPort)
		})
	}
}

func TestWaitReady(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" || calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"Browser":"Chrome"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitReady(ctx, srv.Client(), srv.URL))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestWaitReadyGivesUp(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := WaitReady(ctx, srv.Client(), srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
