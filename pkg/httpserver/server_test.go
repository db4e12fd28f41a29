package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/httpserver"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
}

// startServer runs srv in the background and waits until it answers.
func startServer(t *testing.T, ctx context.Context, srv *httpserver.Server) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, okHandler()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr())
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestServer_RunUntilCancelled(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{ShutdownTimeout: 100 * time.Millisecond},
		httpserver.WithListener(listen(t)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := startServer(t, ctx, srv)
	cancel()
	waitDone(t, done)

	_, err := http.Get("http://" + srv.Addr())
	assert.Error(t, err)
}

func TestServer_Shutdown(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{}, httpserver.WithListener(listen(t)))
	done := startServer(t, context.Background(), srv)

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, srv.Shutdown(context.Background()))
	waitDone(t, done)
}

func TestServer_ShutdownBeforeRun(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{})
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestServer_StartError(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{Addr: ":invalid"})
	err := srv.Run(context.Background(), okHandler())
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestServer_AlreadyRunning(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{}, httpserver.WithListener(listen(t)))
	ctx, cancel := context.WithCancel(context.Background())
	done := startServer(t, ctx, srv)

	err := srv.Run(context.Background(), okHandler())
	assert.ErrorIs(t, err, httpserver.ErrAlreadyRunning)

	cancel()
	waitDone(t, done)
}

func TestServer_Defaults(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{})
	assert.Equal(t, ":8080", srv.Addr())

	cfg := httpserver.DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
}
