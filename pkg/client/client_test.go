package client

import (
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUnixServer(t *testing.T, h http.Handler) *Client {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(h)
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)
	return NewClient(sock)
}

func TestSendStatusErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sequence", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `"no cooldown started"`, http.StatusNotFound)
	})
	mux.HandleFunc("/sequence/start", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `"a cooldown is already running"`, http.StatusConflict)
	})
	mux.HandleFunc("/identity", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`"LSCI,MODEL350,1234567,1.0"`))
	})
	c := newUnixServer(t, mux)

	_, err := c.GetCooldown()
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.StartCooldown(CooldownRequest{})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "already running")

	id, err := c.GetIdentity()
	require.NoError(t, err)
	assert.Equal(t, "LSCI,MODEL350,1234567,1.0", id)
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetVersion()
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}
