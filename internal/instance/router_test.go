package instance

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	urls []string
	err  error
}

func (d *recordingDeliverer) deliver(raw string) error {
	d.urls = append(d.urls, raw)
	return d.err
}

func TestHandleArgs_FindsDeepLink(t *testing.T) {
	d := &recordingDeliverer{}
	rt := NewRouter("blockforge", d.deliver, zerolog.Nop())

	found := rt.HandleArgs([]string{
		"/usr/bin/launcher", "--flag",
		"blockforge://auth/callback?code=abc&state=s",
	})
	assert.True(t, found)
	require.Len(t, d.urls, 1)
	assert.Contains(t, d.urls[0], "code=abc")
}

func TestHandleArgs_NoDeepLink(t *testing.T) {
	d := &recordingDeliverer{}
	rt := NewRouter("blockforge", d.deliver, zerolog.Nop())
	assert.False(t, rt.HandleArgs([]string{"/usr/bin/launcher"}))
	assert.Empty(t, d.urls)
}

func TestRedirectCapture(t *testing.T) {
	d := &recordingDeliverer{}
	rt := NewRouter("blockforge", d.deliver, zerolog.Nop())
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/auth/callback?code=abc&state=s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	require.Len(t, d.urls, 1)
	assert.Contains(t, d.urls[0], "code=abc")
	assert.Contains(t, d.urls[0], "state=s1")
}

func TestForward_RoundTrip(t *testing.T) {
	d := &recordingDeliverer{}
	rt := NewRouter("blockforge", d.deliver, zerolog.Nop())
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	err := Forward(context.Background(), addr, []string{
		"launcher.exe",
		"blockforge://auth/callback?code=fwd&state=s2",
	})
	require.NoError(t, err)
	require.Len(t, d.urls, 1)
	assert.Contains(t, d.urls[0], "code=fwd")
}

func TestForward_NoDeepLinkStillSucceeds(t *testing.T) {
	d := &recordingDeliverer{}
	rt := NewRouter("blockforge", d.deliver, zerolog.Nop())
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	require.NoError(t, Forward(context.Background(), addr, []string{"launcher.exe"}))
	assert.Empty(t, d.urls)
}

func TestLock_SecondAcquireFailsInOtherProcessOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.lock")

	l, ok, err := Acquire(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Release())

	// Reacquirable after release.
	l2, ok, err := Acquire(path)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l2.Release())
}
