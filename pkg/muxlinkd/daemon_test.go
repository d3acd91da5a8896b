package muxlinkd

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/muxlink/muxlink/pkg/muxlink"
	"github.com/muxlink/muxlink/pkg/muxlinktest"
)

func TestDaemonAdmin(t *testing.T) {
	const adminAddr = "127.0.0.1:25710"
	d := runDaemon(t, Config{
		Listen:        &ListenSpec{Addr: "127.0.0.1:0"},
		AdminEndpoint: adminAddr,
	})
	awaitHealthy(t, adminAddr)

	st, err := NewAdminClient(adminAddr).GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, "listen", st.Mode)
	require.Empty(t, st.Conns)
	require.NotEmpty(t, st.Uptime)

	res, err := http.Get("http://" + adminAddr + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "muxlink_daemon_connections")

	// the in-process view agrees with the admin API
	st2, err := d.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, st.Mode, st2.Mode)
}

func TestDaemonConnect(t *testing.T) {
	const (
		frontendAddr = "127.0.0.1:25711"
		adminAddr    = "127.0.0.1:25712"
	)
	ctx := muxlinktest.Context(t)
	// the remote peer: a muxlink server echoing every inbound channel
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	srvCtx, srvCf := context.WithCancel(ctx)
	srvDone := make(chan struct{})
	go func() {
		defer close(srvDone)
		muxlink.Serve(srvCtx, l, muxlink.ServerConfig{Handler: muxlinktest.EchoHandler})
	}()
	t.Cleanup(func() {
		srvCf()
		<-srvDone
	})

	runDaemon(t, Config{
		Connect:       &ConnectSpec{Addr: l.Addr().String()},
		AdminEndpoint: adminAddr,
		Routes: []RouteSpec{
			{Name: "echo", Frontend: tcpEndpoint(frontendAddr), Backend: channelEndpoint()},
		},
	})
	awaitHealthy(t, adminAddr)

	admin := NewAdminClient(adminAddr)
	require.Eventually(t, func() bool {
		st, err := admin.GetStatus(context.Background())
		return err == nil && st.Client != nil && st.Client.Connected
	}, 3*time.Second, 50*time.Millisecond)

	// a local program dials the frontend and talks to the echo peer
	muxlinktest.TestRoundTrip(t, func(ctx context.Context) (net.Conn, error) {
		var dl net.Dialer
		return dl.DialContext(ctx, "tcp", frontendAddr)
	})

	st, err := admin.GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, "connect", st.Mode)
	require.Len(t, st.Routes, 1)
	require.Equal(t, "echo", st.Routes[0].Name)
	require.Equal(t, "channel://", st.Routes[0].Backend)
}

func TestStatusBeforeSetup(t *testing.T) {
	d := New(Params{Listen: &ListenParams{}})
	ctx, cf := context.WithCancel(context.Background())
	cf()
	_, err := d.Status(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// runDaemon builds params from c and runs the daemon until the test ends.
func runDaemon(t testing.TB, c Config) *Daemon {
	params, err := MakeParams("config.yaml", c)
	require.NoError(t, err)
	d := New(*params)
	ctx, cf := context.WithCancel(muxlinktest.Context(t))
	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		runErr = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cf()
		<-done
		require.ErrorIs(t, runErr, context.Canceled)
	})
	return d
}

func awaitHealthy(t testing.TB, adminAddr string) {
	require.Eventually(t, func() bool {
		res, err := http.Get("http://" + adminAddr + "/healthz")
		if err != nil {
			return false
		}
		defer res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)
}
