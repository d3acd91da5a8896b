package muxlb

import (
	"io"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muxlink/muxlink/pkg/muxlink"
	"github.com/muxlink/muxlink/pkg/muxlinktest"
)

func TestParseEndpoint(t *testing.T) {
	for _, tc := range []struct {
		in             string
		scheme, target string
	}{
		{"tcp://127.0.0.1:8000", "tcp", "127.0.0.1:8000"},
		{"tcp:127.0.0.1:8000", "tcp", "127.0.0.1:8000"},
		{"unix:///run/app.sock", "unix", "/run/app.sock"},
		{"channel://", "channel", ""},
	} {
		scheme, target, err := ParseEndpoint(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.scheme, scheme)
		require.Equal(t, tc.target, target)
	}
	_, _, err := ParseEndpoint("nonsense")
	require.Error(t, err)
}

func TestMakeStreamBackend(t *testing.T) {
	be, err := MakeStreamBackend("tcp://127.0.0.1:8000", nil)
	require.NoError(t, err)
	require.NotNil(t, be)

	be, err = MakeStreamBackend("unix:///run/app.sock", nil)
	require.NoError(t, err)
	require.NotNil(t, be)

	_, err = MakeStreamBackend("channel://", nil)
	require.Error(t, err)
	be, err = MakeStreamBackend("channel://", errEndpoint{})
	require.NoError(t, err)
	require.NotNil(t, be)

	_, err = MakeStreamBackend("channel://extra", errEndpoint{})
	require.Error(t, err)
	_, err = MakeStreamBackend("smoke://signals", nil)
	require.Error(t, err)
}

// TestChannelToTCP covers the server-side bridge: channels opened by the
// peer are balanced onto a local TCP service.
func TestChannelToTCP(t *testing.T) {
	l := newTCPEcho(t)
	ap, err := netip.ParseAddrPort(l.Addr().String())
	require.NoError(t, err)

	fe := NewChannelFrontend(0)
	t.Cleanup(func() {
		fe.Close()
	})
	a, _ := muxlinktest.NewPair(t,
		muxlink.ConnConfig{},
		muxlink.ConnConfig{Handler: fe.Handler()},
	)

	b := NewStreamBalancer()
	require.NoError(t, b.AddBackend("local", NewTCPBackend(ap)))
	go b.ServeFrontend(ctx, fe)

	muxlinktest.TestRoundTrip(t, a.OpenChannel)
	muxlinktest.TestRoundTrip(t, a.OpenChannel)
}

// TestTCPToChannel covers the client-side bridge: local TCP connections
// are carried over channels to the peer.
func TestTCPToChannel(t *testing.T) {
	a, _ := muxlinktest.NewPair(t,
		muxlink.ConnConfig{},
		muxlink.ConnConfig{Handler: muxlinktest.EchoHandler},
	)
	b := NewStreamBalancer()
	require.NoError(t, b.AddBackend("peer", NewConnBackend(a)))

	fl, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fe := NewListenerFrontend(fl)
	t.Cleanup(func() {
		fe.Close()
	})
	go b.ServeFrontend(ctx, fe)

	conn, err := net.Dial("tcp", fl.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("bridged"))
	require.NoError(t, err)
	buf := make([]byte, 7)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "bridged", string(buf))
}

func newTCPEcho(t testing.TB) net.Listener {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
	})
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return l
}
