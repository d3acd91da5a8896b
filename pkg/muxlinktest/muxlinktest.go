// Package muxlinktest contains helpers for testing channel multiplexing
// components.
package muxlinktest

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"github.com/muxlink/muxlink/pkg/muxlink"
)

func Context(t testing.TB) context.Context {
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	ctx := context.Background()
	ctx = logctx.NewContext(ctx, l)
	return ctx
}

// EchoHandler copies everything received on a channel back to its peer.
func EchoHandler(ch net.Conn) {
	defer ch.Close()
	io.Copy(ch, ch)
}

// NewPair returns two engines joined by an in-memory transport.
func NewPair(t testing.TB, aCfg, bCfg muxlink.ConnConfig) (*muxlink.Conn, *muxlink.Conn) {
	ctx := Context(t)
	if aCfg.Background == nil {
		aCfg.Background = ctx
	}
	if bCfg.Background == nil {
		bCfg.Background = ctx
	}
	ta, tb := net.Pipe()
	a := muxlink.NewConn(ta, aCfg)
	b := muxlink.NewConn(tb, bCfg)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// TestRoundTrip opens a stream with open, writes through it, and checks
// that the far side echoes the bytes back.
func TestRoundTrip(t testing.TB, open func(ctx context.Context) (net.Conn, error)) {
	ctx, cf := context.WithTimeout(Context(t), 2*time.Second)
	defer cf()
	ch, err := open(ctx)
	require.NoError(t, err)
	defer ch.Close()
	sent := []byte("test data")
	_, err = ch.Write(sent)
	require.NoError(t, err)
	buf := make([]byte, len(sent))
	_, err = io.ReadFull(ch, buf)
	require.NoError(t, err)
	require.Equal(t, sent, buf)
}
