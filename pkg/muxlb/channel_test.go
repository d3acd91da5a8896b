package muxlb

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muxlink/muxlink/pkg/muxlink"
	"github.com/muxlink/muxlink/pkg/muxlinktest"
)

var ctx = context.Background()

func TestChannelFrontend(t *testing.T) {
	fe := NewChannelFrontend(0)
	t.Cleanup(func() {
		fe.Close()
	})
	a, _ := muxlinktest.NewPair(t,
		muxlink.ConnConfig{},
		muxlink.ConnConfig{Handler: fe.Handler()},
	)
	ch, err := a.OpenChannel(ctx)
	require.NoError(t, err)
	_, err = ch.Write([]byte("x"))
	require.NoError(t, err)

	got, err := fe.Open(ctx)
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = io.ReadFull(got, buf)
	require.NoError(t, err)
	require.Equal(t, byte('x'), buf[0])

	_, err = got.Write([]byte("y"))
	require.NoError(t, err)
	_, err = io.ReadFull(ch, buf)
	require.NoError(t, err)
	require.Equal(t, byte('y'), buf[0])
}

func TestChannelFrontendCloseUnblocksOpen(t *testing.T) {
	fe := NewChannelFrontend(0)
	errCh := make(chan error, 1)
	go func() {
		_, err := fe.Open(ctx)
		errCh <- err
	}()
	fe.Close()
	require.ErrorIs(t, <-errCh, net.ErrClosed)
}

func TestChannelFrontendQueueFull(t *testing.T) {
	fe := NewChannelFrontend(1)
	t.Cleanup(func() {
		fe.Close()
	})
	h := fe.Handler()
	q1a, q1b := net.Pipe()
	defer q1b.Close()
	h(q1a)
	q2a, q2b := net.Pipe()
	defer q2b.Close()
	h(q2a)

	// the overflowing channel was closed
	buf := make([]byte, 1)
	_, err := q2b.Read(buf)
	require.ErrorIs(t, err, io.EOF)

	// the queued one is still delivered
	got, err := fe.Open(ctx)
	require.NoError(t, err)
	require.Same(t, q1a, got)
}
