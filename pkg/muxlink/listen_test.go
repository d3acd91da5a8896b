package muxlink

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(ServerConfig{Handler: echoHandler})
	sctx, cancel := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(sctx, l)
	}()

	client := NewClient(DialTCP(l.Addr().String(), nil), ClientConfig{})
	t.Cleanup(func() {
		client.Close()
	})
	ch, err := client.Open(ctx)
	require.NoError(t, err)
	_, err = ch.Write([]byte("over tcp"))
	require.NoError(t, err)
	buf := make([]byte, 8)
	_, err = io.ReadFull(ch, buf)
	require.NoError(t, err)
	require.Equal(t, "over tcp", string(buf))

	require.Eventually(t, func() bool {
		return len(srv.Status()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-served, context.Canceled)
	require.Eventually(t, func() bool {
		return len(srv.Status()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServeMultipleClients(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(ServerConfig{Handler: echoHandler})
	sctx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go srv.Serve(sctx, l)

	for i := 0; i < 3; i++ {
		client := NewClient(DialTCP(l.Addr().String(), nil), ClientConfig{})
		t.Cleanup(func() {
			client.Close()
		})
		ch, err := client.Open(ctx)
		require.NoError(t, err)
		msg := []byte{byte(i)}
		_, err = ch.Write(msg)
		require.NoError(t, err)
		buf := make([]byte, 1)
		_, err = io.ReadFull(ch, buf)
		require.NoError(t, err)
		require.Equal(t, msg, buf)
		require.NoError(t, ch.Close())
	}
	require.Eventually(t, func() bool {
		return len(srv.Status()) == 3
	}, time.Second, 10*time.Millisecond)
}
