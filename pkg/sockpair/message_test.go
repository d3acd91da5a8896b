package sockpair

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte("x"), 4096),
	}
	for _, p := range payloads {
		require.NoError(t, SendFrame(&buf, p))
	}
	for _, want := range payloads {
		got, err := RecvFrame(&buf, 0)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestRecvFrameTooLong(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendFrame(&buf, bytes.Repeat([]byte("x"), 1024)))
	_, err := RecvFrame(&buf, 16)
	require.Error(t, err)
}

func TestFrameOverSocket(t *testing.T) {
	a, b := newPair(t)
	go func() {
		require.NoError(t, SendFrame(b, []byte("over the wire")))
	}()
	got, err := RecvFrame(a, 0)
	require.NoError(t, err)
	require.Equal(t, "over the wire", string(got))
}

func TestJSONRoundTrip(t *testing.T) {
	type msg struct {
		Kind string `json:"kind"`
		N    int    `json:"n"`
	}
	var buf bytes.Buffer
	require.NoError(t, SendJSON(&buf, msg{Kind: "ping", N: 1}))
	require.NoError(t, SendJSON(&buf, msg{Kind: "pong", N: 2}))

	br := bufio.NewReader(&buf)
	var m msg
	require.NoError(t, RecvJSON(br, &m))
	require.Equal(t, msg{Kind: "ping", N: 1}, m)
	require.NoError(t, RecvJSON(br, &m))
	require.Equal(t, msg{Kind: "pong", N: 2}, m)
}
