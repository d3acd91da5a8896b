package muxlb

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestAddRemoveBackend(t *testing.T) {
	b := NewStreamBalancer()
	require.NoError(t, b.AddBackend("x", errEndpoint{}))
	require.Error(t, b.AddBackend("x", errEndpoint{}))
	require.Error(t, b.RemoveBackend("y"))
	require.NoError(t, b.RemoveBackend("x"))
	require.Error(t, b.RemoveBackend("x"))
}

func TestPickLeastActive(t *testing.T) {
	b := NewStreamBalancer()
	require.NoError(t, b.AddBackend("x", errEndpoint{}))
	require.NoError(t, b.AddBackend("y", errEndpoint{}))
	b.backends["x"].active.Add(5)
	for i := 0; i < 10; i++ {
		e, err := b.pickBackend()
		require.NoError(t, err)
		require.Same(t, b.backends["y"], e)
	}
	b.backends["y"].active.Add(6)
	e, err := b.pickBackend()
	require.NoError(t, err)
	require.Same(t, b.backends["x"], e)
}

func TestPickNoBackends(t *testing.T) {
	b := NewStreamBalancer()
	_, err := b.pickBackend()
	require.Error(t, err)
}

func TestActiveCounts(t *testing.T) {
	b := NewStreamBalancer()
	require.NoError(t, b.AddBackend("x", errEndpoint{}))
	b.backends["x"].active.Add(3)
	require.Equal(t, map[string]int64{"x": 3}, b.GetActiveCounts())
}

type errEndpoint struct{}

func (errEndpoint) Open(ctx context.Context) (net.Conn, error) {
	return nil, errors.New("no connections here")
}

func (errEndpoint) Close() error {
	return nil
}
