package muxlb

import (
	"context"
	"net"
	"net/netip"
)

// NewTCPBackend creates a StreamEndpoint which dials raddr over tcp to open new connections.
func NewTCPBackend(raddr netip.AddrPort) StreamEndpoint {
	return &netDialEndpoint{
		network: "tcp",
		target:  raddr.String(),
	}
}

// NewUNIXBackend creates a StreamEndpoint which dials the unix stream socket at p to open new connections.
func NewUNIXBackend(p string) StreamEndpoint {
	return &netDialEndpoint{
		network: "unix",
		target:  p,
	}
}

// netDialEndpoint implements StreamEndpoint
type netDialEndpoint struct {
	network string
	target  string
	dialer  net.Dialer
}

func (e *netDialEndpoint) Open(ctx context.Context) (net.Conn, error) {
	return e.dialer.DialContext(ctx, e.network, e.target)
}

func (e *netDialEndpoint) Close() error {
	return nil
}

// NewTCPFrontend creates a StreamEndpoint which accepts connections on a tcp listener bound to ap.
func NewTCPFrontend(ap netip.AddrPort) (StreamEndpoint, error) {
	l, err := net.Listen("tcp", ap.String())
	if err != nil {
		return nil, err
	}
	return netListenEndpoint{l: l}, nil
}

// NewUNIXFrontend creates a StreamEndpoint which accepts connections on a unix stream socket at p.
func NewUNIXFrontend(p string) (StreamEndpoint, error) {
	l, err := net.Listen("unix", p)
	if err != nil {
		return nil, err
	}
	return netListenEndpoint{l: l}, nil
}

// NewListenerFrontend wraps an existing listener.
func NewListenerFrontend(l net.Listener) StreamEndpoint {
	return netListenEndpoint{l: l}
}

var _ StreamEndpoint = netListenEndpoint{}

type netListenEndpoint struct {
	l net.Listener
}

func (e netListenEndpoint) Open(ctx context.Context) (net.Conn, error) {
	return e.l.Accept()
}

func (e netListenEndpoint) Close() error {
	return e.l.Close()
}
