// Package muxlb plumbs streams between endpoints: listeners and dialers
// on the local network on one side, multiplexed channels to a remote peer
// on the other.
package muxlb

import (
	"context"
	"io"
	"net"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/muxlink/muxlink/pkg/sockpair"
)

// StreamEndpoint is a source of stream connections. The connections can
// be incoming (a listener, accepted channels) or outgoing (a dialer, a
// channel opener).
type StreamEndpoint interface {
	Open(ctx context.Context) (net.Conn, error)
	Close() error
}

// MakeStreamFrontend builds the frontend endpoint described by spec.
// channels serves the "channel" scheme and may be nil when no connection
// is configured.
func MakeStreamFrontend(spec string, channels StreamEndpoint) (StreamEndpoint, error) {
	scheme, rest, err := ParseEndpoint(spec)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "channel":
		if rest != "" {
			return nil, errors.Errorf("channel endpoints take no target, have %q", rest)
		}
		if channels == nil {
			return nil, errors.New("channel frontend requires a connection")
		}
		return channels, nil
	case "tcp":
		ap, err := netip.ParseAddrPort(rest)
		if err != nil {
			return nil, err
		}
		return NewTCPFrontend(ap)
	case "unix":
		return NewUNIXFrontend(rest)
	default:
		return nil, errors.Errorf("unrecognized frontend protocol %q", scheme)
	}
}

// MakeStreamBackend builds the backend endpoint described by spec.
// channels serves the "channel" scheme and may be nil when no connection
// is configured.
func MakeStreamBackend(spec string, channels StreamEndpoint) (StreamEndpoint, error) {
	scheme, rest, err := ParseEndpoint(spec)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "channel":
		if rest != "" {
			return nil, errors.Errorf("channel endpoints take no target, have %q", rest)
		}
		if channels == nil {
			return nil, errors.New("channel backend requires a connection")
		}
		return channels, nil
	case "tcp":
		ap, err := netip.ParseAddrPort(rest)
		if err != nil {
			return nil, err
		}
		return NewTCPBackend(ap), nil
	case "unix":
		return NewUNIXBackend(rest), nil
	default:
		return nil, errors.Errorf("unrecognized backend protocol %q", scheme)
	}
}

// ParseEndpoint splits an endpoint spec into a scheme and a target, e.g.
// "tcp://127.0.0.1:8080" into ("tcp", "127.0.0.1:8080").
func ParseEndpoint(x string) (scheme, target string, _ error) {
	parts := strings.SplitN(x, "://", 2)
	if len(parts) < 2 {
		parts = strings.SplitN(x, ":", 2)
	}
	if len(parts) < 2 {
		return "", "", errors.Errorf("invalid endpoint: %q", x)
	}
	return parts[0], parts[1], nil
}

// PlumbRWC copies in both directions between a and b until one side ends,
// then closes both.
func PlumbRWC(a, b io.ReadWriteCloser) error {
	eg := errgroup.Group{}
	eg.Go(func() error {
		defer a.Close()
		_, err := io.Copy(a, b)
		if sockpair.IsClosed(err) {
			err = nil
		}
		return err
	})
	eg.Go(func() error {
		defer b.Close()
		_, err := io.Copy(b, a)
		if sockpair.IsClosed(err) {
			err = nil
		}
		return err
	})
	return eg.Wait()
}
