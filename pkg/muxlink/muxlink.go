// Package muxlink multiplexes independent bidirectional byte streams
// ("channels") over one underlying transport connection.
//
// Either peer can open a channel at any time. Each peer numbers the
// channels it opens from its own counter, and the two id spaces are
// correlated per channel: frames on the wire carry the sender's id, and a
// locally-opened channel learns the peer's id from the first data frame it
// receives (open requests are answered in order, so the oldest
// still-unanswered local open is the one being answered).
//
// Each open channel is backed by a connected socket pair. The engine pumps
// one end; the application reads and writes the other end like any
// net.Conn.
package muxlink

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultKeepaliveInterval is how often a ping is written to an idle or
	// busy connection. A connection that cannot write a ping shuts down.
	DefaultKeepaliveInterval = 25 * time.Second
	// DefaultReconnectInterval is how long a Client waits after a failed
	// connection attempt.
	DefaultReconnectInterval = 10 * time.Second
	// ChunkSize is the largest payload a channel forwards in one data packet.
	ChunkSize = 1024
)

// Handler is called once for every channel the peer opens, with the
// application end of the channel. The handler owns ch and must close it.
type Handler = func(ch net.Conn)

// ErrConnClosed is returned by operations on a connection that has shut down.
var ErrConnClosed = errors.New("muxlink: connection closed")
