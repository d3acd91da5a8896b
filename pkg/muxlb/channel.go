package muxlb

import (
	"context"
	"net"

	"github.com/muxlink/muxlink/internal/netutil"
	"github.com/muxlink/muxlink/pkg/muxlink"
)

// DefaultChannelQueueLen bounds how many accepted channels can wait in a
// ChannelFrontend before new ones are dropped.
const DefaultChannelQueueLen = 16

// ChannelFrontend turns channels opened by the remote peer into a
// frontend endpoint. Install Handler on the connection; Open yields the
// channels in arrival order.
type ChannelFrontend struct {
	q   *netutil.Queue[net.Conn]
	ctx context.Context
	cf  context.CancelFunc
}

func NewChannelFrontend(maxQueued int) *ChannelFrontend {
	if maxQueued <= 0 {
		maxQueued = DefaultChannelQueueLen
	}
	ctx, cf := context.WithCancel(context.Background())
	return &ChannelFrontend{
		q:   netutil.NewQueue[net.Conn](maxQueued),
		ctx: ctx,
		cf:  cf,
	}
}

// Handler returns the channel handler to install on the connection.
// Channels arriving while the queue is full, or after Close, are closed.
func (f *ChannelFrontend) Handler() muxlink.Handler {
	return func(ch net.Conn) {
		if f.ctx.Err() != nil || !f.q.Deliver(ch) {
			ch.Close()
		}
	}
}

func (f *ChannelFrontend) Open(ctx context.Context) (net.Conn, error) {
	ctx, cf := context.WithCancel(ctx)
	defer cf()
	stop := context.AfterFunc(f.ctx, cf)
	defer stop()
	ch, err := f.q.Pop(ctx)
	if err != nil {
		if f.ctx.Err() != nil {
			return nil, net.ErrClosed
		}
		return nil, err
	}
	return ch, nil
}

func (f *ChannelFrontend) Close() error {
	f.cf()
	f.q.Purge(func(ch net.Conn) {
		ch.Close()
	})
	return nil
}

// NewConnBackend opens channels on an existing connection. Closing the
// endpoint does not close the connection.
func NewConnBackend(conn *muxlink.Conn) StreamEndpoint {
	return openerBackend{open: conn.OpenChannel}
}

// NewClientBackend opens channels through cl, which redials the peer as
// needed. Closing the endpoint does not close the client.
func NewClientBackend(cl *muxlink.Client) StreamEndpoint {
	return openerBackend{open: cl.Open}
}

type openerBackend struct {
	open func(ctx context.Context) (net.Conn, error)
}

func (b openerBackend) Open(ctx context.Context) (net.Conn, error) {
	return b.open(ctx)
}

func (b openerBackend) Close() error {
	return nil
}
