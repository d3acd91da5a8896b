package muxlink

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.brendoncarroll.net/p2p"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.brendoncarroll.net/tai64"
	"golang.org/x/sync/errgroup"

	"github.com/muxlink/muxlink/pkg/sockpair"
)

// PairFunc allocates the socket pair backing one channel.
// The engine pumps the first endpoint; the second goes to the application.
type PairFunc = func() (engine net.Conn, app net.Conn, err error)

func defaultNewPair() (net.Conn, net.Conn, error) {
	a, b, err := sockpair.New()
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// ConnConfig configures a Conn. The zero value refuses peer-initiated
// channels and uses the default keepalive and the OS socket pair.
type ConnConfig struct {
	// Handler is invoked on its own goroutine with the application end of
	// every channel the peer opens. A nil Handler refuses those channels.
	Handler Handler
	// Background is the base context for the engine's goroutines; it
	// supplies the logger. Defaults to context.Background().
	Background context.Context
	// Clock drives the keepalive cadence. Defaults to the real clock.
	Clock clock.Clock
	// KeepaliveInterval defaults to DefaultKeepaliveInterval.
	KeepaliveInterval time.Duration
	// NewPair defaults to sockpair.New.
	NewPair PairFunc
}

// Conn multiplexes channels over a single transport connection.
// Both peers may open channels at any time; neither side is distinguished
// once the transport exists.
type Conn struct {
	transport net.Conn
	handler   Handler
	clock     clock.Clock
	keepalive time.Duration
	newPair   PairFunc
	id        xid.ID
	startedAt tai64.TAI64N

	ctx context.Context
	cf  context.CancelFunc
	eg  errgroup.Group

	// wire locks; a frame is written or read in one critical section
	writeMu sync.Mutex
	readMu  sync.Mutex
	br      *bufio.Reader

	// serializes peer-initiated channel setup
	openMu sync.Mutex

	table *channelTable

	mu     sync.Mutex
	socks  map[uint64]net.Conn // engine ends by local id
	closed bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	bytes, packets                       meterSet
	opened, accepted, refused, discarded uint64
}

// NewConn starts the engine on transport. The Conn owns transport and
// closes it on shutdown.
func NewConn(transport net.Conn, cfg ConnConfig) *Conn {
	bgCtx := cfg.Background
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	keepalive := cfg.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	newPair := cfg.NewPair
	if newPair == nil {
		newPair = defaultNewPair
	}
	ctx, cf := context.WithCancel(bgCtx)
	c := &Conn{
		transport: transport,
		handler:   cfg.Handler,
		clock:     clk,
		keepalive: keepalive,
		newPair:   newPair,
		id:        xid.New(),
		startedAt: tai64.Now(),

		ctx: ctx,
		cf:  cf,

		br:    bufio.NewReaderSize(transport, 1<<16),
		table: newChannelTable(),
		socks: make(map[uint64]net.Conn),
		done:  make(chan struct{}),
	}
	logctx.Debugf(ctx, "muxlink: connection %v started peer=%v", c.id, remoteAddrString(transport))
	c.eg.Go(func() error {
		return c.runLoop(ctx, c.recvLoop)
	})
	c.eg.Go(func() error {
		return c.runLoop(ctx, c.keepAliveLoop)
	})
	// Cancelling Background shuts the connection down; the read loop only
	// unblocks when the transport closes.
	c.eg.Go(func() error {
		<-ctx.Done()
		c.shutdown(nil)
		return nil
	})
	return c
}

func (c *Conn) runLoop(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if err != nil {
		c.shutdown(err)
	}
	return err
}

// OpenChannel opens a new channel to the peer and returns the application
// end, usable immediately; bytes written before the peer answers are
// buffered by the channel's socket pair.
func (c *Conn) OpenChannel(ctx context.Context) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, ErrConnClosed
	}
	engineEnd, appEnd, err := c.newPair()
	if err != nil {
		return nil, errors.Wrap(err, "creating channel pair")
	}
	local := c.table.allocate()
	if !c.registerSock(local, engineEnd) {
		engineEnd.Close()
		appEnd.Close()
		return nil, ErrConnClosed
	}
	// The pending entry and the open request must agree in order across
	// concurrent opens, so both happen under the write lock.
	c.writeMu.Lock()
	c.table.pushPending(local)
	err = c.writeFrameLocked(MakeHeader(PT_OpenRequest, local, 0), nil)
	c.writeMu.Unlock()
	if err != nil {
		c.table.removePending(local)
		c.closeChannel(local)
		appEnd.Close()
		err = errors.Wrap(err, "sending open request")
		c.shutdown(err)
		return nil, err
	}
	atomic.AddUint64(&c.opened, 1)
	logctx.Debugf(c.ctx, "muxlink: opened channel %d", local)
	go c.runProxy(c.ctx, local, engineEnd)
	return appEnd, nil
}

// Close shuts the connection down: every channel endpoint is closed, the
// channel set is cleared, and the transport is closed. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.shutdown(nil)
	c.eg.Wait()
	return nil
}

// Done is closed once the connection has shut down for any reason.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns what ended the connection. It is nil until Done is closed,
// and nil after a clean local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// ID identifies this connection in logs and status output.
func (c *Conn) ID() xid.ID {
	return c.id
}

// StartedAt is when this connection was constructed.
func (c *Conn) StartedAt() tai64.TAI64N {
	return c.startedAt
}

// RemoteAddr reports the transport's peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.transport.RemoteAddr()
}

// Stats snapshots the connection's counters.
func (c *Conn) Stats() ConnStats {
	txBytes, rxBytes := c.bytes.Get(PT_Data)
	txPings, rxPings := c.packets.Get(PT_Ping)
	var txPackets, rxPackets uint64
	for _, pt := range []PacketType{PT_Data, PT_OpenRequest, PT_Ping, PT_Refused} {
		tx, rx := c.packets.Get(pt)
		txPackets += tx
		rxPackets += rx
	}
	_, pending := c.table.counts()
	c.mu.Lock()
	active := len(c.socks)
	c.mu.Unlock()
	return ConnStats{
		TxBytes:          txBytes,
		RxBytes:          rxBytes,
		TxPackets:        txPackets,
		RxPackets:        rxPackets,
		TxPings:          txPings,
		RxPings:          rxPings,
		Discarded:        atomic.LoadUint64(&c.discarded),
		ChannelsOpened:   atomic.LoadUint64(&c.opened),
		ChannelsAccepted: atomic.LoadUint64(&c.accepted),
		ChannelsRefused:  atomic.LoadUint64(&c.refused),
		ActiveChannels:   active,
		PendingOpens:     pending,
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) registerSock(local uint64, sock net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.socks[local] = sock
	return true
}

// closeChannel tears down one channel's engine end. The correlation entry,
// if any, stays: the protocol has no close packet, so forgetting the
// peer's id would make its later frames adopt a fresh pending channel.
func (c *Conn) closeChannel(local uint64) {
	c.mu.Lock()
	sock := c.socks[local]
	delete(c.socks, local)
	c.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = cause
		socks := c.socks
		c.socks = make(map[uint64]net.Conn)
		c.mu.Unlock()
		for _, sock := range socks {
			sock.Close()
		}
		c.transport.Close()
		c.cf()
		if cause != nil {
			logctx.Errorf(c.ctx, "muxlink: connection %v closed: %v", c.id, cause)
		} else {
			logctx.Debugf(c.ctx, "muxlink: connection %v closed", c.id)
		}
		close(c.done)
	})
}

// writeFrame writes one frame under the write lock. All wire write
// failures are fatal for the connection; callers shut down with the error.
func (c *Conn) writeFrame(h Header, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeFrameLocked(h, payload)
}

func (c *Conn) writeFrameLocked(h Header, payload []byte) error {
	v := p2p.IOVec{
		h[:],
		payload,
	}
	n, err := v.WriteTo(c.transport)
	if err != nil {
		return err
	}
	if n != int64(HeaderLen+len(payload)) {
		return io.ErrShortWrite
	}
	c.packets.Tx(h.GetType(), 1)
	if h.GetType() == PT_Data {
		c.bytes.Tx(PT_Data, len(payload))
	}
	return nil
}

// readFrame reads one frame, header and payload, in a single hold of the
// read lock. The returned payload aliases buf.
func (c *Conn) readFrame(hdr *Header, buf []byte) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return nil, err
	}
	l := hdr.GetLength()
	if l > MaxPayloadLen {
		return nil, errors.Errorf("payload length %d exceeds limit %d", l, MaxPayloadLen)
	}
	if l == 0 {
		return nil, nil
	}
	if _, err := io.ReadFull(c.br, buf[:int(l)]); err != nil {
		return nil, err
	}
	return buf[:int(l)], nil
}

func (c *Conn) recvLoop(ctx context.Context) error {
	var hdr Header
	buf := make([]byte, MaxPayloadLen)
	for {
		payload, err := c.readFrame(&hdr, buf)
		if err != nil {
			if c.isClosed() {
				return nil
			}
			return errors.Wrap(err, "reading frame")
		}
		c.packets.Rx(hdr.GetType(), 1)
		switch hdr.GetType() {
		case PT_Data:
			c.bytes.Rx(PT_Data, len(payload))
			c.handleData(ctx, hdr.GetChannel(), payload)
		case PT_OpenRequest:
			if err := c.handleOpenRequest(ctx, hdr.GetChannel()); err != nil {
				return err
			}
		case PT_Ping:
			logctx.Debugf(ctx, "muxlink: ping from peer")
		case PT_Refused:
			c.handleRefused(ctx, hdr.GetChannel())
		default:
			logctx.Debugf(ctx, "muxlink: ignoring packet type %v", hdr.GetType())
		}
	}
}

// handleData routes one data payload to its channel. The first payload
// from an unknown sender id completes the oldest pending local open.
func (c *Conn) handleData(ctx context.Context, remoteID uint64, payload []byte) {
	local, ok := c.table.lookupInverse(remoteID)
	if !ok {
		local, ok = c.table.adoptPending(remoteID)
		if !ok {
			atomic.AddUint64(&c.discarded, 1)
			logctx.Warnf(ctx, "muxlink: discarding %d bytes for unknown channel %d", len(payload), remoteID)
			return
		}
		logctx.Debugf(ctx, "muxlink: correlated channel local=%d remote=%d", local, remoteID)
	}
	c.mu.Lock()
	sock := c.socks[local]
	c.mu.Unlock()
	if sock == nil {
		atomic.AddUint64(&c.discarded, 1)
		logctx.Debugf(ctx, "muxlink: discarding %d bytes for closed channel %d", len(payload), local)
		return
	}
	if _, err := sock.Write(payload); err != nil {
		logctx.Infof(ctx, "muxlink: channel %d endpoint: %v; closing channel", local, err)
		c.closeChannel(local)
	}
}

// handleOpenRequest sets up a channel the peer asked for. Setup is
// serialized; a failure to allocate the socket pair refuses the request
// and leaves the connection up.
func (c *Conn) handleOpenRequest(ctx context.Context, remoteID uint64) error {
	c.openMu.Lock()
	defer c.openMu.Unlock()
	refuse := func(why string) error {
		atomic.AddUint64(&c.refused, 1)
		logctx.Warnf(ctx, "muxlink: refusing channel for remote id %d: %s", remoteID, why)
		if err := c.writeFrame(MakeHeader(PT_Refused, remoteID, 0), nil); err != nil {
			return errors.Wrap(err, "sending refusal")
		}
		return nil
	}
	if c.handler == nil {
		return refuse("no channel handler")
	}
	engineEnd, appEnd, err := c.newPair()
	if err != nil {
		return refuse(err.Error())
	}
	local := c.table.allocate()
	if err := c.table.correlate(local, remoteID); err != nil {
		engineEnd.Close()
		appEnd.Close()
		return refuse(err.Error())
	}
	if !c.registerSock(local, engineEnd) {
		c.table.drop(local)
		engineEnd.Close()
		appEnd.Close()
		return nil
	}
	atomic.AddUint64(&c.accepted, 1)
	logctx.Debugf(ctx, "muxlink: accepted channel local=%d remote=%d", local, remoteID)
	go c.runProxy(c.ctx, local, engineEnd)
	go c.handler(appEnd)
	return nil
}

// handleRefused reacts to the peer refusing one of our open requests.
// The carried id is our own.
func (c *Conn) handleRefused(ctx context.Context, localID uint64) {
	logctx.Warnf(ctx, "muxlink: peer refused channel %d", localID)
	c.table.removePending(localID)
	c.table.drop(localID)
	c.closeChannel(localID)
}

// runProxy pumps bytes from one channel's engine end onto the wire. EOF or
// an endpoint error ends just this channel; a wire error ends the
// connection.
func (c *Conn) runProxy(ctx context.Context, local uint64, engineEnd net.Conn) {
	buf := make([]byte, ChunkSize)
	for {
		n, err := engineEnd.Read(buf)
		if n > 0 {
			if werr := c.writeFrame(MakeHeader(PT_Data, local, n), buf[:n]); werr != nil {
				c.shutdown(errors.Wrap(werr, "writing channel data"))
				return
			}
		}
		if err != nil {
			c.closeChannel(local)
			if errors.Is(err, io.EOF) || sockpair.IsClosed(err) {
				logctx.Debugf(ctx, "muxlink: channel %d closed", local)
			} else {
				logctx.Infof(ctx, "muxlink: channel %d closed: %v", local, err)
			}
			return
		}
	}
}

// keepAliveLoop pings the peer on channel 0, once at startup and then at
// every interval. A failed ping is treated as transport loss.
func (c *Conn) keepAliveLoop(ctx context.Context) error {
	ticker := c.clock.Ticker(c.keepalive)
	defer ticker.Stop()
	for {
		if err := c.writeFrame(MakeHeader(PT_Ping, PingChannel, 0), nil); err != nil {
			if c.isClosed() {
				return nil
			}
			return errors.Wrap(err, "sending keepalive")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func remoteAddrString(x net.Conn) string {
	if addr := x.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
