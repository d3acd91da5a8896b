package muxlink

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.brendoncarroll.net/stdctx/logctx"
	"golang.org/x/sync/errgroup"

	"github.com/muxlink/muxlink/internal/netutil"
)

// ErrClientClosed is returned by Open after the client has been closed.
var ErrClientClosed = errors.New("muxlink: client closed")

// Dialer produces transport connections for a Client.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (net.Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (net.Conn, error) {
	return f(ctx)
}

// DialTCP returns a Dialer for addr. If tlsConfig is non-nil the
// connection is wrapped in TLS and the handshake completes before the
// dial returns.
func DialTCP(addr string, tlsConfig *tls.Config) Dialer {
	return DialerFunc(func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if tlsConfig == nil {
			return conn, nil
		}
		tconn := tls.Client(conn, tlsConfig)
		if err := tconn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tconn, nil
	})
}

// ClientConfig configures a Client. The zero value refuses peer-initiated
// channels and uses the default intervals.
type ClientConfig struct {
	// Handler receives the application end of channels the server opens.
	// nil refuses them.
	Handler Handler
	// Background is the base context for the client's goroutines.
	Background context.Context
	// Clock drives keepalives and reconnect delays.
	Clock clock.Clock
	// KeepaliveInterval defaults to DefaultKeepaliveInterval.
	KeepaliveInterval time.Duration
	// ReconnectInterval is the delay between failed dial attempts.
	// Defaults to DefaultReconnectInterval.
	ReconnectInterval time.Duration
	// NewPair defaults to sockpair.New.
	NewPair PairFunc
}

// clientEpoch is one connection attempt's lifetime. next is closed when
// the epoch is superseded.
type clientEpoch struct {
	conn *Conn
	next chan struct{}
}

// Client keeps one Conn alive against a Dialer, redialing whenever the
// connection drops. A dropped connection is redialed immediately; failed
// dial attempts are spaced by the reconnect interval.
type Client struct {
	dialer Dialer
	cfg    ClientConfig

	ctx context.Context
	cf  context.CancelFunc
	eg  errgroup.Group

	dialAttempts uint64
	dialFailures uint64

	mu      sync.Mutex
	epoch   *clientEpoch
	lastErr error
}

// NewClient starts the client's connect loop.
func NewClient(d Dialer, cfg ClientConfig) *Client {
	if cfg.Background == nil {
		cfg.Background = context.Background()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	ctx, cf := context.WithCancel(cfg.Background)
	c := &Client{
		dialer: d,
		cfg:    cfg,
		ctx:    ctx,
		cf:     cf,
		epoch:  &clientEpoch{next: make(chan struct{})},
	}
	c.eg.Go(func() error {
		return c.run(ctx)
	})
	return c
}

func (c *Client) run(ctx context.Context) error {
	defer c.advance(&clientEpoch{next: make(chan struct{})})
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			return nil
		}
		c.advance(&clientEpoch{conn: conn, next: make(chan struct{})})
		select {
		case <-ctx.Done():
			conn.Close()
			return nil
		case <-conn.Done():
			logctx.Warnf(ctx, "muxlink: connection lost: %v", conn.Err())
			c.setLastErr(conn.Err())
			c.advance(&clientEpoch{next: make(chan struct{})})
		}
	}
}

// connect dials until it has a live Conn or ctx ends.
func (c *Client) connect(ctx context.Context) (*Conn, error) {
	cfg := c.cfg
	var conn *Conn
	err := netutil.Retry(ctx, func() error {
		atomic.AddUint64(&c.dialAttempts, 1)
		transport, err := c.dialer.Dial(ctx)
		if err != nil {
			atomic.AddUint64(&c.dialFailures, 1)
			c.setLastErr(err)
			logctx.Warnf(ctx, "muxlink: dialing: %v", err)
			return err
		}
		logctx.Infof(ctx, "muxlink: connected to %v", remoteAddrString(transport))
		conn = NewConn(transport, ConnConfig{
			Handler:           cfg.Handler,
			Background:        cfg.Background,
			Clock:             cfg.Clock,
			KeepaliveInterval: cfg.KeepaliveInterval,
			NewPair:           cfg.NewPair,
		})
		c.setLastErr(nil)
		return nil
	}, netutil.WithPulseTrain(netutil.NewFixedDelay(cfg.Clock, cfg.ReconnectInterval)))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) advance(next *clientEpoch) {
	c.mu.Lock()
	prev := c.epoch
	c.epoch = next
	c.mu.Unlock()
	close(prev.next)
}

func (c *Client) currentEpoch() *clientEpoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Client) setLastErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
}

// Open opens a channel on the current connection, waiting for one to come
// up if necessary.
func (c *Client) Open(ctx context.Context) (net.Conn, error) {
	for {
		ep := c.currentEpoch()
		if ep.conn != nil {
			ch, err := ep.conn.OpenChannel(ctx)
			if err == nil {
				return ch, nil
			}
			if !errors.Is(err, ErrConnClosed) {
				return nil, err
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.ctx.Done():
			return nil, ErrClientClosed
		case <-ep.next:
		}
	}
}

// Close stops the connect loop and closes the current connection.
func (c *Client) Close() error {
	c.cf()
	c.eg.Wait()
	return nil
}

// ClientStatus describes a Client's current connection.
type ClientStatus struct {
	Connected    bool       `json:"connected"`
	ConnID       string     `json:"conn_id,omitempty"`
	RemoteAddr   string     `json:"remote_addr,omitempty"`
	ConnectedAt  *time.Time `json:"connected_at,omitempty"`
	DialAttempts uint64     `json:"dial_attempts"`
	DialFailures uint64     `json:"dial_failures"`
	LastError    string     `json:"last_error,omitempty"`
	Stats        *ConnStats `json:"stats,omitempty"`
}

// Status reports whether the client is connected and the connection's
// counters.
func (c *Client) Status() ClientStatus {
	ret := ClientStatus{
		DialAttempts: atomic.LoadUint64(&c.dialAttempts),
		DialFailures: atomic.LoadUint64(&c.dialFailures),
	}
	c.mu.Lock()
	conn := c.epoch.conn
	if c.lastErr != nil {
		ret.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()
	if conn == nil {
		return ret
	}
	connectedAt := conn.StartedAt().GoTime()
	stats := conn.Stats()
	ret.Connected = true
	ret.ConnID = conn.ID().String()
	ret.RemoteAddr = remoteAddrString(conn.transport)
	ret.ConnectedAt = &connectedAt
	ret.Stats = &stats
	return ret
}
