package muxlinkd

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.brendoncarroll.net/exp/slices2"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.brendoncarroll.net/tai64"
	"golang.org/x/sync/errgroup"

	"github.com/muxlink/muxlink/internal/netutil"
	"github.com/muxlink/muxlink/pkg/muxlb"
	"github.com/muxlink/muxlink/pkg/muxlink"
)

type ConnectParams struct {
	Addr      string
	TLS       *tls.Config
	Keepalive time.Duration
	Reconnect time.Duration
}

type ListenParams struct {
	Addr      string
	TLS       *tls.Config
	Keepalive time.Duration
}

type Params struct {
	// Exactly one of Connect or Listen is set.
	Connect *ConnectParams
	Listen  *ListenParams
	Routes  []RouteSpec

	AdminAddr       string
	ChannelQueueLen int
}

type Daemon struct {
	params Params

	setupDone chan struct{}
	startedAt tai64.TAI64N
	client    *muxlink.Client
	server    *muxlink.Server

	mu        sync.Mutex
	balancers map[string]*muxlb.StreamBalancer
}

func New(p Params) *Daemon {
	return &Daemon{
		params:    p,
		setupDone: make(chan struct{}),
		startedAt: tai64.Now(),
		balancers: make(map[string]*muxlb.StreamBalancer),
	}
}

// Run runs the daemon until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	// channels arriving from peers
	var chFrontend *muxlb.ChannelFrontend
	var handler muxlink.Handler
	for _, r := range d.params.Routes {
		if r.Frontend.Channel != nil {
			chFrontend = muxlb.NewChannelFrontend(d.params.ChannelQueueLen)
			defer chFrontend.Close()
			handler = chFrontend.Handler()
			break
		}
	}

	// transport
	var beChannels muxlb.StreamEndpoint
	switch {
	case d.params.Connect != nil:
		p := d.params.Connect
		client := muxlink.NewClient(muxlink.DialTCP(p.Addr, p.TLS), muxlink.ClientConfig{
			Handler:           handler,
			Background:        ctx,
			KeepaliveInterval: p.Keepalive,
			ReconnectInterval: p.Reconnect,
		})
		defer client.Close()
		d.client = client
		beChannels = muxlb.NewClientBackend(client)
		logctx.Infof(ctx, "muxlinkd: connecting to %v", p.Addr)
	case d.params.Listen != nil:
		p := d.params.Listen
		l, err := net.Listen("tcp", p.Addr)
		if err != nil {
			return err
		}
		defer l.Close()
		if p.TLS != nil {
			l = tls.NewListener(l, p.TLS)
		}
		srv := muxlink.NewServer(muxlink.ServerConfig{
			Handler:           handler,
			KeepaliveInterval: p.Keepalive,
		})
		d.server = srv
		logctx.Infof(ctx, "muxlinkd: listening for peers on %v", l.Addr())
		eg.Go(func() error {
			return srv.Serve(ctx, l)
		})
	default:
		return errors.Errorf("empty transport params")
	}
	close(d.setupDone)

	// admin API
	eg.Go(func() error {
		return d.runAdminServer(ctx, d.params.AdminAddr, d.newMetricsRegistry())
	})

	// routes
	sg := netutil.ServiceGroup{Background: ctx}
	defer sg.Stop()
	var feChannels muxlb.StreamEndpoint
	if chFrontend != nil {
		feChannels = chFrontend
	}
	for _, r := range d.params.Routes {
		r := r
		sg.Go(func(ctx context.Context) error {
			return d.runRoute(ctx, r, feChannels, beChannels)
		})
	}
	return eg.Wait()
}

// runRoute builds the route's endpoints and serves until ctx ends. The
// service group rebuilds a crashed route from scratch.
func (d *Daemon) runRoute(ctx context.Context, spec RouteSpec, feChannels, beChannels muxlb.StreamEndpoint) error {
	frontend, err := makeFrontend(spec.Frontend, feChannels)
	if err != nil {
		return err
	}
	defer frontend.Close()
	backend, err := makeBackend(spec.Backend, beChannels)
	if err != nil {
		return err
	}
	defer backend.Close()
	bal := muxlb.NewStreamBalancer()
	if err := bal.AddBackend(spec.Backend.String(), backend); err != nil {
		return err
	}
	d.setBalancer(spec.Name, bal)
	stop := context.AfterFunc(ctx, func() {
		frontend.Close()
	})
	defer stop()
	logctx.Infof(ctx, "muxlinkd: route %q: %v -> %v", spec.Name, spec.Frontend, spec.Backend)
	err = bal.ServeFrontend(ctx, frontend)
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

func makeFrontend(spec EndpointSpec, channels muxlb.StreamEndpoint) (muxlb.StreamEndpoint, error) {
	switch {
	case spec.TCP != nil:
		ap, err := netip.ParseAddrPort(string(*spec.TCP))
		if err != nil {
			return nil, err
		}
		return muxlb.NewTCPFrontend(ap)
	case spec.UNIX != nil:
		return muxlb.NewUNIXFrontend(string(*spec.UNIX))
	case spec.Channel != nil:
		if channels == nil {
			return nil, errors.Errorf("no transport to accept channels from")
		}
		// The channel frontend is shared and outlives route restarts.
		return nopCloseEndpoint{channels}, nil
	default:
		return nil, errors.Errorf("empty endpoint spec")
	}
}

func makeBackend(spec EndpointSpec, channels muxlb.StreamEndpoint) (muxlb.StreamEndpoint, error) {
	switch {
	case spec.TCP != nil:
		ap, err := netip.ParseAddrPort(string(*spec.TCP))
		if err != nil {
			return nil, err
		}
		return muxlb.NewTCPBackend(ap), nil
	case spec.UNIX != nil:
		return muxlb.NewUNIXBackend(string(*spec.UNIX)), nil
	case spec.Channel != nil:
		if channels == nil {
			return nil, errors.Errorf("no connect transport to open channels on")
		}
		return channels, nil
	default:
		return nil, errors.Errorf("empty endpoint spec")
	}
}

type nopCloseEndpoint struct {
	muxlb.StreamEndpoint
}

func (e nopCloseEndpoint) Close() error {
	return nil
}

func (d *Daemon) setBalancer(name string, bal *muxlb.StreamBalancer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balancers[name] = bal
}

// DaemonStatus is what the admin API reports.
type DaemonStatus struct {
	Mode      string                `json:"mode"`
	StartedAt time.Time             `json:"started_at"`
	Uptime    string                `json:"uptime"`
	Client    *muxlink.ClientStatus `json:"client,omitempty"`
	Conns     []muxlink.ConnStatus  `json:"conns,omitempty"`
	Routes    []RouteStatus         `json:"routes"`
}

type RouteStatus struct {
	Name     string           `json:"name"`
	Frontend string           `json:"frontend"`
	Backend  string           `json:"backend"`
	Active   map[string]int64 `json:"active,omitempty"`
}

// Status describes the daemon's transport and routes. It waits for setup
// to finish.
func (d *Daemon) Status(ctx context.Context) (*DaemonStatus, error) {
	select {
	case <-d.setupDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	startedAt := d.startedAt.GoTime()
	ret := &DaemonStatus{
		StartedAt: startedAt,
		Uptime:    time.Since(startedAt).Round(time.Second).String(),
	}
	switch {
	case d.client != nil:
		ret.Mode = "connect"
		st := d.client.Status()
		ret.Client = &st
	case d.server != nil:
		ret.Mode = "listen"
		ret.Conns = d.server.Status()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ret.Routes = slices2.Map(d.params.Routes, func(r RouteSpec) RouteStatus {
		rs := RouteStatus{
			Name:     r.Name,
			Frontend: r.Frontend.String(),
			Backend:  r.Backend.String(),
		}
		if bal := d.balancers[r.Name]; bal != nil {
			rs.Active = bal.GetActiveCounts()
		}
		return rs
	})
	return ret, nil
}

// connStatus lists live transport connections in either mode.
func (d *Daemon) connStatus() []muxlink.ConnStatus {
	switch {
	case d.client != nil:
		st := d.client.Status()
		if !st.Connected {
			return nil
		}
		return []muxlink.ConnStatus{{
			ID:         st.ConnID,
			RemoteAddr: st.RemoteAddr,
			StartedAt:  *st.ConnectedAt,
			Stats:      *st.Stats,
		}}
	case d.server != nil:
		return d.server.Status()
	}
	return nil
}
