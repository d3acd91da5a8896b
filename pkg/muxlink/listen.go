package muxlink

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.brendoncarroll.net/stdctx/logctx"
)

// acceptRetryDelay spaces retries after a temporary accept error, like
// running out of file descriptors.
const acceptRetryDelay = time.Second

// ServerConfig configures a Server. Handler receives the application end
// of every channel any connected peer opens.
type ServerConfig struct {
	Handler           Handler
	Clock             clock.Clock
	KeepaliveInterval time.Duration
	NewPair           PairFunc
}

// Server runs a connection engine for every transport accepted from a
// listener.
type Server struct {
	cfg ServerConfig

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Server{
		cfg:   cfg,
		conns: make(map[*Conn]struct{}),
	}
}

// Serve accepts transports from l with cfg until Accept fails or ctx ends.
func Serve(ctx context.Context, l net.Listener, cfg ServerConfig) error {
	return NewServer(cfg).Serve(ctx, l)
}

// Serve accepts transports from l until Accept fails or ctx ends.
// Cancelling ctx closes l and shuts down every connection it accepted.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		l.Close()
	})
	defer stop()
	wg := sync.WaitGroup{}
	defer wg.Wait()
	for {
		transport, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				logctx.Warnf(ctx, "muxlink: accept error, retrying: %v", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-s.cfg.Clock.After(acceptRetryDelay):
				}
				continue
			}
			return err
		}
		logctx.Infof(ctx, "muxlink: accepted connection from %v", remoteAddrString(transport))
		conn := NewConn(transport, ConnConfig{
			Handler:           s.cfg.Handler,
			Background:        ctx,
			Clock:             s.cfg.Clock,
			KeepaliveInterval: s.cfg.KeepaliveInterval,
			NewPair:           s.cfg.NewPair,
		})
		s.track(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-conn.Done()
			s.untrack(conn)
		}()
	}
}

func (s *Server) track(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// ConnStatus describes one live connection.
type ConnStatus struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`
	Stats      ConnStats `json:"stats"`
}

// Status reports every connection the server currently has.
func (s *Server) Status() []ConnStatus {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	ret := make([]ConnStatus, 0, len(conns))
	for _, conn := range conns {
		ret = append(ret, ConnStatus{
			ID:         conn.ID().String(),
			RemoteAddr: remoteAddrString(conn.transport),
			StartedAt:  conn.StartedAt().GoTime(),
			Stats:      conn.Stats(),
		})
	}
	return ret
}
