package muxlinkcmd

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.brendoncarroll.net/stdctx/logctx"
	"golang.org/x/sync/errgroup"

	"github.com/muxlink/muxlink/pkg/muxlb"
	"github.com/muxlink/muxlink/pkg/muxlink"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <listen-addr> <backend-spec>...",
		Short: "serves channels opened by muxlink peers to one or more backends",
		Args:  cobra.MinimumNArgs(2),
	}
	frontendSpec := flagFrontend(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		l, err := net.Listen("tcp", args[0])
		if err != nil {
			return err
		}
		defer l.Close()

		var handler muxlink.Handler
		var feChannels muxlb.StreamEndpoint
		if scheme, _, err := muxlb.ParseEndpoint(*frontendSpec); err == nil && scheme == "channel" {
			channels := muxlb.NewChannelFrontend(0)
			defer channels.Close()
			handler = channels.Handler()
			feChannels = channels
		}
		frontend, err := muxlb.MakeStreamFrontend(*frontendSpec, feChannels)
		if err != nil {
			return err
		}
		defer frontend.Close()

		bal := muxlb.NewStreamBalancer()

		// backends
		if len(args) == 2 && args[1] == "stdio" {
			bal.AddBackend("stdio", newRWBackend(cmd.InOrStdin(), cmd.OutOrStdout()))
		} else {
			for i := range args[1:] {
				e, err := muxlb.MakeStreamBackend(args[1+i], nil)
				if err != nil {
					return err
				}
				if err := bal.AddBackend(args[1+i], e); err != nil {
					return err
				}
			}
		}

		logctx.Infoln(ctx, l.Addr())
		eg, ctx := errgroup.WithContext(ctx)
		stop := context.AfterFunc(ctx, func() {
			frontend.Close()
		})
		defer stop()
		eg.Go(func() error {
			return muxlink.Serve(ctx, l, muxlink.ServerConfig{Handler: handler})
		})
		eg.Go(func() error {
			return bal.ServeFrontend(ctx, frontend)
		})
		return eg.Wait()
	}
	return cmd
}

func flagFrontend(cmd *cobra.Command) *string {
	return cmd.Flags().String("frontend", "channel://", "--frontend=tcp://127.0.0.1:9000")
}

type rwBackend struct {
	r io.Reader
	w io.Writer

	closeOnce sync.Once
	sem       chan struct{}
	closed    chan struct{}
}

func newRWBackend(r io.Reader, w io.Writer) *rwBackend {
	return &rwBackend{
		r:      r,
		w:      w,
		sem:    make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (b *rwBackend) Open(ctx context.Context) (net.Conn, error) {
	select {
	case <-b.closed:
		return nil, net.ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.closed:
		return nil, net.ErrClosed
	case b.sem <- struct{}{}:
		return &rwConn{
			r: b.r,
			w: b.w,
			close: func() error {
				<-b.sem
				return nil
			},
		}, nil
	}
}

func (b *rwBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
	return nil
}

type rwConn struct {
	r     io.Reader
	w     io.Writer
	close func() error
}

func (c *rwConn) Write(buf []byte) (int, error) {
	return c.w.Write(buf)
}

func (c *rwConn) Read(buf []byte) (int, error) {
	return c.r.Read(buf)
}

func (c *rwConn) LocalAddr() net.Addr {
	return rwAddr{}
}

func (c *rwConn) RemoteAddr() net.Addr {
	return rwAddr{}
}

func (c *rwConn) SetDeadline(d time.Time) error {
	return nil
}

func (c *rwConn) SetReadDeadline(d time.Time) error {
	return nil
}

func (c *rwConn) SetWriteDeadline(d time.Time) error {
	return nil
}

func (c *rwConn) Close() error {
	return c.close()
}

type rwAddr struct {
}

func (rwAddr) Network() string {
	return "stdio"
}

func (rwAddr) String() string {
	return "stdio"
}
