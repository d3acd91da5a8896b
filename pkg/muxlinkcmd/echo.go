package muxlinkcmd

import (
	"io"
	"net"

	"github.com/spf13/cobra"
	"go.brendoncarroll.net/stdctx/logctx"

	"github.com/muxlink/muxlink/pkg/muxlink"
)

func newEchoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "echo <listen-addr>",
		Short: "echo starts a server which echos every channel back to the peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := net.Listen("tcp", args[0])
			if err != nil {
				return err
			}
			defer l.Close()
			logctx.Infoln(ctx, l.Addr())
			return muxlink.Serve(ctx, l, muxlink.ServerConfig{
				Handler: func(ch net.Conn) {
					defer ch.Close()
					n, err := io.Copy(ch, ch)
					if err != nil {
						logctx.Errorln(ctx, err)
						return
					}
					logctx.Infof(ctx, "echoed %d bytes", n)
				},
			})
		},
	}
}
