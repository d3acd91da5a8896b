package muxlinkcmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/muxlink/muxlink/pkg/muxlb"
	"github.com/muxlink/muxlink/pkg/muxlink"
)

func newNCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nc <addr>",
		Short: "opens a channel to a muxlink server and connects it to stdin/stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, err := muxlink.DialTCP(args[0], nil).Dial(ctx)
			if err != nil {
				return err
			}
			conn := muxlink.NewConn(transport, muxlink.ConnConfig{Background: ctx})
			defer conn.Close()
			ch, err := conn.OpenChannel(ctx)
			if err != nil {
				return err
			}
			defer ch.Close()
			pair := rwPair{
				Reader: cmd.InOrStdin(),
				Writer: cmd.OutOrStdout(),
			}
			return muxlb.PlumbRWC(pair, ch)
		},
	}
}

type rwPair struct {
	io.Reader
	io.Writer
}

func (p rwPair) Close() error {
	if c, ok := p.Reader.(io.Closer); ok {
		c.Close()
	}
	if c, ok := p.Writer.(io.Closer); ok {
		c.Close()
	}
	return nil
}
