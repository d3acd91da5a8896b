package muxlinkcmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
)

var ctx = func() context.Context {
	ctx := context.Background()
	l, _ := zap.NewProduction()
	ctx = logctx.NewContext(ctx, l)
	return ctx
}()

func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "muxlink",
		Short: "muxlink: many logical streams over one connection",
	}
	c.AddCommand(newDaemonCmd())
	c.AddCommand(newCreateConfigCmd())
	c.AddCommand(newStatusCmd())

	c.AddCommand(newServeCmd())
	c.AddCommand(newNCCmd())
	c.AddCommand(newEchoCmd())

	return c
}
