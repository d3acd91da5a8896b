package muxlinkcmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.brendoncarroll.net/stdctx/logctx"

	"github.com/muxlink/muxlink/pkg/muxlinkd"
)

func newDaemonCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Runs the muxlink daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return errors.New("must provide config path")
			}
			config, err := muxlinkd.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logctx.Infof(ctx, "using config from path: %v", configPath)
			params, err := muxlinkd.MakeParams(configPath, *config)
			if err != nil {
				return err
			}
			d := muxlinkd.New(*params)
			return d.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "--config=./path/to/config.yaml")
	return cmd
}
