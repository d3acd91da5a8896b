package muxlinkcmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muxlink/muxlink/pkg/muxlinkd"
)

func newCreateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-config [path]",
		Short: "creates a new default config and writes it to stdout, or to path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := muxlinkd.DefaultConfig()
			if len(args) > 0 {
				return muxlinkd.SaveConfig(c, args[0])
			}
			data, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			out.Write(data)
			return nil
		},
	}
}
