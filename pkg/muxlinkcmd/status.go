package muxlinkcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muxlink/muxlink/pkg/muxlinkd"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "prints status of the daemon",
	}
	adminAddr := flagAdmin(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		client := muxlinkd.NewAdminClient(*adminAddr)
		res, err := client.GetStatus(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "MODE: %v\n", res.Mode)
		fmt.Fprintf(w, "UPTIME: %v\n", res.Uptime)
		if res.Client != nil {
			if res.Client.Connected {
				fmt.Fprintf(w, "PEER: %s since %v\n", res.Client.RemoteAddr, res.Client.ConnectedAt)
			} else {
				fmt.Fprintf(w, "PEER: disconnected after %d attempts (%s)\n", res.Client.DialAttempts, res.Client.LastError)
			}
		}
		fmt.Fprintf(w, "CONNS:\n")
		for _, c := range res.Conns {
			fmt.Fprintf(w, "\t%s\t%s\tchannels=%d\n", c.ID, c.RemoteAddr, c.Stats.ActiveChannels)
		}
		fmt.Fprintf(w, "ROUTES:\n")
		for _, r := range res.Routes {
			fmt.Fprintf(w, "\t%s\t%s -> %s\n", r.Name, r.Frontend, r.Backend)
			for k, count := range r.Active {
				fmt.Fprintf(w, "\t\t%s\tactive=%d\n", k, count)
			}
		}
		return nil
	}
	return cmd
}

func flagAdmin(cmd *cobra.Command) *string {
	return cmd.Flags().String("admin", muxlinkd.DefaultAdminEndpoint, "--admin=127.0.0.1:2661")
}
