package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/mdns"
)

func newDiscoverCommand(c *cli) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for receivers announced over mDNS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.logger.Debug("browsing", logging.F("service", mdns.ServiceType), logging.F("timeout", timeout))
			hosts, err := mdns.Discover(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, "no receivers found")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTANCE\tHOST\tADDRESS\tPORT\tTXT")
			for _, h := range hosts {
				addrs := make([]string, 0, len(h.Addresses))
				for _, a := range h.Addresses {
					addrs = append(addrs, a.String())
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", h.Instance, h.Hostname,
					strings.Join(addrs, ","), h.Port, strings.Join(h.TXT, " "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to browse")
	return cmd
}
