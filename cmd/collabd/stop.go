package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/collab-daemon/collabd/internal/ipctransport"
	"github.com/collab-daemon/collabd/internal/wire"
)

func stopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop [dir]",
		Short: "Shut down the daemon attached to the given directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := dirArg(args)
			conn, err := ipctransport.Client(dir)
			if err != nil {
				return err
			}
			defer conn.Close()

			conn.Send <- wire.IpcShutdownRequest()
			select {
			case <-conn.Recv:
				fmt.Println("daemon stopped")
				return nil
			case <-time.After(5 * time.Second):
				return fmt.Errorf("collabd: timed out waiting for daemon to stop")
			}
		},
	}
	return cmd
}
