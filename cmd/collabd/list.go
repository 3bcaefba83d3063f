package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/collab-daemon/collabd/internal/ipctransport"
)

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every root with a live daemon attached to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			roots, err := ipctransport.ActiveSessions()
			if err != nil {
				return err
			}
			if len(roots) == 0 {
				fmt.Println("no running daemons")
				return nil
			}
			for _, root := range roots {
				fmt.Println(root)
			}
			return nil
		},
	}
	return cmd
}
