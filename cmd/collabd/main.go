package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "collabd",
		Short: "collabd — peer-to-peer collaborative editing daemon",
		Long:  "Watches a directory, replicates its contents to connected peers, and fans out in-buffer edits to attached editors.",
	}

	root.AddCommand(
		startCmd(),
		stopCmd(),
		infoCmd(),
		listCmd(),
		attachCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
