package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/collab-daemon/collabd/internal/diagnostics"
	"github.com/collab-daemon/collabd/internal/fsreg"
	"github.com/collab-daemon/collabd/internal/ipctransport"
	"github.com/collab-daemon/collabd/internal/wire"
)

func infoCmd() *cobra.Command {
	var historyPath, dbPath string
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "info [dir]",
		Short: "Show the daemon's own address, connected peers, and attached clients",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if historyPath != "" {
				return printHistory(dbPath, historyPath, historyLimit)
			}

			dir := dirArg(args)
			conn, err := ipctransport.Client(dir)
			if err != nil {
				return err
			}
			defer conn.Close()

			conn.Send <- wire.IpcInfoRequest()
			select {
			case resp := <-conn.Recv:
				if resp.Info == nil {
					return fmt.Errorf("collabd: daemon returned no info")
				}
				printInfo(*resp.Info)
				return nil
			case <-time.After(5 * time.Second):
				return fmt.Errorf("collabd: timed out waiting for daemon response")
			}
		},
	}

	cmd.Flags().StringVar(&historyPath, "history", "", "show recently applied diffs for this path instead of live daemon info")
	cmd.Flags().StringVar(&dbPath, "diagnostics-db", "", "path to the daemon's sqlite diagnostics log (required with --history)")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "max history rows to show with --history")

	return cmd
}

// printHistory reads applied-diff rows straight out of the diagnostics
// database the daemon was started with --diagnostics-db; it does not go
// through the running daemon's IPC link at all.
func printHistory(dbPath, historyPath string, limit int) error {
	if dbPath == "" {
		return fmt.Errorf("collabd: --history requires --diagnostics-db")
	}
	path, err := fsreg.NewRelPath(historyPath)
	if err != nil {
		return fmt.Errorf("collabd: %w", err)
	}

	log, err := diagnostics.Open(dbPath)
	if err != nil {
		return err
	}
	defer log.Close()

	rows, err := log.RecentForPath(path, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("no history recorded for %s\n", path)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tOP\tPATH\tTO\tSOURCE\tADDR")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.AppliedAt, r.Op, r.Path, r.To, r.SourceKind, r.SourceAddr)
	}
	return w.Flush()
}

func printInfo(info wire.IpcClientInfo) {
	fmt.Printf("daemon address: %s\n\n", info.Addr)

	fmt.Println("peers:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADVERTISED ADDR")
	for _, p := range info.Peers {
		fmt.Fprintf(w, "%s\n", p.AdvertisedAddr)
	}
	w.Flush()

	fmt.Println("\nattached clients:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tADDR\tDESC")
	for _, c := range info.AttachedClients {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Path, c.Addr, c.Desc)
	}
	w.Flush()
}

func dirArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
