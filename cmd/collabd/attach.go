package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/collab-daemon/collabd/internal/attachcodec"
	"github.com/collab-daemon/collabd/internal/fsreg"
	"github.com/collab-daemon/collabd/internal/ipctransport"
	"github.com/collab-daemon/collabd/internal/wire"
)

func attachCmd() *cobra.Command {
	var csv bool
	var desc string

	cmd := &cobra.Command{
		Use:   "attach <file>",
		Short: "Attach stdin/stdout to a file's buffer-diff stream",
		Long:  "Reads buffer diffs from stdin (one per line) and sends them to the daemon; prints every diff the daemon routes back, one per line. Type 'q' to quit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			root, _, found, err := ipctransport.FindSession(filepath.Dir(file))
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("collabd: no running daemon found above %s", file)
			}
			rel, err := filepath.Rel(root, file)
			if err != nil {
				return err
			}
			relPath, err := fsreg.NewRelPath(filepath.ToSlash(rel))
			if err != nil {
				return wire.Wrap(wire.KindPathOutsideRoot, "attach", fmt.Errorf("%s is outside %s: %w", file, root, err))
			}

			if desc == "" {
				desc = "attach-" + uuid.New().String()[:8]
			}
			mode := attachcodec.ModeJSON
			if csv {
				mode = attachcodec.ModeCSV
			}

			conn, err := ipctransport.Client(root)
			if err != nil {
				return err
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				for resp := range conn.Recv {
					switch resp.Type {
					case wire.IpcRespBufferDiff:
						line, err := attachcodec.Encode(mode, *resp.BufferDiff)
						if err == nil {
							fmt.Println(line)
						}
					case wire.IpcRespLocalDisconnect, wire.IpcRespRemoteDisconnect:
						return
					}
				}
			}()

			conn.Send <- wire.IpcAttachRequest(relPath, desc)

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "q" {
					break
				}
				bd, err := attachcodec.Decode(mode, line)
				if err != nil {
					fmt.Fprintf(os.Stderr, "collabd: skipping malformed line: %v\n", err)
					continue
				}
				conn.Send <- wire.IpcBufferDiff(bd)
			}

			conn.Close()
			<-done
			return nil
		},
	}

	cmd.Flags().BoolVar(&csv, "csv", false, "use the CSV line encoding instead of JSON")
	cmd.Flags().StringVar(&desc, "desc", "", "description shown to other attached clients (default: a generated id)")

	return cmd
}
