package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/collab-daemon/collabd/internal/config"
	"github.com/collab-daemon/collabd/internal/diagnostics"
	"github.com/collab-daemon/collabd/internal/fswatch"
	"github.com/collab-daemon/collabd/internal/ignore"
	"github.com/collab-daemon/collabd/internal/ipctransport"
	"github.com/collab-daemon/collabd/internal/logger"
	"github.com/collab-daemon/collabd/internal/peertransport"
	"github.com/collab-daemon/collabd/internal/router"
)

func startCmd() *cobra.Command {
	var listenAddr, advertisedAddr, logLevel, logFile, dbPath string
	var bootstrapPeers []string

	cmd := &cobra.Command{
		Use:   "start [dir]",
		Short: "Start the daemon for the directory (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			root, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			if err := logger.Init(logLevel, logFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			instanceID := uuid.New().String()[:8]
			logger.Info("collabd starting", "instance", instanceID, "root", root)

			userConfigDir, err := config.GetUserConfigDir()
			if err != nil {
				return fmt.Errorf("resolve user config dir: %w", err)
			}
			if err := config.EnsureConfigDirs(userConfigDir, root); err != nil {
				return fmt.Errorf("ensure config dirs: %w", err)
			}

			mgr := config.NewManager()
			bootstrapDir, found, err := config.FindBootstrapFile(root)
			if err != nil {
				return fmt.Errorf("find bootstrap file: %w", err)
			}
			if found {
				if err := mgr.Load(filepath.Join(bootstrapDir, "collabd.yaml")); err != nil {
					return fmt.Errorf("load collabd.yaml: %w", err)
				}
			}
			mgr.ApplyOverrides(listenAddr, advertisedAddr, bootstrapPeers)
			cfg := mgr.Get()

			matcher, err := ignore.LoadExisting(root)
			if err != nil {
				return fmt.Errorf("load ignore rules: %w", err)
			}

			var diagLog *diagnostics.Log
			if dbPath != "" {
				diagLog, err = diagnostics.Open(dbPath)
				if err != nil {
					return fmt.Errorf("open diagnostics log: %w", err)
				}
				defer diagLog.Close()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			peerTr := peertransport.New()
			peerLn, err := peerTr.Listen(ctx, cfg.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen for peers: %w", err)
			}
			ownAdvertised := cfg.AdvertisedAddr
			if ownAdvertised == "" {
				ownAdvertised = peerLn.String()
			}

			ipcTr := ipctransport.New()
			ipcLn, err := ipcTr.Listen(ctx)
			if err != nil {
				return fmt.Errorf("listen for ipc clients: %w", err)
			}
			ipcPort := ipcLn.(*net.TCPAddr).Port
			if err := ipctransport.Bind(root, ipcPort); err != nil {
				return fmt.Errorf("bind session: %w", err)
			}
			defer ipctransport.Unbind(root)

			reg := router.NewRegistryGuard()
			watcher, err := fswatch.New(root, matcher, reg)
			if err != nil {
				return fmt.Errorf("start fs watcher: %w", err)
			}

			r := router.NewWithRegistry(root, ownAdvertised, root, matcher, peerTr, ipcTr, watcher.Events(), reg).
				WithDiagnostics(diagLog)

			go func() {
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("fs watcher stopped", "err", err)
				}
			}()

			for _, peerAddr := range cfg.BootstrapPeers {
				if err := peerTr.AddPeer(ctx, peerAddr, ownAdvertised); err != nil {
					logger.Warn("failed to connect to bootstrap peer", "addr", peerAddr, "err", err)
				}
			}

			logger.Info("collabd listening", "peer_addr", peerLn.String(), "ipc_port", ipcPort, "advertised", ownAdvertised)
			return r.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "peer listen address (overrides collabd.yaml)")
	cmd.Flags().StringVar(&advertisedAddr, "advertise", "", "address advertised to peers (overrides collabd.yaml)")
	cmd.Flags().StringSliceVar(&bootstrapPeers, "peer", nil, "peer address to connect to at startup (repeatable)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFile, "log-file", "", "additional log file path")
	cmd.Flags().StringVar(&dbPath, "diagnostics-db", "", "path to a sqlite diagnostics log (disabled if empty)")

	return cmd
}
