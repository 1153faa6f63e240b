package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowy-gtd/flowy/internal/dashboard"
	"github.com/flowy-gtd/flowy/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the local tree in sync in the background",
	Long: `Sync on startup, every sync.interval, and shortly after local files
change. With --dashboard an HTTP server reports progress:

  GET  /status    status, last result and conflict copies
  POST /sync      start a sync
  GET  /ws        WebSocket stream of sync events
  GET  /metrics   Prometheus metrics

Example usage:
  flowy daemon                          # sync in the background
  flowy daemon --dashboard --port 9000  # with the dashboard on port 9000

Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		ctx := cmd.Context()

		a, err := openApp(ctx, appOptions{AlwaysLog: true})
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.connect(ctx); err != nil {
			return err
		}

		if withDashboard {
			port := a.cfg.Dashboard.Port
			if cmd.Flags().Changed("port") {
				port, _ = cmd.Flags().GetInt("port")
			}
			server := dashboard.NewServer(a.engine, &dashboard.Config{
				Port:   port,
				Logger: a.logger("dashboard"),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer func() {
				if err := server.Stop(); err != nil {
					a.out.Error("dashboard shutdown: %v", err)
				}
			}()
			a.out.Success("Dashboard on http://%s", server.Addr())
		}

		daemon, err := sync.NewDaemon(a.engine, a.cfg.DaemonConfig(&sync.DaemonConfig{
			Dir:    a.local.Dir(),
			Logger: a.logger("daemon"),
		}))
		if err != nil {
			return err
		}
		return daemon.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "serve the status dashboard")
	daemonCmd.Flags().IntP("port", "p", 8080, "dashboard port (overrides dashboard.port)")
	rootCmd.AddCommand(daemonCmd)
}
