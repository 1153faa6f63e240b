// Command flowy manages a local GTD data tree and keeps it in sync with a
// WebDAV server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowy-gtd/flowy/internal/logging"
	"github.com/flowy-gtd/flowy/internal/ui"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "flowy",
	Short: "Offline-first GTD data with WebDAV sync",
	Long: `flowy keeps tasks, journals and projects as plain files on this device
and syncs them with a WebDAV server (Nextcloud, Nutstore, ownCloud, ...).

Run 'flowy configure' once to set the server, then 'flowy sync' or
'flowy daemon' to keep the tree up to date.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/flowy/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	_ = logging.Close()

	if err != nil {
		ui.NewPrinter(os.Stderr).Error("Error: %v", err)
		os.Exit(1)
	}
}
