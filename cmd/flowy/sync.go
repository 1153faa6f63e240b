package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowy-gtd/flowy/internal/sync"
	"github.com/flowy-gtd/flowy/internal/webdav"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync the local tree with the server once",
	Long: `Compare every file of the local tree with the server and transfer what
changed. Task files edited on both sides are merged task by task; other
files keep the newer version and save the other one as a conflict copy.

Example usage:
  flowy sync              # sync now
  flowy sync --dry-run    # show what a sync would do`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		ctx := cmd.Context()

		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.connect(ctx); err != nil {
			if errors.Is(err, webdav.ErrAuth) {
				return fmt.Errorf("%w (check the username and password with 'flowy configure')", err)
			}
			return err
		}

		if dryRun {
			plan, err := a.engine.Plan(ctx)
			if err != nil {
				return err
			}
			a.out.Plan(plan)
			return nil
		}

		if verbose {
			unsubscribe := a.engine.Subscribe(func(ev sync.Event) {
				if ev.Type == sync.EventFile {
					fmt.Fprintf(os.Stderr, "[%d/%d] %s %s\n", ev.Done, ev.Total, ev.Direction, ev.Path)
				}
			})
			defer unsubscribe()
		}

		sum, err := a.engine.SyncAll(ctx)
		if err != nil {
			return err
		}
		a.out.Summary(sum)
		if sum.Failed > 0 {
			return fmt.Errorf("%d files failed to sync", sum.Failed)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "show the planned transfers without syncing")
	rootCmd.AddCommand(syncCmd)
}
