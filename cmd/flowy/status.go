package main

import (
	"github.com/spf13/cobra"

	"github.com/flowy-gtd/flowy/internal/sync"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the sync configuration and the last sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")
		ctx := cmd.Context()

		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		st := sync.Status{Phase: sync.PhaseIdle}
		if a.cfg.SyncConfigured() {
			st.Configured = true
			st.Remote = sync.RemoteID(a.cfg.WebDAVOptions())
			state, err := sync.LoadState(ctx, a.local, st.Remote)
			if err != nil {
				st.LastError = err.Error()
			}
			if state != nil {
				st.LastSync = state.LastSync()
			}
		}
		if check && st.Configured {
			if err := a.connect(ctx); err != nil {
				st.Phase = sync.PhaseError
				st.LastError = err.Error()
			}
		}
		a.out.Status(st)

		copies, err := sync.FindConflictCopies(ctx, a.local)
		if err != nil {
			return err
		}
		if len(copies) > 0 {
			a.out.Warn("%d conflict copies waiting; see 'flowy conflicts'", len(copies))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("check", false, "also test the connection to the server")
	rootCmd.AddCommand(statusCmd)
}
