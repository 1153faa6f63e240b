package main

import (
	"github.com/spf13/cobra"

	"github.com/flowy-gtd/flowy/internal/sync"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "List conflict copies in the local tree",
	Long: `List the conflict copies sync has saved next to their originals.

A conflict copy holds the version of a file that lost a conflict. Merge
what you need into the original and delete the copy; copies are synced
like any other file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		copies, err := sync.FindConflictCopies(ctx, a.local)
		if err != nil {
			return err
		}
		a.out.ConflictCopies(copies)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
}
