package main

import (
	"github.com/spf13/cobra"

	"github.com/flowy-gtd/flowy/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate <backup.json>",
	GroupID: "data",
	Short:   "Import a legacy JSON backup",
	Long: `Import tasks, journals and projects from a single-file JSON backup made
by older versions (an object with tasks, journals and projects, or a bare
array of tasks).

Entities already present are kept unless --overwrite is given. Completed
tasks are filed in the done list.

Example usage:
  flowy migrate backup.json --dry-run   # preview
  flowy migrate backup.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		ctx := cmd.Context()

		backup, err := migrate.ReadFile(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		result, err := migrate.Import(ctx, a.store, backup, migrate.Options{DryRun: dryRun, Overwrite: overwrite})
		if err != nil {
			return err
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		a.out.Success("%s %d tasks, %d journals, %d projects", verb,
			result.TasksImported, result.JournalsImported, result.ProjectsImported)
		if skipped := result.TasksSkipped + result.JournalsSkipped + result.ProjectsSkipped; skipped > 0 {
			a.out.Warn("Kept %d existing entries (use --overwrite to replace them)", skipped)
		}
		for _, msg := range result.Errors {
			a.out.Error("skipped %s", msg)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "preview without writing")
	migrateCmd.Flags().Bool("overwrite", false, "replace entries that already exist")
	rootCmd.AddCommand(migrateCmd)
}
