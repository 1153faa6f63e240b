package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flowy-gtd/flowy/internal/fs"
	"github.com/flowy-gtd/flowy/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file.zip]",
	GroupID: "data",
	Short:   "Write the local tree to a zip archive",
	Long: `Write every file of the local tree to a zip archive. The archive can be
imported into any storage backend with 'flowy import'.

Example usage:
  flowy export                    # flowy-backup-YYYYMMDD-HHMMSS.zip
  flowy export backup.zip
  flowy export - > backup.zip     # to stdout`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Flush(ctx); err != nil {
			return fmt.Errorf("failed to save pending changes: %w", err)
		}

		name := "flowy-backup-" + time.Now().Format("20060102-150405") + ".zip"
		if len(args) == 1 {
			name = args[0]
		}

		var w io.Writer = os.Stdout
		if name != "-" {
			f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
			if err != nil {
				return fmt.Errorf("failed to create archive: %w", err)
			}
			defer f.Close()
			w = f
		}

		n, err := fs.ExportArchive(ctx, a.local, w)
		if err != nil {
			if name != "-" {
				_ = os.Remove(name)
			}
			return err
		}
		if name != "-" {
			a.out.Success("Exported %d files to %s", n, name)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file.zip>",
	GroupID: "data",
	Short:   "Restore files from a zip archive",
	Long: `Write every file of a zip archive made by 'flowy export' into the local
tree. Files with the same path are overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat archive: %w", err)
		}

		if !yes {
			ok, err := confirm(fmt.Sprintf("Overwrite local files with the contents of %s?", args[0]))
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}

		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Flush(ctx); err != nil {
			return fmt.Errorf("failed to save pending changes: %w", err)
		}
		n, err := fs.ImportArchive(ctx, a.local, f, info.Size())
		if err != nil {
			return err
		}
		a.out.Success("Imported %d files", n)
		return nil
	},
}

// confirm asks a yes/no question on the terminal. Without a terminal it
// fails rather than guessing.
func confirm(question string) (bool, error) {
	if !ui.IsInteractive(os.Stdin) {
		return false, errors.New("not a terminal; pass --yes to confirm")
	}
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(question).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func init() {
	importCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(exportCmd, importCmd)
}
