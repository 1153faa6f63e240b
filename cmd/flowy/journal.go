package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/flowy-gtd/flowy/internal/format"
	"github.com/flowy-gtd/flowy/internal/fs"
)

var journalCmd = &cobra.Command{
	Use:     "journal",
	GroupID: "data",
	Short:   "Read journal entries",
}

var journalShowCmd = &cobra.Command{
	Use:   "show [date]",
	Short: "Show the journal of a day",
	Long: `Show the journal of a day. The date may be YYYY-MM-DD or plain English.

Example usage:
  flowy journal show
  flowy journal show yesterday
  flowy journal show last friday
  flowy journal show 2024-01-15`,
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := parseDate(strings.Join(args, " "), time.Now())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		j, err := a.store.LoadJournal(ctx, day)
		if fs.IsNotFound(err) {
			a.out.Warn("No journal for %s", format.CivilDate(day).Format("2006-01-02"))
			return nil
		}
		if err != nil {
			return err
		}
		a.out.Journal(j)
		return nil
	},
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent journals",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		ctx := cmd.Context()

		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		var from time.Time
		if days > 0 {
			from = time.Now().AddDate(0, 0, -days+1)
		}
		journals, err := a.store.ListJournals(ctx, from, time.Time{})
		if err != nil {
			a.out.Warn("some journals could not be read: %v", err)
		}
		if len(journals) == 0 {
			a.out.Println("No journals.")
			return nil
		}
		for _, j := range journals {
			a.out.Println(fmt.Sprintf("%s  %s", j.Date.Format("2006-01-02"), j.Title))
		}
		return nil
	},
}

// parseDate resolves s relative to now. Empty means today.
func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand date %q", s)
	}
	return r.Time, nil
}

func init() {
	journalListCmd.Flags().Int("days", 7, "how many days back to list (0 for all)")
	journalCmd.AddCommand(journalShowCmd, journalListCmd)
	rootCmd.AddCommand(journalCmd)
}
