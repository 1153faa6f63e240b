package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowy-gtd/flowy/internal/conflict"
	"github.com/flowy-gtd/flowy/internal/format"
	"github.com/flowy-gtd/flowy/internal/fs"
	"github.com/flowy-gtd/flowy/internal/sync"
)

// Println writes a plain line.
func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

// Success writes a line in the success color.
func (p *Printer) Success(msg string, a ...any) {
	fmt.Fprintln(p.out, p.styles.Success.Render(fmt.Sprintf(msg, a...)))
}

// Warn writes a line in the warning color.
func (p *Printer) Warn(msg string, a ...any) {
	fmt.Fprintln(p.out, p.styles.Warning.Render(fmt.Sprintf(msg, a...)))
}

// Error writes a line in the error color.
func (p *Printer) Error(msg string, a ...any) {
	fmt.Fprintln(p.out, p.styles.Error.Render(fmt.Sprintf(msg, a...)))
}

func (p *Printer) row(label, value string) string {
	return p.styles.Label.Render(label) + p.styles.Value.Render(value)
}

// Status renders the engine status.
func (p *Printer) Status(st sync.Status) {
	rows := []string{p.styles.Title.Render("Sync status")}

	if !st.Configured {
		rows = append(rows, p.row("Server", p.styles.Warning.Render("not configured")))
	} else {
		rows = append(rows, p.row("Server", st.Remote))
	}
	phase := string(st.Phase)
	if st.Syncing && st.Total > 0 {
		phase = fmt.Sprintf("%s (%d/%d)", phase, st.Done, st.Total)
	}
	rows = append(rows, p.row("Phase", phase))
	rows = append(rows, p.row("Last sync", formatMillis(st.LastSync)))
	if st.LastError != "" {
		rows = append(rows, p.row("Last error", p.styles.Error.Render(st.LastError)))
	}
	fmt.Fprintln(p.out, p.styles.Box.Render(strings.Join(rows, "\n")))
}

// Summary renders the result of a sync.
func (p *Printer) Summary(sum *sync.Summary) {
	if sum == nil {
		fmt.Fprintln(p.out, p.styles.Muted.Render("No sync has run yet."))
		return
	}

	title := "Sync complete"
	if sum.Canceled {
		title = "Sync canceled"
	}
	rows := []string{p.styles.Title.Render(title)}
	counts := []struct {
		label string
		n     int
	}{
		{"Pushed", sum.Pushed},
		{"Pulled", sum.Pulled},
		{"Merged", sum.Merged},
		{"Conflicted", sum.Conflicted},
		{"Deleted", sum.Deleted},
		{"Unchanged", sum.Unchanged},
		{"Failed", sum.Failed},
	}
	for _, c := range counts {
		if c.n == 0 && c.label != "Unchanged" {
			continue
		}
		value := fmt.Sprint(c.n)
		if c.label == "Failed" {
			value = p.styles.Error.Render(value)
		}
		rows = append(rows, p.row(c.label, value))
	}
	rows = append(rows, p.row("Took", sum.Duration().Round(time.Millisecond).String()))
	fmt.Fprintln(p.out, p.styles.Box.Render(strings.Join(rows, "\n")))

	for _, c := range sum.ConflictCopies {
		p.Warn("conflict copy: %s", c)
	}
	for _, f := range sum.Failures {
		p.Error("failed %s (%s): %s", f.Path, f.Direction, f.Message)
	}
}

// Plan renders the actions a sync would take.
func (p *Printer) Plan(plan []sync.PlanEntry) {
	if len(plan) == 0 {
		fmt.Fprintln(p.out, p.styles.Success.Render("Everything is in sync."))
		return
	}
	for _, entry := range plan {
		dir := fmt.Sprintf("%-13s", entry.Direction)
		switch entry.Direction {
		case conflict.Conflict:
			dir = p.styles.Warning.Render(dir)
		case conflict.DeleteLocal, conflict.DeleteRemote:
			dir = p.styles.Error.Render(dir)
		default:
			dir = p.styles.Muted.Render(dir)
		}
		fmt.Fprintf(p.out, "%s %s\n", dir, entry.Path)
	}
}

// ConflictCopies renders the conflict copies found in the local tree.
func (p *Printer) ConflictCopies(copies []fs.FileInfo) {
	if len(copies) == 0 {
		fmt.Fprintln(p.out, p.styles.Success.Render("No conflict copies."))
		return
	}
	for _, c := range copies {
		fmt.Fprintf(p.out, "%s  %s\n", p.styles.Muted.Render(formatMillis(c.ModifiedAt)), c.Path)
	}
	fmt.Fprintln(p.out, p.styles.Muted.Render(fmt.Sprintf("%d conflict copies; merge them by hand and delete them.", len(copies))))
}

// Journal renders one journal entry.
func (p *Printer) Journal(j *format.Journal) {
	header := p.styles.Title.Render(j.Title) + "  " + p.styles.Muted.Render(j.Date.Format("Monday, 2 January 2006"))
	body := strings.TrimRight(j.Content, "\n")
	if body == "" {
		body = p.styles.Muted.Render("(empty)")
	}
	fmt.Fprintln(p.out, header)
	fmt.Fprintln(p.out, body)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
