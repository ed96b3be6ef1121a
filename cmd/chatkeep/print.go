package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/hpungsan/chatkeep/internal/db"
	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/ops"
)

// maxPrintedMatches caps the snippets printed per search result.
const maxPrintedMatches = 5

// styles holds the terminal styles for one output stream. On a non-terminal
// writer lipgloss renders plain text.
type styles struct {
	bold      lipgloss.Style
	dim       lipgloss.Style
	url       lipgloss.Style
	ok        lipgloss.Style
	warn      lipgloss.Style
	fail      lipgloss.Style
	convLabel lipgloss.Style
	projLabel lipgloss.Style
	highlight lipgloss.Style
	width     int
}

func newStyles(w io.Writer) *styles {
	r := lipgloss.NewRenderer(w)
	return &styles{
		bold:      r.NewStyle().Bold(true),
		dim:       r.NewStyle().Faint(true),
		url:       r.NewStyle().Foreground(lipgloss.Color("4")),
		ok:        r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		warn:      r.NewStyle().Foreground(lipgloss.Color("3")),
		fail:      r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		convLabel: r.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
		projLabel: r.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		highlight: r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		width:     lineWidth(w),
	}
}

// lineWidth is the separator width: the terminal width capped at 80.
func lineWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 && cols < 80 {
			return cols
		}
	}
	return 80
}

// outputJSON writes v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// printSearch prints results with the best match last, just above the prompt.
func printSearch(w io.Writer, out *ops.SearchOutput) {
	st := newStyles(w)
	if len(out.Items) == 0 {
		fmt.Fprintln(w, st.fail.Render("No results found."))
		return
	}

	fmt.Fprintf(w, "\n%s\n\n", st.ok.Render(fmt.Sprintf("Found %d result(s)", out.Total)))

	for i := len(out.Items) - 1; i >= 0; i-- {
		r := out.Items[i]

		label := st.convLabel
		if r.Type == string(identity.KindProject) {
			label = st.projLabel
		}
		fmt.Fprintf(w, "%s %s\n", label.Render("["+strings.ToUpper(r.Type)+"]"), st.bold.Render(r.Name))
		fmt.Fprintln(w, st.dim.Render("UUID: "+r.UUID))
		fmt.Fprintln(w, st.dim.Render(fmt.Sprintf("Created: %s | Account: %s", r.CreatedAt.UTC().Format("2006-01-02"), r.Email)))
		if r.URL != "" {
			fmt.Fprintln(w, st.url.Render(r.URL))
		}
		fmt.Fprintln(w, st.dim.Render(fmt.Sprintf("Score: %.1f | Matches: %d", r.TotalScore, r.MatchCount)))
		fmt.Fprintln(w)

		for j, m := range r.Matches {
			if j == maxPrintedMatches {
				break
			}
			fmt.Fprintf(w, "  %s %s\n", st.dim.Render(fmt.Sprintf("%d.", j+1)), highlight(m.Text, out.Query, st.highlight))
		}
		if extra := len(r.Matches) - maxPrintedMatches; extra > 0 {
			fmt.Fprintf(w, "  %s\n", st.dim.Render(fmt.Sprintf("... and %d more match(es)", extra)))
		}
		fmt.Fprintln(w)

		if i > 0 {
			fmt.Fprintf(w, "%s\n\n", st.dim.Render(strings.Repeat("─", st.width)))
		}
	}
}

// highlight renders every case-insensitive occurrence of query in text with style.
func highlight(text, query string, style lipgloss.Style) string {
	q := []rune(strings.ToLower(query))
	if len(q) == 0 {
		return text
	}
	src := []rune(text)
	lower := make([]rune, len(src))
	for i, r := range src {
		lower[i] = unicode.ToLower(r)
	}

	var b strings.Builder
	last := 0
	for i := 0; i+len(q) <= len(lower); {
		if string(lower[i:i+len(q)]) == string(q) {
			b.WriteString(string(src[last:i]))
			b.WriteString(style.Render(string(src[i : i+len(q)])))
			i += len(q)
			last = i
			continue
		}
		i++
	}
	b.WriteString(string(src[last:]))
	return b.String()
}

// printSync prints one summary line per archive and one line per warning.
func printSync(w io.Writer, out *ops.SyncOutput) {
	st := newStyles(w)
	if len(out.Archives) == 0 {
		fmt.Fprintf(w, "No %s export archives found in %s\n", out.Provider, out.SearchDir)
		return
	}

	fmt.Fprintf(w, "%s: %d archive(s) in %s\n", st.bold.Render(out.Provider), len(out.Archives), out.SearchDir)
	for _, a := range out.Archives {
		var status string
		switch a.Status {
		case db.ArchiveProcessed:
			status = st.ok.Render(string(a.Status))
		case db.ArchiveAlreadyProcessed:
			status = st.warn.Render(string(a.Status))
		default:
			status = st.fail.Render(string(a.Status))
		}
		fmt.Fprintf(w, "  %s [%s] %s\n", a.Archive, status, a.Summary())
		if a.AccountEmail != "" {
			fmt.Fprintln(w, st.dim.Render("    account: "+a.AccountEmail))
		}
		if a.Report != nil {
			for _, warning := range a.Report.Warnings {
				fmt.Fprintln(w, st.warn.Render("    warning: "+warning.String()))
			}
		}
		if a.RelocatedTo != "" {
			fmt.Fprintln(w, st.dim.Render("    moved to "+a.RelocatedTo))
		}
	}
	fmt.Fprintf(w, "Total: created %d, updated %d, skipped %d\n", out.Created, out.Updated, out.Skipped)
}

// printList prints one line per stored record.
func printList(w io.Writer, out *ops.ListOutput) {
	st := newStyles(w)
	if len(out.Items) == 0 {
		fmt.Fprintln(w, "No records found.")
		return
	}
	for _, e := range out.Items {
		name := e.Name
		if name == "" {
			name = "(untitled)"
		}
		fmt.Fprintf(w, "%s  %s  %-12s %s\n",
			st.dim.Render(e.UpdatedAt.UTC().Format("2006-01-02")),
			e.UUID,
			string(e.Kind),
			st.bold.Render(name))
	}
	p := out.Pagination
	fmt.Fprintln(w, st.dim.Render(fmt.Sprintf("%d-%d of %d", p.Offset+1, p.Offset+len(out.Items), p.Total)))
}

// printHistory prints one line per sync run.
func printHistory(w io.Writer, out *ops.HistoryOutput) {
	st := newStyles(w)
	if len(out.Runs) == 0 {
		fmt.Fprintln(w, "No sync runs recorded.")
		return
	}
	for _, r := range out.Runs {
		fmt.Fprintf(w, "%s  %s  %-8s %s  archives %d, created %d, updated %d, skipped %d\n",
			r.ID,
			st.dim.Render(formatUnix(r.StartedAt)),
			r.Provider,
			runStatus(st, r.Status),
			r.Archives, r.Created, r.Updated, r.Skipped)
		if r.ErrorMessage != nil {
			fmt.Fprintln(w, st.fail.Render("    "+*r.ErrorMessage))
		}
	}
}

// printRun prints one sync run with its archive results.
func printRun(w io.Writer, d *ops.RunDetail) {
	st := newStyles(w)
	fmt.Fprintf(w, "%s %s %s\n", st.bold.Render(d.Run.ID), d.Run.Provider, runStatus(st, d.Run.Status))
	fmt.Fprintf(w, "intake: %s\nstarted: %s\n", d.Run.SearchDir, formatUnix(d.Run.StartedAt))
	if d.Run.ErrorMessage != nil {
		fmt.Fprintln(w, st.fail.Render("error: "+*d.Run.ErrorMessage))
	}
	for _, a := range d.Archives {
		msg := ""
		if a.Message != nil {
			msg = *a.Message
		}
		fmt.Fprintf(w, "  %s [%s] %s\n", a.Archive, a.Status, msg)
	}
}

// printLedger prints the processed archives, most recent first.
func printLedger(w io.Writer, out *ops.LedgerOutput) {
	st := newStyles(w)
	fmt.Fprintln(w, st.dim.Render(out.Path))
	if len(out.Entries) == 0 {
		fmt.Fprintln(w, "No archives processed yet.")
		return
	}
	for _, e := range out.Entries {
		fmt.Fprintf(w, "%s  %-8s %s  %s\n",
			st.dim.Render(e.ProcessedAt.UTC().Format("2006-01-02 15:04")),
			e.Provider,
			st.bold.Render(e.Archive),
			e.Summary)
	}
}

func runStatus(st *styles, s db.RunStatus) string {
	switch s {
	case db.RunOK:
		return st.ok.Render(string(s))
	case db.RunRunning, db.RunCancelled:
		return st.warn.Render(string(s))
	default:
		return st.fail.Render(string(s))
	}
}

func formatUnix(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}
