// Package output renders user-facing results on the terminal.
package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"sshdeck/core"
	"sshdeck/jsonview"
	"sshdeck/textdiff"
)

var (
	styleBold    = lipgloss.NewStyle().Bold(true)
	styleDir     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	styleLink    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleGreen   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleRed     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleYellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleBlue    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleHeading = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Output writes formatted results to w.
type Output struct {
	w        io.Writer
	useColor bool
	now      func() time.Time
}

func New(w io.Writer) *Output {
	return &Output{
		w:        w,
		useColor: true,
		now:      time.Now,
	}
}

// SetColor enables or disables styling and syntax highlighting.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

func (o *Output) Writer() io.Writer {
	return o.w
}

func (o *Output) style(s lipgloss.Style, text string) string {
	if !o.useColor {
		return text
	}
	return s.Render(text)
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}

func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s\n", o.style(styleBlue, "INFO"), fmt.Sprintf(format, args...))
}

func (o *Output) Success(format string, args ...any) {
	o.printf("%s %s\n", o.style(styleGreen, "✓"), fmt.Sprintf(format, args...))
}

func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s\n", o.style(styleYellow, "WARN"), fmt.Sprintf(format, args...))
}

func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.style(styleRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Plain writes text as is, adding a final newline when missing.
func (o *Output) Plain(text string) {
	if text == "" {
		return
	}
	io.WriteString(o.w, text)
	if !strings.HasSuffix(text, "\n") {
		io.WriteString(o.w, "\n")
	}
}

func (o *Output) Heading(text string) {
	o.printf("%s\n", o.style(styleHeading, text))
}

// Listing prints a directory in ls -l form.
func (o *Output) Listing(dir string, entries []core.Entry) {
	o.Heading(dir)
	if len(entries) == 0 {
		o.printf("%s\n", o.style(styleMuted, "(empty)"))
		return
	}

	ownerW, groupW, sizeW := 1, 1, 1
	for _, e := range entries {
		ownerW = max(ownerW, len(e.Owner))
		groupW = max(groupW, len(e.Group))
		sizeW = max(sizeW, len(sizeText(e)))
	}

	for _, e := range entries {
		name := e.Name
		switch {
		case e.IsDir:
			name = o.style(styleDir, name+"/")
		case strings.HasPrefix(e.Perms, "l"):
			name = o.style(styleLink, name)
		}
		o.printf("%s  %-*s %-*s %*s  %s  %s\n",
			e.Perms,
			ownerW, e.Owner,
			groupW, e.Group,
			sizeW, sizeText(e),
			o.style(styleMuted, e.ModTime.Format("2006-01-02 15:04")),
			name)
	}
}

func sizeText(e core.Entry) string {
	if e.IsDir {
		return "-"
	}
	return humanize.IBytes(uint64(e.Size))
}

// Servers prints stored servers, one per line.
func (o *Output) Servers(records []core.ServerRecord) {
	if len(records) == 0 {
		o.printf("%s\n", o.style(styleMuted, "no servers stored; add one with: sshdeck server add <name>"))
		return
	}
	nameW := 1
	for _, r := range records {
		nameW = max(nameW, len(r.Name))
	}
	for _, r := range records {
		services := ""
		if len(r.Services) > 0 {
			services = o.style(styleMuted, " ["+strings.Join(r.Services, ", ")+"]")
		}
		o.printf("%s  %s@%s:%d%s\n",
			o.style(styleBold, fmt.Sprintf("%-*s", nameW, r.Name)),
			r.Username, r.Host, r.Port, services)
	}
}

func (o *Output) stateStyle(state string) lipgloss.Style {
	switch state {
	case "active":
		return styleGreen
	case "failed":
		return styleRed
	case "inactive", "activating", "deactivating", "reloading":
		return styleYellow
	}
	return styleMuted
}

// ServiceStates prints the active state of each favourite service.
func (o *Output) ServiceStates(states []core.ServiceState) {
	if len(states) == 0 {
		o.printf("%s\n", o.style(styleMuted, "no favourite services"))
		return
	}
	nameW := 1
	for _, s := range states {
		nameW = max(nameW, len(s.Name))
	}
	for _, s := range states {
		o.printf("%-*s  %s\n", nameW, s.Name, o.style(o.stateStyle(s.State), s.State))
	}
}

func (o *Output) Transitions(changes []core.Transition) {
	for _, c := range changes {
		o.printf("%s %s: %s → %s\n",
			o.style(styleMuted, c.At.Format("15:04:05")),
			o.style(styleBold, c.Service),
			o.style(o.stateStyle(c.From), c.From),
			o.style(o.stateStyle(c.To), c.To))
	}
}

// Transfer summarises a finished transfer.
func (o *Output) Transfer(res *core.TransferResult) {
	verb := "Uploaded"
	if res.Direction == "download" {
		verb = "Downloaded"
	}
	o.Success("%s %s to %s (%s in %s)", verb, res.Source, res.Dest,
		humanize.IBytes(uint64(res.Bytes)), res.Elapsed.Round(time.Millisecond))
}

// History prints transfer records, newest first.
func (o *Output) History(records []core.TransferRecord) {
	if len(records) == 0 {
		o.printf("%s\n", o.style(styleMuted, "no transfers recorded"))
		return
	}
	for _, r := range records {
		arrow := "↑"
		if r.Direction == "download" {
			arrow = "↓"
		}
		o.printf("%s %s %s → %s %s\n",
			o.style(styleMuted, humanize.RelTime(r.At, o.now(), "ago", "from now")),
			arrow, r.Source, r.Dest,
			o.style(styleMuted, "("+humanize.IBytes(uint64(r.Bytes))+")"))
	}
}

// Code prints source text with syntax highlighting when colors are on.
func (o *Output) Code(text, lang string) {
	if !o.useColor || lang == "" {
		o.Plain(text)
		return
	}
	var buf bytes.Buffer
	if err := quick.Highlight(&buf, text, lang, "terminal256", "monokai"); err != nil {
		o.Plain(text)
		return
	}
	o.Plain(buf.String())
}

// JSONTree prints a document as an indented key/value tree.
func (o *Output) JSONTree(doc *jsonview.Document) {
	doc.Walk(func(n *jsonview.Node, depth int) {
		o.printf("%s%s  %s\n",
			strings.Repeat("  ", depth),
			o.style(styleBold, n.Key),
			o.style(styleMuted, n.Display()))
	})
}

// JSONMatches prints search hits as path = value.
func (o *Output) JSONMatches(nodes []*jsonview.Node) {
	if len(nodes) == 0 {
		o.printf("%s\n", o.style(styleMuted, "No matches"))
		return
	}
	for i, n := range nodes {
		o.printf("%s %s = %s\n",
			o.style(styleMuted, fmt.Sprintf("%d/%d", i+1, len(nodes))),
			o.style(styleBold, n.Path),
			n.Display())
	}
}

// Diff prints a unified diff with removed lines red and added lines green.
func (o *Output) Diff(unified string) {
	if unified == "" {
		o.printf("%s\n", o.style(styleMuted, "no differences"))
		return
	}
	for _, line := range textdiff.SplitLines(unified) {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			line = o.style(styleBold, line)
		case strings.HasPrefix(line, "@@"):
			line = o.style(styleBlue, line)
		case strings.HasPrefix(line, "+"):
			line = o.style(styleGreen, line)
		case strings.HasPrefix(line, "-"):
			line = o.style(styleRed, line)
		}
		o.printf("%s\n", line)
	}
}

// Numbered prints text with line numbers, marking the given lines.
func (o *Output) Numbered(text string, marked []int, marker string) {
	set := make(map[int]bool, len(marked))
	for _, n := range marked {
		set[n] = true
	}
	lines := textdiff.SplitLines(text)
	width := len(fmt.Sprint(len(lines)))
	for i, line := range lines {
		num := i + 1
		prefix := "  "
		if set[num] {
			prefix = marker + " "
			line = o.style(styleYellow, line)
		}
		o.printf("%s%*d  %s\n", prefix, width, num, line)
	}
}
