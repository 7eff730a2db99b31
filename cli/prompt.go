package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter asks questions on w and reads answers from r. Passwords are read
// without echo when r is a terminal.
type prompter struct {
	r      *bufio.Reader
	in     io.Reader
	w      io.Writer
	isTerm func() bool
}

func newPrompter(in io.Reader, w io.Writer) *prompter {
	p := &prompter{r: bufio.NewReader(in), in: in, w: w}
	p.isTerm = func() bool {
		f, ok := p.in.(*os.File)
		return ok && term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *prompter) line() (string, error) {
	s, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// Ask prints label and returns the trimmed answer, or def when blank.
func (p *prompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.w, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.w, "%s: ", label)
	}
	s, err := p.line()
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return s, nil
}

// Password reads a secret. A blank answer returns def.
func (p *prompter) Password(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.w, "%s [keep]: ", label)
	} else {
		fmt.Fprintf(p.w, "%s: ", label)
	}

	var s string
	if p.isTerm() {
		f := p.in.(*os.File)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.w)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		s = string(b)
	} else {
		line, err := p.line()
		if err != nil {
			return "", err
		}
		s = line
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (p *prompter) Confirm(question string) bool {
	fmt.Fprintf(p.w, "%s [y/N]: ", question)
	s, err := p.line()
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
