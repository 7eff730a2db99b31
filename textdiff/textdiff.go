// Package textdiff compares two texts line by line.
package textdiff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Result marks the lines that differ. Line numbers are 1-based.
type Result struct {
	Removed []int // lines of the left text missing on the right
	Added   []int // lines of the right text missing on the left
	Ops     []difflib.OpCode
}

func (r Result) Equal() bool {
	return len(r.Removed) == 0 && len(r.Added) == 0
}

// SplitLines splits on newlines, dropping one trailing newline and any
// carriage returns.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Lines diffs left against right.
func Lines(left, right string) Result {
	a, b := SplitLines(left), SplitLines(right)
	ops := difflib.NewMatcher(a, b).GetOpCodes()

	res := Result{Ops: ops}
	for _, op := range ops {
		switch op.Tag {
		case 'd':
			res.Removed = appendRange(res.Removed, op.I1, op.I2)
		case 'i':
			res.Added = appendRange(res.Added, op.J1, op.J2)
		case 'r':
			res.Removed = appendRange(res.Removed, op.I1, op.I2)
			res.Added = appendRange(res.Added, op.J1, op.J2)
		}
	}
	return res
}

func appendRange(dst []int, from, to int) []int {
	for i := from; i < to; i++ {
		dst = append(dst, i+1)
	}
	return dst
}

// Unified renders a unified diff with the given number of context lines.
func Unified(left, right, fromName, toName string, context int) (string, error) {
	if context < 0 {
		context = 3
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withNewlines(SplitLines(left)),
		B:        withNewlines(SplitLines(right)),
		FromFile: fromName,
		ToFile:   toName,
		Context:  context,
	})
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
