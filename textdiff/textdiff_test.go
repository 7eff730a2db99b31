package textdiff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLines(t *testing.T) {
	left := "server {\n  listen 80;\n  root /var/www;\n}\n"
	right := "server {\n  listen 443 ssl;\n  root /var/www;\n  gzip on;\n}\n"

	res := Lines(left, right)
	assert.False(t, res.Equal())
	assert.Equal(t, []int{2}, res.Removed)
	assert.Equal(t, []int{2, 4}, res.Added)
}

func TestLinesEqualAndEmpty(t *testing.T) {
	assert.True(t, Lines("a\nb\n", "a\nb").Equal(), "trailing newline is ignored")
	assert.True(t, Lines("a\r\nb\r\n", "a\nb\n").Equal())
	assert.True(t, Lines("", "").Equal())

	res := Lines("", "x\ny\n")
	assert.Empty(t, res.Removed)
	assert.Equal(t, []int{1, 2}, res.Added)

	res = Lines("x\ny\n", "")
	assert.Equal(t, []int{1, 2}, res.Removed)
	assert.Empty(t, res.Added)
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(""))
	assert.Equal(t, []string{""}, SplitLines("\n"))
	assert.Equal(t, []string{"a", "", "b"}, SplitLines("a\n\nb\n"))
}

func TestUnified(t *testing.T) {
	out, err := Unified("one\ntwo\nthree\n", "one\n2\nthree\n", "a.conf", "b.conf", 1)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "--- a.conf\n+++ b.conf\n"), out)
	assert.Contains(t, out, "-two\n")
	assert.Contains(t, out, "+2\n")
	assert.Contains(t, out, " one\n")

	out, err = Unified("same\n", "same\n", "a", "b", 3)
	require.NoError(t, err)
	assert.Empty(t, out)
}
