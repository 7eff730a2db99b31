package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshdeck/protocols"
)

func newLocalBrowser(t *testing.T) (*Browser, string) {
	t.Helper()
	root := t.TempDir()
	fs := &protocols.LocalFileSystem{RootPath: root}
	require.NoError(t, fs.Init())
	return NewBrowser(fs, newFakeExec(getentHandler)), root
}

func touch(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	require.NoError(t, os.Chmod(p, 0o644))
}

func TestBrowserListOrdering(t *testing.T) {
	b, root := newLocalBrowser(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "srv", "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "srv", "A"), 0o755))
	require.NoError(t, os.Chmod(filepath.Join(root, "srv", "A"), 0o755))
	touch(t, root, "srv/c.txt", "c")
	touch(t, root, "srv/B.txt", "bb")
	touch(t, root, "srv/a.txt", "")

	entries, err := b.List(context.Background(), "/srv/")
	require.NoError(t, err)

	var got []string
	for _, e := range entries {
		got = append(got, e.Name)
	}
	assert.Equal(t, []string{"A", "b", "a.txt", "B.txt", "c.txt"}, got)
	assert.Equal(t, "/srv", b.Cwd())

	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "drwxr-xr-x", entries[0].Perms)
	assert.Equal(t, "/srv/A", entries[0].Path)
	assert.Equal(t, "-rw-r--r--", entries[3].Perms)
	assert.Equal(t, int64(2), entries[3].Size)
}

func TestBrowserListResolvesOwners(t *testing.T) {
	b, root := newLocalBrowser(t)
	touch(t, root, "home/f", "x")

	entries, err := b.List(context.Background(), "/home")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fmt.Sprintf("user%d", os.Getuid()), entries[0].Owner)
	assert.Equal(t, fmt.Sprintf("group%d", os.Getgid()), entries[0].Group)
}

func TestBrowserListFailureKeepsCwd(t *testing.T) {
	b, root := newLocalBrowser(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))

	_, err := b.List(context.Background(), "/etc")
	require.NoError(t, err)

	_, err = b.List(context.Background(), "/nope")
	assert.Error(t, err)
	assert.Equal(t, "/etc", b.Cwd())
}

func TestBrowserHomeAndPaths(t *testing.T) {
	b, _ := newLocalBrowser(t)

	home, err := b.Home(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/", home)

	assert.Equal(t, "/", Parent("/"))
	assert.Equal(t, "/var", Parent("/var/log/"))
	assert.Equal(t, "/", CleanPath(""))
	assert.Equal(t, "/a/c", CleanPath("/a/b/../c"))

	b.setCwd("/var/log")
	assert.Equal(t, "/var/log/syslog", b.Resolve("syslog"))
	assert.Equal(t, "/etc", b.Resolve("/etc/"))
	assert.Equal(t, "/var", b.Resolve(".."))
	assert.Equal(t, "/var/log", b.Resolve(""))
}

func TestBrowserChdir(t *testing.T) {
	b, root := newLocalBrowser(t)
	touch(t, root, "var/log/syslog", "x")

	require.NoError(t, b.Chdir(context.Background(), "/var"))
	assert.Equal(t, "/var", b.Cwd())
	require.NoError(t, b.Chdir(context.Background(), "log"))
	assert.Equal(t, "/var/log", b.Cwd())

	assert.Error(t, b.Chdir(context.Background(), "syslog"))
	assert.Error(t, b.Chdir(context.Background(), "/missing"))
	assert.Equal(t, "/var/log", b.Cwd())
}

func TestBrowserChmodChownDelete(t *testing.T) {
	b, root := newLocalBrowser(t)
	touch(t, root, "app/run.sh", "#!/bin/sh\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app", "data"), 0o755))
	ctx := context.Background()

	require.NoError(t, b.Chmod(ctx, "/app/run.sh", 0o750))
	info, err := os.Stat(filepath.Join(root, "app", "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
	assert.True(t, info.Mode().IsRegular())

	uid, gid := fmt.Sprint(os.Getuid()), fmt.Sprint(os.Getgid())
	require.NoError(t, b.Chown(ctx, "/app/run.sh", uid, gid))
	require.NoError(t, b.Chown(ctx, "/app/run.sh", "", ""))

	err = b.Chown(ctx, "/app/run.sh", "nobody-such", "")
	assert.ErrorIs(t, err, ErrUnresolvedOwner)

	err = b.Delete(ctx, "/app/data")
	assert.ErrorIs(t, err, ErrIsDirectory)

	require.NoError(t, b.Delete(ctx, "/app/run.sh"))
	_, err = os.Stat(filepath.Join(root, "app", "run.sh"))
	assert.True(t, os.IsNotExist(err))
}

func TestFormatPerms(t *testing.T) {
	assert.Equal(t, "drwxr-xr-x", FormatPerms(os.ModeDir|0o755, true))
	assert.Equal(t, "lrwxrwxrwx", FormatPerms(os.ModeSymlink|0o777, false))
	assert.Equal(t, "-rw-------", FormatPerms(0o600, false))
	assert.Equal(t, "----------", FormatPerms(0, false))
}

func TestParsePerm(t *testing.T) {
	tests := []struct {
		in      string
		want    os.FileMode
		wantErr bool
	}{
		{"750", 0o750, false},
		{"0644", 0o644, false},
		{"rwxr-x---", 0o750, false},
		{"-rw-r--r--", 0o644, false},
		{"drwxrwxrwx", 0o777, false},
		{"", 0, true},
		{"7777", 0, true},
		{"rwxrwxrw", 0, true},
		{"rwzr-x---", 0, true},
		{"xwrr-x---", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePerm(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
