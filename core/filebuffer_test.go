package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshdeck/protocols"
)

func newRemoteDir(t *testing.T) (*protocols.LocalFileSystem, string) {
	t.Helper()
	root := t.TempDir()
	fs := &protocols.LocalFileSystem{RootPath: root}
	require.NoError(t, fs.Init())
	return fs, root
}

func TestOpenFileAndSave(t *testing.T) {
	fs, root := newRemoteDir(t)
	touch(t, root, "etc/app.conf", "port = 80\n")
	ctx := context.Background()

	fb, err := OpenFile(ctx, fs, "/etc/app.conf", 0)
	require.NoError(t, err)
	assert.Equal(t, "port = 80\n", fb.Content())
	assert.False(t, fb.Dirty())

	fb.SetContent("port = 80\n")
	assert.False(t, fb.Dirty(), "unchanged content is not dirty")

	fb.SetContent("port = 8080\n")
	assert.True(t, fb.Dirty())

	require.NoError(t, fb.Save(ctx))
	assert.False(t, fb.Dirty())

	data, err := os.ReadFile(filepath.Join(root, "etc", "app.conf"))
	require.NoError(t, err)
	assert.Equal(t, "port = 8080\n", string(data))
}

func TestOpenFileRefusals(t *testing.T) {
	fs, root := newRemoteDir(t)
	touch(t, root, "big.log", strings.Repeat("x", 64))
	touch(t, root, "blob.bin", "ELF\x00\x01")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))
	ctx := context.Background()

	_, err := OpenFile(ctx, fs, "/big.log", 32)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = OpenFile(ctx, fs, "/big.log", 64)
	assert.NoError(t, err, "exactly at the limit is allowed")

	_, err = OpenFile(ctx, fs, "/blob.bin", 0)
	assert.ErrorIs(t, err, ErrBinary)

	_, err = OpenFile(ctx, fs, "/dir", 0)
	assert.ErrorIs(t, err, ErrIsDirectory)

	_, err = OpenFile(ctx, fs, "/missing", 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenFileReplacesInvalidUTF8(t *testing.T) {
	fs, root := newRemoteDir(t)
	touch(t, root, "latin1.txt", "caf\xe9\n")

	fb, err := OpenFile(context.Background(), fs, "/latin1.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "caf\uFFFD\n", fb.Content())
}

func TestSaveWithoutFile(t *testing.T) {
	var fb *FileBuffer
	assert.ErrorIs(t, fb.Save(context.Background()), ErrNoOpenFile)
}
