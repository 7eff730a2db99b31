package core

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshdeck/protocols"
)

// gatedFS holds every Open until the gate is closed and counts opens.
type gatedFS struct {
	protocols.FileSystem
	gate  chan struct{}
	opens atomic.Int32
}

func (g *gatedFS) Open(p string) (io.ReadCloser, error) {
	g.opens.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	return g.FileSystem.Open(p)
}

func writeLocal(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func answer(v bool, asked *[]string) OverwriteFunc {
	return func(name string) bool {
		*asked = append(*asked, name)
		return v
	}
}

func TestUpload(t *testing.T) {
	remote, remoteRoot := newRemoteDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(remoteRoot, "srv"), 0o755))
	localDir := t.TempDir()
	src := writeLocal(t, localDir, "app.tar", "payload")

	tr := NewTransfers(remote, nil)
	res, err := tr.Upload(context.Background(), src, "/srv", nil)
	require.NoError(t, err)
	assert.Equal(t, "upload", res.Direction)
	assert.Equal(t, "/srv/app.tar", res.Dest)
	assert.Equal(t, int64(7), res.Bytes)
	assert.False(t, tr.Busy())

	data, err := os.ReadFile(filepath.Join(remoteRoot, "srv", "app.tar"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestUploadOverwritePrompt(t *testing.T) {
	remote, remoteRoot := newRemoteDir(t)
	touch(t, remoteRoot, "srv/app.tar", "old")
	src := writeLocal(t, t.TempDir(), "app.tar", "new")
	tr := NewTransfers(remote, nil)

	var asked []string
	_, err := tr.Upload(context.Background(), src, "/srv", answer(false, &asked))
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Equal(t, []string{"app.tar"}, asked)
	data, _ := os.ReadFile(filepath.Join(remoteRoot, "srv", "app.tar"))
	assert.Equal(t, "old", string(data))

	_, err = tr.Upload(context.Background(), src, "/srv", nil)
	assert.ErrorIs(t, err, ErrDeclined, "no prompt means no overwrite")

	_, err = tr.Upload(context.Background(), src, "/srv", answer(true, &asked))
	require.NoError(t, err)
	data, _ = os.ReadFile(filepath.Join(remoteRoot, "srv", "app.tar"))
	assert.Equal(t, "new", string(data))
}

func TestUploadDirectoryCollisionSendsNothing(t *testing.T) {
	remote, remoteRoot := newRemoteDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(remoteRoot, "srv", "report.txt"), 0o755))
	src := writeLocal(t, t.TempDir(), "report.txt", "data")

	local := &gatedFS{FileSystem: &protocols.LocalFileSystem{}}
	tr := NewTransfers(remote, local)

	var asked []string
	_, err := tr.Upload(context.Background(), src, "/srv", answer(true, &asked))

	var cerr *CollisionError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.True(t, cerr.IsDir)
	assert.Equal(t, "/srv/report.txt", cerr.Path)
	assert.Empty(t, asked)
	assert.Equal(t, int32(0), local.opens.Load(), "no byte may be read")
}

func TestUploadRejectsDirectorySource(t *testing.T) {
	remote, _ := newRemoteDir(t)
	tr := NewTransfers(remote, nil)
	_, err := tr.Upload(context.Background(), t.TempDir(), "/", nil)
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestSecondTransferWhileBusy(t *testing.T) {
	remote, remoteRoot := newRemoteDir(t)
	localDir := t.TempDir()
	first := writeLocal(t, localDir, "first.bin", "first-payload")
	second := writeLocal(t, localDir, "second.bin", "second")

	local := &gatedFS{FileSystem: &protocols.LocalFileSystem{}, gate: make(chan struct{})}
	tr := NewTransfers(remote, local)

	outcome := tr.Go(context.Background(), func(ctx context.Context) (*TransferResult, error) {
		return tr.Upload(ctx, first, "/", nil)
	})

	require.Eventually(t, func() bool { return local.opens.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, tr.Busy())

	_, err := tr.Upload(context.Background(), second, "/", nil)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = tr.Download(context.Background(), "/first.bin", localDir, nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(local.gate)
	out := <-outcome
	require.NoError(t, out.Err)
	assert.Equal(t, int64(len("first-payload")), out.Result.Bytes)
	assert.False(t, tr.Busy())

	_, ok := <-outcome
	assert.False(t, ok, "outcome channel is closed after delivery")

	data, err := os.ReadFile(filepath.Join(remoteRoot, "first.bin"))
	require.NoError(t, err)
	assert.Equal(t, "first-payload", string(data))
	_, err = os.Stat(filepath.Join(remoteRoot, "second.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownload(t *testing.T) {
	remote, remoteRoot := newRemoteDir(t)
	touch(t, remoteRoot, "var/log/app.log", "line1\nline2\n")
	localDir := t.TempDir()
	tr := NewTransfers(remote, nil)
	ctx := context.Background()

	res, err := tr.Download(ctx, "/var/log/app.log", localDir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(filepath.Join(localDir, "app.log")), res.Dest)
	data, err := os.ReadFile(filepath.Join(localDir, "app.log"))
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(data))

	var asked []string
	_, err = tr.Download(ctx, "/var/log/app.log", filepath.Join(localDir, "app.log"), answer(false, &asked))
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Equal(t, []string{"app.log"}, asked)

	renamed := filepath.Join(localDir, "copy.log")
	_, err = tr.Download(ctx, "/var/log/app.log", renamed, nil)
	require.NoError(t, err)
	data, err = os.ReadFile(renamed)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(data))

	_, err = tr.Download(ctx, "/var/log", localDir, nil)
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestDownloadDirectoryCollision(t *testing.T) {
	remote, remoteRoot := newRemoteDir(t)
	touch(t, remoteRoot, "data.csv", "a,b\n")
	localDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(localDir, "data.csv"), 0o755))

	tr := NewTransfers(remote, nil)
	_, err := tr.Download(context.Background(), "/data.csv", localDir, nil)

	var cerr *CollisionError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.True(t, cerr.IsDir)
}

func TestTransferCancelled(t *testing.T) {
	remote, _ := newRemoteDir(t)
	src := writeLocal(t, t.TempDir(), "x.bin", "payload")
	tr := NewTransfers(remote, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Upload(ctx, src, "/", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, tr.Busy())
}
