package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"sshdeck/logging"
	"sshdeck/protocols"
)

// OverwriteFunc is asked before an existing file is replaced. Returning false
// aborts the transfer with ErrDeclined.
type OverwriteFunc func(name string) bool

type TransferResult struct {
	Direction string // upload, download
	Source    string
	Dest      string
	Bytes     int64
	Elapsed   time.Duration
}

type TransferOutcome struct {
	Result *TransferResult
	Err    error
}

// Transfers moves single files between the local disk and the remote side.
// At most one transfer runs at a time.
type Transfers struct {
	remote protocols.FileSystem
	local  protocols.FileSystem
	busy   atomic.Bool
}

// NewTransfers pairs a remote file system with the local one. A nil local
// side means the host file system addressed by absolute paths.
func NewTransfers(remote, local protocols.FileSystem) *Transfers {
	if local == nil {
		local = &protocols.LocalFileSystem{}
	}
	return &Transfers{remote: remote, local: local}
}

func (t *Transfers) Busy() bool {
	return t.busy.Load()
}

func (t *Transfers) acquire() error {
	if !t.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

// Upload copies a local file into remoteDir under its own name.
func (t *Transfers) Upload(ctx context.Context, localPath, remoteDir string, confirm OverwriteFunc) (*TransferResult, error) {
	if err := t.acquire(); err != nil {
		return nil, err
	}
	defer t.busy.Store(false)

	localPath = filepath.ToSlash(localPath)
	src, err := t.local.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if src.IsDir {
		return nil, fmt.Errorf("%s: %w", localPath, ErrIsDirectory)
	}

	name := path.Base(localPath)
	dest := path.Join(CleanPath(remoteDir), name)
	if err := checkCollision(t.remote, dest, name, confirm); err != nil {
		return nil, err
	}
	return t.run(ctx, "upload", t.local, t.remote, localPath, dest)
}

// Download copies a remote file to localPath. When localPath is an existing
// directory the file keeps its remote name.
func (t *Transfers) Download(ctx context.Context, remotePath, localPath string, confirm OverwriteFunc) (*TransferResult, error) {
	if err := t.acquire(); err != nil {
		return nil, err
	}
	defer t.busy.Store(false)

	remotePath = CleanPath(remotePath)
	src, err := t.remote.Stat(remotePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	if src.IsDir {
		return nil, fmt.Errorf("%s: %w", remotePath, ErrIsDirectory)
	}

	name := path.Base(remotePath)
	dest := filepath.ToSlash(localPath)
	if dest == "" {
		dest = name
	}
	if st, err := os.Stat(filepath.FromSlash(dest)); err == nil && st.IsDir() {
		dest = path.Join(dest, name)
	}
	if err := checkCollision(t.local, dest, path.Base(dest), confirm); err != nil {
		return nil, err
	}
	return t.run(ctx, "download", t.remote, t.local, remotePath, dest)
}

// Go runs fn in the background and delivers its outcome on the returned
// channel, which is closed afterwards.
func (t *Transfers) Go(ctx context.Context, fn func(ctx context.Context) (*TransferResult, error)) <-chan TransferOutcome {
	ch := make(chan TransferOutcome, 1)
	go func() {
		defer close(ch)
		res, err := fn(ctx)
		ch <- TransferOutcome{Result: res, Err: err}
	}()
	return ch
}

// checkCollision rejects a directory at dest and asks before replacing a file.
func checkCollision(fs protocols.FileSystem, dest, name string, confirm OverwriteFunc) error {
	st, err := fs.Stat(dest)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", dest, err)
	}
	if st.IsDir {
		return &CollisionError{Path: dest, IsDir: true}
	}
	if confirm == nil || !confirm(name) {
		return ErrDeclined
	}
	return nil
}

func (t *Transfers) run(ctx context.Context, direction string, srcFS, dstFS protocols.FileSystem, src, dst string) (*TransferResult, error) {
	start := time.Now()
	logging.Info("transfer started", logging.String("direction", direction), logging.String("src", src), logging.String("dst", dst))

	n, err := copyFile(ctx, srcFS, dstFS, src, dst)
	if err != nil {
		logging.Warn("transfer failed", logging.String("direction", direction), logging.String("src", src), logging.Err(err))
		return nil, fmt.Errorf("%s %s: %w", direction, src, err)
	}

	res := &TransferResult{Direction: direction, Source: src, Dest: dst, Bytes: n, Elapsed: time.Since(start)}
	logging.Info("transfer finished",
		logging.String("direction", direction),
		logging.String("dst", dst),
		logging.Int64("bytes", n),
		logging.Duration("elapsed", res.Elapsed))
	return res, nil
}

func copyFile(ctx context.Context, srcFS, dstFS protocols.FileSystem, src, dst string) (int64, error) {
	parentDir := path.Dir(dst)
	if parentDir != "." && parentDir != "/" {
		if err := dstFS.MkdirAll(parentDir); err != nil {
			return 0, fmt.Errorf("failed to mkdir %s: %w", parentDir, err)
		}
	}

	srcFile, err := srcFS.Open(src)
	if err != nil {
		return 0, err
	}
	defer srcFile.Close()

	dstFile, err := dstFS.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(dstFile, &ctxReader{ctx: ctx, r: srcFile})
	if cerr := dstFile.Close(); err == nil {
		err = cerr
	}
	return n, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
