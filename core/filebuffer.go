package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"sshdeck/logging"
	"sshdeck/protocols"
)

const DefaultMaxOpenBytes int64 = 2_000_000

// FileBuffer is a remote text file held in memory for viewing and editing.
// It is safe to Save from one goroutine while another reads or edits.
type FileBuffer struct {
	Path string
	fs   protocols.FileSystem

	mu      sync.Mutex
	content string
	dirty   bool
}

// OpenFile reads a remote text file. Files over maxBytes, directories and
// anything containing a NUL byte are refused.
func OpenFile(ctx context.Context, fs protocols.FileSystem, p string, maxBytes int64) (*FileBuffer, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOpenBytes
	}
	st, err := fs.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if st.IsDir {
		return nil, fmt.Errorf("%s: %w", p, ErrIsDirectory)
	}
	if st.Size > maxBytes {
		return nil, fmt.Errorf("%s (%d bytes): %w", p, st.Size, ErrTooLarge)
	}

	r, err := fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer r.Close()

	// The size may have grown since Stat.
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%s: %w", p, ErrTooLarge)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, fmt.Errorf("%s: %w", p, ErrBinary)
	}

	logging.Debug("opened remote file", logging.Path(p), logging.Int("bytes", len(data)))
	return &FileBuffer{
		Path:    p,
		content: strings.ToValidUTF8(string(data), "\uFFFD"),
		fs:      fs,
	}, nil
}

func (fb *FileBuffer) Content() string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.content
}

func (fb *FileBuffer) Dirty() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.dirty
}

// SetContent replaces the buffer text and marks it dirty if it changed.
func (fb *FileBuffer) SetContent(s string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if s == fb.content {
		return
	}
	fb.content = s
	fb.dirty = true
}

// Save writes the whole buffer back to the remote path. Edits made while the
// write is in flight leave the buffer dirty.
func (fb *FileBuffer) Save(ctx context.Context) error {
	if fb == nil || fb.fs == nil {
		return ErrNoOpenFile
	}
	content := fb.Content()

	w, err := fb.fs.Create(fb.Path)
	if err != nil {
		return fmt.Errorf("create %s: %w", fb.Path, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", fb.Path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", fb.Path, err)
	}

	fb.mu.Lock()
	if fb.content == content {
		fb.dirty = false
	}
	fb.mu.Unlock()
	logging.Info("saved remote file", logging.Path(fb.Path), logging.Int("bytes", len(content)))
	return nil
}
